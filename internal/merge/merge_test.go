package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultkeep/internal/model"
)

// cloneDatabase produces an independent in-memory replica of db by
// round-tripping through Group.Clone with entries included, the way two
// "replicas of the same logical database" (spec.md §4.5) would diverge
// from a common ancestor before each receives its own edits.
func cloneDatabase(t *testing.T, db *model.Database, now time.Time) *model.Database {
	t.Helper()
	clone := model.NewDatabase(now)
	root := db.Root().Clone(model.CloneIncludeEntries, now)
	require.NoError(t, model.ReplaceRoot(clone, root))
	clone.Metadata = db.Metadata.Clone()
	for _, d := range db.DeletedObjects {
		clone.AddDeletedObject(d.UUID, d.DeletionTime)
	}
	return clone
}

func newEntryIn(t *testing.T, group *model.Group, now time.Time, title string) *model.Entry {
	t.Helper()
	e := model.NewEntry(now)
	e.SetAttr(model.AttrTitle, title)
	require.NoError(t, group.AddEntry(e))
	return e
}

// TestMergeSynchronizeNewerPasswordAndTitleWin covers spec.md §8 scenario
// 4: renaming in one replica and changing the password in the other both
// survive, with the newer field winning the live value and the loser
// demoted into history.
func TestMergeSynchronizeNewerPasswordAndTitleWin(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	common := model.NewDatabase(base)
	e := newEntryIn(t, common.Root(), base, "Bank")
	e.SetAttr(model.AttrPassword, "orig")

	a := cloneDatabase(t, common, base)
	b := cloneDatabase(t, common, base)

	t10 := base.Add(10 * time.Second)
	t11 := base.Add(11 * time.Second)

	aEntry := a.Root().FindEntryByUUID(e.UUID)
	aEntry.SetAttr(model.AttrTitle, "X")
	aEntry.Time.LastModification = t10

	bEntry := b.Root().FindEntryByUUID(e.UUID)
	bEntry.SetAttr(model.AttrPassword, "hunter2")
	bEntry.Time.LastModification = t11

	summary := Merge(a, b, base.Add(20*time.Second), model.MergeDefault)
	require.Equal(t, 1, summary.EntriesReconciled)
	ok, bad := summary.Log.Verify()
	require.True(t, ok)
	require.Equal(t, -1, bad)
	require.NotEmpty(t, summary.Log.Entries())

	merged := a.Root().FindEntryByUUID(e.UUID)
	require.Equal(t, "hunter2", merged.Attr(model.AttrPassword))
	require.Equal(t, t11, merged.Time.LastModification)

	foundTitleInHistory := false
	for _, h := range merged.History {
		if h.Attr(model.AttrTitle) == "X" {
			foundTitleInHistory = true
		}
	}
	require.True(t, foundTitleInHistory, "demoted title edit should survive in history")
}

// TestMergeTombstoneBeatsOlderModification covers spec.md §8 scenario 5:
// a permanent deletion at t20 in one replica beats a content edit at t15
// in the other; the entry stays deleted and the tombstone is preserved.
func TestMergeTombstoneBeatsOlderModification(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	common := model.NewDatabase(base)
	e := newEntryIn(t, common.Root(), base, "Bank")

	a := cloneDatabase(t, common, base)
	b := cloneDatabase(t, common, base)

	t15 := base.Add(15 * time.Second)
	t20 := base.Add(20 * time.Second)

	aEntry := a.Root().FindEntryByUUID(e.UUID)
	a.DeleteEntry(aEntry, t20)

	bEntry := b.Root().FindEntryByUUID(e.UUID)
	bEntry.SetAttr(model.AttrNotes, "edited")
	bEntry.Time.LastModification = t15

	Merge(a, b, base.Add(30*time.Second), model.MergeDefault)

	require.Nil(t, a.Root().FindEntryByUUID(e.UUID))
	require.True(t, a.ContainsDeletedObject(e.UUID))
}

// TestMergeIdempotent covers spec.md §8's merge idempotence property:
// merging the same source twice produces the same result as merging it
// once.
func TestMergeIdempotent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	common := model.NewDatabase(base)
	e := newEntryIn(t, common.Root(), base, "Bank")
	e.SetAttr(model.AttrPassword, "orig")

	a := cloneDatabase(t, common, base)
	b := cloneDatabase(t, common, base)
	bEntry := b.Root().FindEntryByUUID(e.UUID)
	bEntry.SetAttr(model.AttrPassword, "hunter2")
	bEntry.Time.LastModification = base.Add(5 * time.Second)

	once := cloneDatabase(t, a, base)
	Merge(once, b, base.Add(10*time.Second), model.MergeDefault)

	twice := cloneDatabase(t, a, base)
	Merge(twice, b, base.Add(10*time.Second), model.MergeDefault)
	Merge(twice, b, base.Add(10*time.Second), model.MergeDefault)

	onceEntry := once.Root().FindEntryByUUID(e.UUID)
	twiceEntry := twice.Root().FindEntryByUUID(e.UUID)
	require.True(t, onceEntry.Equals(twiceEntry))
	require.Equal(t, len(onceEntry.History), len(twiceEntry.History))
	require.ElementsMatch(t, once.DeletedObjects, twice.DeletedObjects)
}

// TestMergeSynchronizeCommutative covers spec.md §8's commutativity
// property under Synchronize mode: merging A with B and B with A converge
// on the same live field values and tombstone set.
func TestMergeSynchronizeCommutative(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	common := model.NewDatabase(base)
	e := newEntryIn(t, common.Root(), base, "Bank")

	left := cloneDatabase(t, common, base)
	right := cloneDatabase(t, common, base)

	leftEntry := left.Root().FindEntryByUUID(e.UUID)
	leftEntry.SetAttr(model.AttrUserName, "alice")
	leftEntry.Time.LastModification = base.Add(3 * time.Second)

	rightEntry := right.Root().FindEntryByUUID(e.UUID)
	rightEntry.SetAttr(model.AttrUserName, "bob")
	rightEntry.Time.LastModification = base.Add(7 * time.Second)

	aThenB := cloneDatabase(t, left, base)
	Merge(aThenB, right, base.Add(10*time.Second), model.MergeDefault)

	bThenA := cloneDatabase(t, right, base)
	Merge(bThenA, left, base.Add(10*time.Second), model.MergeDefault)

	abEntry := aThenB.Root().FindEntryByUUID(e.UUID)
	baEntry := bThenA.Root().FindEntryByUUID(e.UUID)
	require.Equal(t, abEntry.Attr(model.AttrUserName), baEntry.Attr(model.AttrUserName))
	require.Equal(t, "bob", abEntry.Attr(model.AttrUserName), "newer LastModification must win regardless of merge direction")
}

// TestMergeDuplicateHonorsTombstone covers Open Question (b): a
// tombstoned target UUID is never resurrected as a Duplicate entry, even
// when the source side carries a newer copy.
func TestMergeDuplicateHonorsTombstone(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	common := model.NewDatabase(base)
	common.Root().MergeModePref = model.MergeDuplicate
	e := newEntryIn(t, common.Root(), base, "Bank")

	target := cloneDatabase(t, common, base)
	source := cloneDatabase(t, common, base)

	tEntry := target.Root().FindEntryByUUID(e.UUID)
	target.DeleteEntry(tEntry, base.Add(5*time.Second))

	sEntry := source.Root().FindEntryByUUID(e.UUID)
	sEntry.SetAttr(model.AttrNotes, "newer copy")
	sEntry.Time.LastModification = base.Add(10 * time.Second)

	Merge(target, source, base.Add(20*time.Second), model.MergeDefault)

	require.Nil(t, target.Root().FindEntryByUUID(e.UUID))
	entries := target.Root().EntriesRecursive(false)
	require.Empty(t, entries, "tombstoned entry must not be resurrected as a duplicate")
}

// TestMergeOverrideModeIgnoresGroupPreference covers the external
// interface's explicit mode parameter: passing MergeKeepLocal overrides
// a group's own Synchronize-by-default preference, so the source's edit
// never reaches the live value.
func TestMergeOverrideModeIgnoresGroupPreference(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	common := model.NewDatabase(base)
	e := newEntryIn(t, common.Root(), base, "Bank")
	e.SetAttr(model.AttrPassword, "orig")

	target := cloneDatabase(t, common, base)
	source := cloneDatabase(t, common, base)

	sEntry := source.Root().FindEntryByUUID(e.UUID)
	sEntry.SetAttr(model.AttrPassword, "hunter2")
	sEntry.Time.LastModification = base.Add(10 * time.Second)

	summary := Merge(target, source, base.Add(20*time.Second), model.MergeKeepLocal)
	require.Equal(t, 0, summary.EntriesAdded)

	merged := target.Root().FindEntryByUUID(e.UUID)
	require.Equal(t, "orig", merged.Attr(model.AttrPassword), "explicit KeepLocal override must beat the group's own Synchronize default")
}

// TestMergeEmptyRecycleBinTombstonesEveryDescendant covers spec.md §8's
// recycle semantics: emptying the recycle bin records one tombstone per
// descendant and leaves the bin itself in place but empty.
func TestMergeEmptyRecycleBinTombstonesEveryDescendant(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := model.NewDatabase(base)
	db.Metadata.RecycleBinEnabled = true

	e1 := newEntryIn(t, db.Root(), base, "A")
	e2 := newEntryIn(t, db.Root(), base, "B")

	db.RecycleEntry(e1, base)
	db.RecycleEntry(e2, base)

	bin := db.Root().FindGroupByUUID(db.Metadata.RecycleBinUUID)
	require.NotNil(t, bin)
	require.Len(t, bin.Entries(), 2)
	require.False(t, db.ContainsDeletedObject(e1.UUID))

	db.EmptyRecycleBin(base.Add(time.Second))

	require.True(t, db.ContainsDeletedObject(e1.UUID))
	require.True(t, db.ContainsDeletedObject(e2.UUID))
	require.Empty(t, bin.Entries())
	require.NotNil(t, db.Root().FindGroupByUUID(db.Metadata.RecycleBinUUID), "recycle bin group itself stays in place")
}
