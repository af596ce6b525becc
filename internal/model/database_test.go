package model

import (
	"testing"
	"time"
)

func TestDeleteEntryRecordsTombstone(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	e := NewEntry(now)
	if err := db.root.AddEntry(e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	db.DeleteEntry(e, now)
	if !db.ContainsDeletedObject(e.UUID) {
		t.Fatal("expected tombstone after DeleteEntry")
	}
	if db.root.FindEntryByUUID(e.UUID) != nil {
		t.Fatal("entry should no longer be reachable")
	}
}

func TestRecycleEntryThenDeletePermanently(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	e := NewEntry(now)
	if err := db.root.AddEntry(e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	db.RecycleEntry(e, now)
	if db.ContainsDeletedObject(e.UUID) {
		t.Fatal("first recycle must not record a tombstone")
	}
	bin := db.root.FindGroupByUUID(db.Metadata.RecycleBinUUID)
	if bin == nil || e.Group() != bin {
		t.Fatal("entry should now live in the recycle bin")
	}

	db.RecycleEntry(e, now)
	if !db.ContainsDeletedObject(e.UUID) {
		t.Fatal("recycling an already-recycled entry should delete permanently")
	}
}

func TestEmptyRecycleBinTombstonesEveryDescendant(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	e1 := NewEntry(now)
	e2 := NewEntry(now)
	if err := db.root.AddEntry(e1); err != nil {
		t.Fatalf("AddEntry e1: %v", err)
	}
	if err := db.root.AddEntry(e2); err != nil {
		t.Fatalf("AddEntry e2: %v", err)
	}
	db.RecycleEntry(e1, now)
	db.RecycleEntry(e2, now)

	db.EmptyRecycleBin(now)
	if !db.ContainsDeletedObject(e1.UUID) || !db.ContainsDeletedObject(e2.UUID) {
		t.Fatal("expected tombstones for every recycled entry")
	}
	bin := db.root.FindGroupByUUID(db.Metadata.RecycleBinUUID)
	if bin == nil {
		t.Fatal("recycle bin group itself should survive emptying")
	}
	if len(bin.Entries()) != 0 {
		t.Fatal("recycle bin should be empty")
	}
}

func TestAddDeletedObjectKeepsNewestTimestamp(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	e := NewEntry(now)
	db.AddDeletedObject(e.UUID, now)
	older := now.Add(-time.Hour)
	db.AddDeletedObject(e.UUID, older)

	for _, d := range db.DeletedObjects {
		if d.UUID == e.UUID && !d.DeletionTime.Equal(now) {
			t.Fatalf("expected newest deletion time to win, got %v", d.DeletionTime)
		}
	}
}

type recordingObserver struct {
	kinds []NotificationKind
}

func (r *recordingObserver) OnNotify(n Notification) { r.kinds = append(r.kinds, n.Kind) }

func TestObserverSeesStructuralNotifications(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	obs := &recordingObserver{}
	db.Observe(obs)

	e := NewEntry(now)
	if err := db.root.AddEntry(e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	want := []NotificationKind{EntryAboutToAdd, EntryAdded, Modified}
	if len(obs.kinds) != len(want) {
		t.Fatalf("got %v notifications, want %v", obs.kinds, want)
	}
	for i, k := range want {
		if obs.kinds[i] != k {
			t.Fatalf("notification %d: got %v want %v", i, obs.kinds[i], k)
		}
	}
}

func TestModifiedIsDebounced(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	obs := &recordingObserver{}
	db.Observe(obs)

	a := NewEntry(now)
	b := NewEntry(now)
	if err := db.root.AddEntry(a); err != nil {
		t.Fatalf("AddEntry a: %v", err)
	}
	if err := db.root.AddEntry(b); err != nil {
		t.Fatalf("AddEntry b: %v", err)
	}

	modifiedCount := 0
	for _, k := range obs.kinds {
		if k == Modified {
			modifiedCount++
		}
	}
	if modifiedCount != 1 {
		t.Fatalf("expected a single coalesced Modified within the debounce window, got %d", modifiedCount)
	}

	db.FlushModified()
	modifiedCount = 0
	for _, k := range obs.kinds {
		if k == Modified {
			modifiedCount++
		}
	}
	if modifiedCount != 2 {
		t.Fatalf("expected FlushModified to raise the pending event, got %d total Modified", modifiedCount)
	}
}

func TestSetEmitModifiedMutesNotifications(t *testing.T) {
	now := time.Now()
	db := NewDatabase(now)
	obs := &recordingObserver{}
	db.Observe(obs)
	db.SetEmitModified(false)

	e := NewEntry(now)
	if err := db.root.AddEntry(e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	for _, k := range obs.kinds {
		if k == Modified {
			t.Fatal("expected no Modified notification while emit is disabled")
		}
	}
}
