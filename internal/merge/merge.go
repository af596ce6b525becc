// Package merge implements the three-way reconciliation between a target
// database (mutated in place) and a read-only source database: group
// reconciliation by UUID and timestamp, entry reconciliation per the
// target group's merge mode, tombstone application, and custom-data/
// metadata union. Both databases are assumed unlocked and already
// resolved against their own credentials; merge itself touches no
// ciphertext.
package merge

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"vaultkeep/internal/audit"
	"vaultkeep/internal/model"
)

// Summary reports what a Merge call actually did: counts for the
// collaborator's UI, plus the hash-chained decision trail backing them,
// so a caller can both show "3 entries merged, 1 tombstone applied" and
// later confirm that record wasn't altered after the fact.
type Summary struct {
	GroupsAdded       int
	EntriesAdded      int
	EntriesReconciled int
	EntriesDuplicated int
	TombstonesApplied int
	Log               *audit.Log
}

// Merge reconciles target with source per the algorithm: group
// reconciliation, entry reconciliation by merge mode, tombstone
// application (never resurrecting a tombstoned UUID, even under
// Duplicate), then custom-data and metadata reconciliation. now stamps
// the audit-log record of each group merge adds; every comparison, and
// every LocationChanged/DeletionTime value merge applies, comes from the
// two databases' own recorded timestamps.
// Merge never drops a tombstone or a history item except through the
// target's own bounded-history eviction.
//
// override, when not model.MergeDefault, replaces every group's resolved
// merge mode for the duration of this call — the top-level mode the
// external interface exposes alongside target/source. model.MergeDefault
// leaves each group's own ResolveMergeMode (and its Synchronize fallback)
// in force, which is what every collaborator call should pass absent an
// explicit user override.
func Merge(target, source *model.Database, now time.Time, override model.MergeMode) *Summary {
	target.SetEmitModified(false)
	defer target.SetEmitModified(true)

	log := audit.New()
	s := &Summary{Log: log}

	bySourceUUID := map[uuid.UUID]*model.Group{source.Root().UUID: target.Root()}
	reconcileGroups(source.Root(), target.Root(), bySourceUUID, now, s)
	reparentGroups(source.Root(), bySourceUUID)
	reconcileEntries(target, source, bySourceUUID, override, s)

	applyTombstones(target, source, s)
	mergeTombstoneLists(target, source)
	mergeMetadata(&target.Metadata, &source.Metadata)

	target.NotifyModifiedImmediate()
	return s
}

// reconcileGroups walks srcParent's children, creating any child absent
// (and not tombstoned) from target under tgtParent, or reconciling
// scalar fields by last-modification if already present, and records the
// source-UUID-to-target-group mapping reparentGroups and
// reconcileEntries need. It does not move an existing target group to a
// new parent — that is reparentGroups' job, run as a second pass once
// every group this merge touches has a known target-side counterpart.
func reconcileGroups(srcParent, tgtParent *model.Group, bySourceUUID map[uuid.UUID]*model.Group, now time.Time, s *Summary) {
	db := tgtParent.Database()
	for _, srcChild := range srcParent.Children() {
		tgtChild := tgtParent.Database().Root().FindGroupByUUID(srcChild.UUID)
		if tgtChild == nil {
			if db.ContainsDeletedObject(srcChild.UUID) {
				continue
			}
			tgtChild = srcChild.Clone(model.CloneNoFlags, now)
			_ = tgtParent.AddGroup(tgtChild)
			s.GroupsAdded++
			s.Log.Append(now, "group added: "+tgtChild.UUID.String())
		} else {
			mergeGroupFields(tgtChild, srcChild)
		}
		bySourceUUID[srcChild.UUID] = tgtChild
		reconcileGroups(srcChild, tgtChild, bySourceUUID, now, s)
	}
}

// mergeGroupFields applies src's scalar fields to tgt if src is the
// newer side, and unions their CustomData maps.
func mergeGroupFields(tgt, src *model.Group) {
	srcNewer := src.Time.LastModification.After(tgt.Time.LastModification)
	if srcNewer {
		tgt.Name = src.Name
		tgt.Notes = src.Notes
		tgt.IconNumber = src.IconNumber
		tgt.CustomIcon = src.CustomIcon
		tgt.IsExpanded = src.IsExpanded
		tgt.DefaultAutoTypeSequence = src.DefaultAutoTypeSequence
		tgt.AutoTypeEnabled = src.AutoTypeEnabled
		tgt.SearchingEnabled = src.SearchingEnabled
		tgt.InheritEnabled = src.InheritEnabled
		tgt.MergeModePref = src.MergeModePref
		tgt.Time.LastModification = src.Time.LastModification
	}
	mergeCustomDataMap(tgt.CustomData, src.CustomData, srcNewer)
}

// reparentGroups applies spec's "if location-changed differs, the side
// with the newer value wins the parent" rule, run once every group in
// srcParent's subtree has a target-side counterpart in bySourceUUID.
func reparentGroups(srcParent *model.Group, bySourceUUID map[uuid.UUID]*model.Group) {
	for _, srcChild := range srcParent.Children() {
		tgtChild := bySourceUUID[srcChild.UUID]
		if tgtChild == nil {
			continue
		}
		desiredParent := bySourceUUID[srcChild.Parent().UUID]
		if desiredParent != nil && tgtChild.Parent() != desiredParent &&
			srcChild.Time.LocationChanged.After(tgtChild.Time.LocationChanged) {
			_ = desiredParent.SetParentOfGroup(tgtChild, srcChild.Time.LocationChanged)
		}
		reparentGroups(srcChild, bySourceUUID)
	}
}

// reconcileEntries walks every group in source (now mirrored into
// bySourceUUID) and reconciles its entries against target, per the
// target group's resolved merge mode.
func reconcileEntries(target, source *model.Database, bySourceUUID map[uuid.UUID]*model.Group, override model.MergeMode, s *Summary) {
	for _, srcGroup := range source.Root().GroupsRecursive(true) {
		tgtGroup := bySourceUUID[srcGroup.UUID]
		if tgtGroup == nil {
			continue
		}
		for _, srcEntry := range srcGroup.Entries() {
			tgtEntry := target.Root().FindEntryByUUID(srcEntry.UUID)
			if tgtEntry == nil {
				if target.ContainsDeletedObject(srcEntry.UUID) {
					continue
				}
				clone := srcEntry.Clone(false)
				_ = tgtGroup.AddEntry(clone)
				s.EntriesAdded++
				s.Log.Append(srcEntry.Time.LastModification, "entry added: "+clone.UUID.String())
				continue
			}
			mode := tgtGroup.ResolveMergeMode()
			if override != model.MergeDefault {
				mode = override
			}
			mergeEntry(target, tgtEntry, srcEntry, mode, bySourceUUID, s)
		}
	}
}

func mergeEntry(target *model.Database, tgt, src *model.Entry, mode model.MergeMode, bySourceUUID map[uuid.UUID]*model.Group, s *Summary) {
	s.EntriesReconciled++
	switch mode {
	case model.MergeKeepLocal:
		mergeKeepLocal(target, tgt, src)
		s.Log.Append(src.Time.LastModification, "entry kept local: "+tgt.UUID.String())
	case model.MergeKeepRemote:
		overwriteEntry(target, tgt, src, bySourceUUID)
		s.Log.Append(src.Time.LastModification, "entry overwritten from source: "+tgt.UUID.String())
	case model.MergeKeepNewer:
		if src.Time.LastModification.After(tgt.Time.LastModification) {
			overwriteEntry(target, tgt, src, bySourceUUID)
			s.Log.Append(src.Time.LastModification, "entry overwritten (newer source): "+tgt.UUID.String())
		} else {
			s.Log.Append(src.Time.LastModification, "entry kept (source not newer): "+tgt.UUID.String())
		}
	case model.MergeDuplicate:
		if mergeDuplicate(target, tgt, src, bySourceUUID) {
			s.EntriesDuplicated++
			s.Log.Append(src.Time.LastModification, "entry duplicated: "+tgt.UUID.String())
		} else {
			s.Log.Append(src.Time.LastModification, "entry not duplicated: "+tgt.UUID.String())
		}
	default: // MergeSynchronize, and MergeDefault already resolved to it
		mergeSynchronize(target, tgt, src, bySourceUUID)
		s.Log.Append(src.Time.LastModification, "entry synchronized: "+tgt.UUID.String())
	}
}

// mergeKeepLocal preserves tgt's live state, appending src as a history
// snapshot only if src is newer than every history item tgt already has
// and isn't a content-identical duplicate of one.
func mergeKeepLocal(target *model.Database, tgt, src *model.Entry) {
	if entryContentEqual(tgt, src) {
		return
	}
	newest := tgt.Time.LastModification
	for _, h := range tgt.History {
		if h.Time.LastModification.After(newest) {
			newest = h.Time.LastModification
		}
	}
	if !src.Time.LastModification.After(newest) {
		return
	}
	for _, h := range tgt.History {
		if entryContentEqual(h, src) {
			return
		}
	}
	tgt.PushHistory(src.Clone(false), &target.Metadata)
}

// overwriteEntry replaces tgt's live fields with src's, pushing tgt's
// former state to history first, and moves tgt to src's corresponding
// target-side parent group if it differs.
func overwriteEntry(target *model.Database, tgt, src *model.Entry, bySourceUUID map[uuid.UUID]*model.Group) {
	if !entryContentEqual(tgt, src) {
		tgt.PushHistory(tgt.Clone(false), &target.Metadata)
	}
	copyEntryFields(tgt, src)
	moveEntryToSourceParent(tgt, src, bySourceUUID)
}

// mergeDuplicate keeps tgt untouched and, on a content conflict, clones
// src as a brand-new entry inserted into tgt's group. Reports whether it
// actually inserted a duplicate.
func mergeDuplicate(target *model.Database, tgt, src *model.Entry, bySourceUUID map[uuid.UUID]*model.Group) bool {
	if entryContentEqual(tgt, src) {
		return false
	}
	clone := src.Clone(true)
	group := tgt.Group()
	if group == nil {
		return false
	}
	_ = group.AddEntry(clone)
	return true
}

// mergeSynchronize merges tgt's and src's full state (live value plus
// history) into one deduplicated timeline, makes the newest snapshot the
// live value, and re-parents tgt if src's LocationChanged is newer.
func mergeSynchronize(target *model.Database, tgt, src *model.Entry, bySourceUUID map[uuid.UUID]*model.Group) {
	var candidates []*model.Entry
	candidates = append(candidates, tgt.Clone(false))
	candidates = append(candidates, tgt.History...)
	candidates = append(candidates, src.Clone(false))
	candidates = append(candidates, src.History...)

	deduped := dedupeEntrySnapshots(candidates)
	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].Time.LastModification.Before(deduped[j].Time.LastModification)
	})

	winner := deduped[len(deduped)-1]
	rest := deduped[:len(deduped)-1]

	copyEntryFields(tgt, winner)
	snapshots := make([]*model.Entry, 0, len(rest))
	for _, r := range rest {
		snapshots = append(snapshots, r.Clone(false))
	}
	tgt.ReplaceHistory(snapshots, &target.Metadata)

	moveEntryToSourceParent(tgt, src, bySourceUUID)
}

// moveEntryToSourceParent re-parents tgt under src's corresponding
// target-side group if src's LocationChanged is the newer of the two.
func moveEntryToSourceParent(tgt, src *model.Entry, bySourceUUID map[uuid.UUID]*model.Group) {
	if src.Group() == nil {
		return
	}
	desiredParent := bySourceUUID[src.Group().UUID]
	if desiredParent == nil || tgt.Group() == desiredParent {
		return
	}
	if src.Time.LocationChanged.After(tgt.Time.LocationChanged) {
		_ = desiredParent.SetParentOfEntry(tgt, src.Time.LocationChanged)
	}
}

// copyEntryFields overwrites dst's live fields (not History, not
// UUID/parent/db) with src's.
func copyEntryFields(dst, src *model.Entry) {
	dst.Attributes = make(map[string]model.Attribute, len(src.Attributes))
	for k, v := range src.Attributes {
		dst.Attributes[k] = v
	}
	dst.Attachments = make(map[string]model.Attachment, len(src.Attachments))
	for k, v := range src.Attachments {
		dst.Attachments[k] = v
	}
	dst.AutoType = append([]model.AutoTypeAssociation(nil), src.AutoType...)
	dst.Tags = append([]string(nil), src.Tags...)
	dst.IconNumber = src.IconNumber
	dst.CustomIcon = src.CustomIcon
	dst.Time.LastModification = src.Time.LastModification
	dst.Time.LastAccess = src.Time.LastAccess
	dst.Time.Expires = src.Time.Expires
	dst.Time.ExpiryTime = src.Time.ExpiryTime
	dst.Time.UsageCount = src.Time.UsageCount
	mergeCustomDataMap(dst.CustomData, src.CustomData, true)
}

// entryContentEqual reports whether a and b carry the same attributes
// and attachments, ignoring timestamps — the "identical snapshot" test
// spec.md's Synchronize/KeepLocal rules rely on.
func entryContentEqual(a, b *model.Entry) bool {
	return a.Equals(b)
}

// dedupeEntrySnapshots collapses content-identical snapshots, keeping
// the one with the earliest LastModification seen for each distinct
// content (the rest carry no information a merge needs).
func dedupeEntrySnapshots(candidates []*model.Entry) []*model.Entry {
	var out []*model.Entry
	for _, c := range candidates {
		dup := false
		for _, existing := range out {
			if entryContentEqual(existing, c) {
				dup = true
				if c.Time.LastModification.Before(existing.Time.LastModification) {
					existing.Time.LastModification = c.Time.LastModification
				}
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// applyTombstones permanently deletes, in target, any live entity whose
// UUID carries a source tombstone newer than the entity's own
// last-modification. An entity target has already deleted (or never
// had) is left alone — there is nothing left to tombstone twice.
func applyTombstones(target, source *model.Database, s *Summary) {
	for _, d := range source.DeletedObjects {
		if e := target.Root().FindEntryByUUID(d.UUID); e != nil {
			if d.DeletionTime.After(e.Time.LastModification) {
				target.DeleteEntry(e, d.DeletionTime)
				s.TombstonesApplied++
				s.Log.Append(d.DeletionTime, "tombstone applied to entry: "+d.UUID.String())
			}
			continue
		}
		if g := target.Root().FindGroupByUUID(d.UUID); g != nil && g != target.Root() {
			if d.DeletionTime.After(g.Time.LastModification) {
				target.DeleteGroup(g, d.DeletionTime)
				s.TombstonesApplied++
				s.Log.Append(d.DeletionTime, "tombstone applied to group: "+d.UUID.String())
			}
		}
	}
}

// mergeTombstoneLists unions source's tombstones into target's,
// Database.AddDeletedObject already keeping the newer DeletionTime per
// UUID.
func mergeTombstoneLists(target, source *model.Database) {
	for _, d := range source.DeletedObjects {
		target.AddDeletedObject(d.UUID, d.DeletionTime)
	}
}

// mergeMetadata reconciles target's database-wide Metadata against
// source's, field group by field group, each gated on its own
// last-changed timestamp, plus a CustomData union.
func mergeMetadata(target, source *model.Metadata) {
	nameNewer := source.NameChanged.After(target.NameChanged)
	if nameNewer {
		target.Name = source.Name
		target.NameChanged = source.NameChanged
	}
	if source.DescChanged.After(target.DescChanged) {
		target.Description = source.Description
		target.DescChanged = source.DescChanged
	}
	if source.DefaultUserNameChanged.After(target.DefaultUserNameChanged) {
		target.DefaultUserName = source.DefaultUserName
		target.DefaultUserNameChanged = source.DefaultUserNameChanged
	}
	if source.MasterKeyChanged.After(target.MasterKeyChanged) {
		target.MasterKeyChanged = source.MasterKeyChanged
		target.MasterKeyChangeRec = source.MasterKeyChangeRec
		target.MasterKeyChangeForce = source.MasterKeyChangeForce
	}
	if source.RecycleBinChanged.After(target.RecycleBinChanged) {
		target.RecycleBinEnabled = source.RecycleBinEnabled
		target.RecycleBinUUID = source.RecycleBinUUID
		target.RecycleBinChanged = source.RecycleBinChanged
	}
	if source.EntryTemplatesGroupChanged.After(target.EntryTemplatesGroupChanged) {
		target.EntryTemplatesGroup = source.EntryTemplatesGroup
		target.EntryTemplatesGroupChanged = source.EntryTemplatesGroupChanged
	}
	mergeCustomDataMap(target.CustomData, source.CustomData, nameNewer)
}

// mergeCustomDataMap unions source into target in place. A key present
// on both sides is resolved by the newer LastModified timestamp where
// both carry one; if only one side has a timestamp, the timestamped
// value wins; if neither does, sourceWinsOnTie breaks the tie. Callers
// pass whether the source group is newer (groups), whether the source
// name changed later (metadata), or true when copying an entry's fields,
// which happens under KeepRemote, KeepNewer with a newer source, and
// Synchronize. A key whose target value carries a timestamp and whose
// source value does not keeps the target value.
func mergeCustomDataMap(target, source model.CustomData, sourceWinsOnTie bool) {
	for k, sv := range source {
		tv, ok := target[k]
		if !ok {
			target[k] = sv
			continue
		}
		switch {
		case sv.LastModified != nil && tv.LastModified != nil:
			if sv.LastModified.After(*tv.LastModified) {
				target[k] = sv
			}
		case sv.LastModified != nil && tv.LastModified == nil:
			target[k] = sv
		case sv.LastModified == nil && tv.LastModified == nil:
			if sourceWinsOnTie {
				target[k] = sv
			}
		}
	}
}
