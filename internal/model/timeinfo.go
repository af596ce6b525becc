// Package model implements the in-memory domain model: Database, Group,
// Entry, their timestamps, custom data, and deletion tombstones. Mutation
// always goes through the owning container (Group.AddEntry,
// Group.SetParentOfEntry, ...) so invariants like "every reachable Group/Entry
// points back at this Database" and "a Group may not be its own ancestor"
// can't be violated by construction.
package model

import "time"

// TimeInfo tracks an entity's lifecycle timestamps. LocationChanged
// advances whenever the entity's parent changes, which the merge engine
// uses to decide which replica's re-parenting wins a conflict.
type TimeInfo struct {
	CreationTime     time.Time
	LastModification time.Time
	LastAccess       time.Time
	ExpiryTime       time.Time
	Expires          bool
	UsageCount       uint32
	LocationChanged  time.Time
}

// NewTimeInfo returns a TimeInfo with every timestamp set to now.
func NewTimeInfo(now time.Time) TimeInfo {
	return TimeInfo{
		CreationTime:     now,
		LastModification: now,
		LastAccess:       now,
		LocationChanged:  now,
	}
}

// Touch updates LastModification (and, unless onlyModified, LastAccess) to
// now.
func (t *TimeInfo) Touch(now time.Time, onlyModified bool) {
	t.LastModification = now
	if !onlyModified {
		t.LastAccess = now
	}
}

// IsExpired reports whether Expires is set and ExpiryTime has passed as of
// now.
func (t TimeInfo) IsExpired(now time.Time) bool {
	return t.Expires && now.After(t.ExpiryTime)
}
