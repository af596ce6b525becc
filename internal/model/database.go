package model

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultkeep/internal/ckey"
	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/errs"
)

// DatabaseData holds the container-format parameters and secrets a Database
// needs to re-save itself without prompting for credentials again: cipher,
// compression, KDF parameters, the composite key (if still resident), the
// cached transformed master key, the file's master seed, an optional
// challenge-response contribution, and the public custom-data blob that
// travels in the outer header.
type DatabaseData struct {
	Cipher          cryptoprim.CipherID
	CompressionGzip bool

	CompositeKey *ckey.CompositeKey

	// TransformedMasterKey is the cached KDF output. It is zeroed whenever
	// the database's credentials change.
	TransformedMasterKey [32]byte
	HasTransformedKey    bool

	MasterSeed [32]byte

	ChallengeResponseKey []byte

	PublicCustomData map[string][]byte
}

// Zero wipes the secret-bearing fields of d in place.
func (d *DatabaseData) Zero() {
	cryptoprim.Zero32(&d.TransformedMasterKey)
	d.HasTransformedKey = false
	cryptoprim.Zero32(&d.MasterSeed)
	cryptoprim.Zero(d.ChallengeResponseKey)
}

// Database is the root of the in-memory domain model: exactly one root
// Group, database-wide Metadata, a tombstone list for permanently deleted
// objects, and the container parameters needed to re-encrypt itself. A
// process-unique Identity distinguishes Database instances that otherwise
// carry identical content (two in-memory replicas being merged, say).
type Database struct {
	Identity uuid.UUID

	Metadata Metadata
	Data     DatabaseData

	DeletedObjects []DeletedObject

	root *Group

	mu sync.Mutex

	emitModified    bool
	observers       []Observer
	lastModifiedAt  time.Time
	modifiedPending bool
}

// NewDatabase returns an empty Database with a fresh root group, ready to
// accept entries.
func NewDatabase(now time.Time) *Database {
	db := &Database{
		Identity:     uuid.New(),
		Metadata:     NewMetadata(now),
		emitModified: true,
	}
	root := NewGroup(now)
	root.Name = "Root"
	root.db = db
	db.root = root
	return db
}

// Root returns the database's root group.
func (db *Database) Root() *Group { return db.root }

// ReplaceRoot installs root as db's root group, taking ownership of it and
// every descendant. Used by codec readers after they've built a tree
// detached from any Database, to attach it to the freshly constructed one
// in a single step rather than replaying AddGroup/AddEntry calls.
func ReplaceRoot(db *Database, root *Group) error {
	if root.parent != nil {
		return errs.Invariant("model.ReplaceRoot", errInvalid("replacement root must be detached"))
	}
	root.setDatabaseRecursive(db)
	db.root = root
	return nil
}

// SetEmitModified toggles whether structural mutations raise the debounced
// Modified notification. Bulk loads (codec readers hydrating a freshly
// parsed tree) disable it, rehydrate, then re-enable it, to avoid firing
// thousands of spurious notifications for content that was never "edited".
func (db *Database) SetEmitModified(on bool) { db.emitModified = on }

// markModified records that the tree changed, deferring to the observer
// subsystem in notify.go for debouncing.
func (db *Database) markModified() {
	if db == nil || !db.emitModified {
		return
	}
	db.notifyModified()
}

// Lock acquires the database's save-serialization mutex. store.Save holds
// it for the duration of a save so two concurrent saves of this Database
// serialize; the model's mutation methods do not take it.
func (db *Database) Lock() { db.mu.Lock() }

// Unlock releases the save-serialization mutex.
func (db *Database) Unlock() { db.mu.Unlock() }

// AddDeletedObject records a tombstone for id, replacing any existing
// tombstone for the same UUID only if when is newer.
func (db *Database) AddDeletedObject(id uuid.UUID, when time.Time) {
	for i, d := range db.DeletedObjects {
		if d.UUID == id {
			if when.After(d.DeletionTime) {
				db.DeletedObjects[i].DeletionTime = when
			}
			return
		}
	}
	db.DeletedObjects = append(db.DeletedObjects, DeletedObject{UUID: id, DeletionTime: when})
}

// ContainsDeletedObject reports whether id has a tombstone.
func (db *Database) ContainsDeletedObject(id uuid.UUID) bool {
	for _, d := range db.DeletedObjects {
		if d.UUID == id {
			return true
		}
	}
	return false
}

// DeleteEntry permanently removes entry from its group and records a
// tombstone. Use RecycleEntry for a soft delete.
func (db *Database) DeleteEntry(entry *Entry, now time.Time) {
	if entry.parent != nil {
		entry.parent.RemoveEntry(entry)
	}
	db.AddDeletedObject(entry.UUID, now)
}

// DeleteGroup permanently removes group and every descendant from the
// tree and records one tombstone per removed group and entry.
func (db *Database) DeleteGroup(group *Group, now time.Time) {
	for _, e := range group.EntriesRecursive(false) {
		db.AddDeletedObject(e.UUID, now)
	}
	for _, g := range group.GroupsRecursive(true) {
		db.AddDeletedObject(g.UUID, now)
	}
	if group.parent != nil {
		group.parent.RemoveGroup(group)
	}
}

// recycleBin returns the recycle-bin group, creating it under the root if
// Metadata.RecycleBinEnabled and it doesn't exist yet.
func (db *Database) recycleBin(now time.Time) *Group {
	if db.Metadata.RecycleBinUUID != uuid.Nil {
		if g := db.root.FindGroupByUUID(db.Metadata.RecycleBinUUID); g != nil {
			return g
		}
	}
	bin := NewGroup(now)
	bin.Name = "Recycle Bin"
	bin.IsExpanded = false
	_ = db.root.AddGroup(bin)
	db.Metadata.RecycleBinUUID = bin.UUID
	db.Metadata.RecycleBinChanged = now
	return bin
}

// RecycleEntry moves entry into the recycle bin (creating it on demand) if
// recycling is enabled and entry isn't already there; otherwise it deletes
// entry permanently, recording exactly one tombstone.
func (db *Database) RecycleEntry(entry *Entry, now time.Time) {
	bin := db.recycleBinIfEnabled(now)
	if bin == nil || entry.parent == bin {
		db.DeleteEntry(entry, now)
		return
	}
	_ = bin.SetParentOfEntry(entry, now)
}

// RecycleGroup moves group into the recycle bin, or deletes it permanently
// (with cascading tombstones) if it's already there or recycling is off.
func (db *Database) RecycleGroup(group *Group, now time.Time) {
	bin := db.recycleBinIfEnabled(now)
	if bin == nil || group.parent == bin || bin.IsAncestorOf(group) {
		db.DeleteGroup(group, now)
		return
	}
	_ = bin.SetParentOfGroup(group, now)
}

func (db *Database) recycleBinIfEnabled(now time.Time) *Group {
	if !db.Metadata.RecycleBinEnabled {
		return nil
	}
	return db.recycleBin(now)
}

// EmptyRecycleBin permanently deletes every descendant of the recycle bin,
// recording one tombstone each, then leaves the (now empty) bin in place.
func (db *Database) EmptyRecycleBin(now time.Time) {
	bin := db.root.FindGroupByUUID(db.Metadata.RecycleBinUUID)
	if bin == nil {
		return
	}
	for _, e := range append([]*Entry(nil), bin.EntriesRecursive(false)...) {
		db.DeleteEntry(e, now)
	}
	for _, g := range bin.Children() {
		db.DeleteGroup(g, now)
	}
}

// ChallengeMasterSeed re-runs a challenge-response component against seed
// without mutating the database's cached composite key, to verify a
// candidate key/token pair offline before committing to a full Unlock.
func (db *Database) ChallengeMasterSeed(ctx context.Context, comp ckey.Component, seed [32]byte) ([32]byte, error) {
	out, err := comp.Contribution(ctx, seed[:])
	if err != nil {
		return [32]byte{}, errs.Key("Database.ChallengeMasterSeed", err)
	}
	return out, nil
}
