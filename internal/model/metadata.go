package model

import (
	"time"

	"github.com/google/uuid"
)

// Metadata carries database-wide settings that aren't part of the group
// tree itself: naming, icon/color defaults, history eviction knobs, and the
// recycle bin's location.
type Metadata struct {
	Name          string
	NameChanged   time.Time
	Description   string
	DescChanged   time.Time
	DefaultUserName        string
	DefaultUserNameChanged time.Time

	Color string

	MaintenanceHistoryDays int
	MasterKeyChanged       time.Time
	MasterKeyChangeRec     int // days; -1 disables the reminder
	MasterKeyChangeForce   int

	// HistoryMaxItems and HistoryMaxSize bound per-entry history: oldest
	// snapshots are evicted first when either limit is exceeded. <= 0
	// disables that limit.
	HistoryMaxItems int
	HistoryMaxSize  int64

	RecycleBinEnabled bool
	RecycleBinUUID    uuid.UUID
	RecycleBinChanged time.Time

	EntryTemplatesGroup        uuid.UUID
	EntryTemplatesGroupChanged time.Time

	LastSelectedGroup uuid.UUID
	LastTopVisibleGroup uuid.UUID

	CustomData CustomData
}

// NewMetadata returns Metadata with the conventional defaults: history
// capped at 10 snapshots / 6 MiB, the master key change reminder and
// forced change both disabled (-1), and the recycle bin enabled but not
// yet created.
func NewMetadata(now time.Time) Metadata {
	return Metadata{
		NameChanged:            now,
		DescChanged:            now,
		DefaultUserNameChanged: now,
		MasterKeyChanged:       now,
		MasterKeyChangeRec:     -1,
		MasterKeyChangeForce:   -1,
		HistoryMaxItems:        10,
		HistoryMaxSize:         6 * 1024 * 1024,
		RecycleBinEnabled:      true,
		RecycleBinChanged:      now,
		CustomData:             CustomData{},
	}
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	clone := m
	clone.CustomData = m.CustomData.Clone()
	return clone
}
