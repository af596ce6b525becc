package model

import (
	"time"

	"github.com/google/uuid"
)

// DeletedObject is a tombstone recorded when an entity is permanently
// deleted. Tombstones are never duplicated for the same UUID — merging two
// tombstone lists keeps the newest DeletionTime per UUID.
type DeletedObject struct {
	UUID         uuid.UUID
	DeletionTime time.Time
}
