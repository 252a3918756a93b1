package syncengine

import (
	"context"

	"unison/pkg/models"
)

// Snapshot is one delivery of a room record. Exists is false once the room
// has been deleted.
type Snapshot struct {
	Exists bool         `json:"exists"`
	Room   *models.Room `json:"room,omitempty"`
}

// Subscription is a live feed of snapshots for one room
type Subscription interface {
	Unsubscribe()
}

// Store is the realtime key-value store holding one record per room.
//
// Subscribe delivers the current record first and then the full record after
// every change. Implementations must invoke callbacks asynchronously (never
// from within Subscribe itself) and in order for a given subscription.
// Intermediate states may be coalesced.
type Store interface {
	Read(ctx context.Context, roomID string) (Snapshot, error)
	Subscribe(roomID string, onChange func(Snapshot), onError func(error)) (Subscription, error)
	// Update merges patch into the stored record field by field
	Update(ctx context.Context, roomID string, patch models.RoomPatch) error
}
