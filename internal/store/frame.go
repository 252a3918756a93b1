package store

import (
	"unison/internal/syncengine"
	"unison/pkg/models"
)

// FrameType identifies a websocket message between roomd and its clients
type FrameType string

const (
	// FrameState carries the full room record (server to client)
	FrameState FrameType = "state"
	// FrameUpdate carries a patch to merge (client to server)
	FrameUpdate FrameType = "update"
	// FrameError reports a failure (server to client)
	FrameError FrameType = "error"
)

// Frame is the JSON envelope of every websocket message
type Frame struct {
	Type   FrameType         `json:"type"`
	Exists bool              `json:"exists,omitempty"`
	Room   *models.Room      `json:"room,omitempty"`
	Patch  *models.RoomPatch `json:"patch,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// StateFrame wraps a snapshot for sending
func StateFrame(snap syncengine.Snapshot) Frame {
	return Frame{Type: FrameState, Exists: snap.Exists, Room: snap.Room}
}

// Snapshot converts a state frame back into a snapshot
func (f Frame) Snapshot() syncengine.Snapshot {
	if !f.Exists || f.Room == nil {
		return syncengine.Snapshot{}
	}
	return syncengine.Snapshot{Exists: true, Room: f.Room}
}
