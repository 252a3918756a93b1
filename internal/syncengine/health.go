package syncengine

import (
	"time"
)

// SyncState is a snapshot of the engine's connection health
type SyncState struct {
	IsConnected           bool          `json:"isConnected"`
	LastSync              *time.Time    `json:"lastSync,omitempty"`
	ConnectionInterrupted bool          `json:"connectionInterrupted"`
	NetworkLatency        time.Duration `json:"networkLatency"`
	SyncDrift             float64       `json:"syncDrift"` // seconds
	AutoplayBlocked       bool          `json:"autoplayBlocked"`
}

// health is the mutable form of SyncState owned by the engine
type health struct {
	connected   bool
	lastSync    time.Time
	interrupted bool
	latency     time.Duration
	drift       float64
}

func (h *health) stamp(now time.Time) {
	h.connected = true
	h.lastSync = now
	h.interrupted = false
}

func (h *health) snapshot() SyncState {
	s := SyncState{
		IsConnected:           h.connected,
		ConnectionInterrupted: h.interrupted,
		NetworkLatency:        h.latency,
		SyncDrift:             h.drift,
	}
	if !h.lastSync.IsZero() {
		last := h.lastSync
		s.LastSync = &last
	}
	return s
}

// healthy reports whether the subscription is believed live at now
func (h *health) healthy(now time.Time, staleAfter time.Duration, subscribed bool) bool {
	if !h.connected || h.interrupted || h.lastSync.IsZero() || !subscribed {
		return false
	}
	return now.Sub(h.lastSync) < staleAfter
}
