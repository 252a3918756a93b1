package syncengine

import (
	"errors"
	"math"
)

// ReadyState mirrors the HTML media element readiness levels
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// MediaEvent is a lifecycle notification emitted by a Player
type MediaEvent int

const (
	EventCanPlay MediaEvent = iota + 1
	EventError
	EventWaiting
	EventPlaying
	EventEnded
)

func (e MediaEvent) String() string {
	switch e {
	case EventCanPlay:
		return "canplay"
	case EventError:
		return "error"
	case EventWaiting:
		return "waiting"
	case EventPlaying:
		return "playing"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var (
	// ErrNotAllowed is returned by Play when the platform refuses to start
	// playback without a user gesture
	ErrNotAllowed = errors.New("playback not allowed without user interaction")

	// ErrAborted is returned by Play when a pause or source change interrupted it
	ErrAborted = errors.New("playback request was interrupted")
)

// Player is the audio element an engine drives. It is owned exclusively by
// one engine: other code may read it and register passive listeners, but all
// mutations go through the engine.
type Player interface {
	Source() string
	SetSource(url string)
	Load()

	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Duration() float64

	Paused() bool
	ReadyState() ReadyState

	// Play starts playback. It may fail with ErrNotAllowed, ErrAborted or any
	// other error; a nil error does not guarantee audio is actually playing.
	Play() error
	Pause()

	// OnEvent registers fn for media events and returns a func removing it.
	// fn may be invoked synchronously from within other Player methods.
	OnEvent(fn func(MediaEvent)) (remove func())
}

// AudioSnapshot is a read-only copy of a player's observable fields
type AudioSnapshot struct {
	Source      string     `json:"src"`
	CurrentTime float64    `json:"currentTime"`
	Duration    float64    `json:"duration"`
	Paused      bool       `json:"paused"`
	ReadyState  ReadyState `json:"readyState"`
}

// SnapshotOf captures the current fields of p
func SnapshotOf(p Player) AudioSnapshot {
	return AudioSnapshot{
		Source:      p.Source(),
		CurrentTime: p.CurrentTime(),
		Duration:    p.Duration(),
		Paused:      p.Paused(),
		ReadyState:  p.ReadyState(),
	}
}

// knownDuration returns d if it is a usable media duration, otherwise fallback
func knownDuration(d, fallback float64) float64 {
	if d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
		return d
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
