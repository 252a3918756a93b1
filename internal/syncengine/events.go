package syncengine

import (
	"sync"

	"github.com/sirupsen/logrus"

	"unison/pkg/models"
)

// Event is emitted by an Engine. The concrete types are StateChanged,
// ConnectionError, RoomNotFound and AutoplayBlocked.
type Event interface {
	eventName() string
}

// StateChanged is emitted for every accepted room state, whether or not it
// caused any audio change
type StateChanged struct {
	State models.RoomState
}

// ConnectionError is emitted when the room subscription fails
type ConnectionError struct {
	Err error
}

// RoomNotFound is emitted when the room record no longer exists
type RoomNotFound struct {
	RoomID string
}

// AutoplayBlocked is emitted when playback could not start without a user
// gesture. The player is left paused; a user-initiated Play resolves it.
type AutoplayBlocked struct {
	Audio  AudioSnapshot
	Target models.RoomState
}

func (StateChanged) eventName() string    { return "stateChange" }
func (ConnectionError) eventName() string { return "connectionError" }
func (RoomNotFound) eventName() string    { return "roomNotFound" }
func (AutoplayBlocked) eventName() string { return "autoplayBlocked" }

const eventBuffer = 32

// emitter fans events out to buffered subscriber channels without blocking
// the caller, so it is safe to emit while holding the engine lock
type emitter struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
	logger *logrus.Entry
}

func newEmitter(logger *logrus.Entry) *emitter {
	return &emitter{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// subscribe returns a channel of events and a func that cancels it
func (em *emitter) subscribe() (<-chan Event, func()) {
	em.mu.Lock()
	defer em.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	if em.closed {
		close(ch)
		return ch, func() {}
	}
	em.subs[ch] = struct{}{}

	cancel := func() {
		em.mu.Lock()
		defer em.mu.Unlock()
		if _, ok := em.subs[ch]; ok {
			delete(em.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (em *emitter) emit(ev Event) {
	em.mu.Lock()
	defer em.mu.Unlock()

	for ch := range em.subs {
		select {
		case ch <- ev:
		default:
			em.logger.WithField("event", ev.eventName()).Warn("Event subscriber is full, dropping event")
		}
	}
}

// close closes every subscriber channel; later subscriptions get a closed channel
func (em *emitter) close() {
	em.mu.Lock()
	defer em.mu.Unlock()

	for ch := range em.subs {
		close(ch)
	}
	em.subs = make(map[chan Event]struct{})
	em.closed = true
}
