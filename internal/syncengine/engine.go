package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"unison/pkg/models"
)

var (
	// ErrDestroyed is returned by operations on an engine after Destroy
	ErrDestroyed = errors.New("sync engine destroyed")

	// ErrNoPlayer is returned when an operation needs a bound player
	ErrNoPlayer = errors.New("no player bound")
)

// Engine keeps one Player aligned with the shared playback state of one room.
//
// All store deliveries, timer fires and media event continuations run under
// the engine mutex, so reconciliation steps never interleave.
type Engine struct {
	roomID string
	store  Store
	clock  clock.Clock
	policy Policy
	logger *logrus.Entry
	base   *logrus.Logger

	mu     sync.Mutex
	sched  *scheduler
	events *emitter

	player         Player
	removeListener func()

	sub         Subscription
	subGen      uint64
	subscribing bool
	roomGone    bool

	initialized bool
	destroyed   bool

	state          *models.RoomState
	lastUpdateTime int64 // unix millis of our latest write, 0 if none
	health         health

	autoplayBlocked atomic.Bool
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for timers and timestamps
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.base = l }
}

// WithPolicy overrides the default thresholds and delays
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// New creates an engine for roomID. It does nothing until Initialize binds a player.
func New(roomID string, store Store, opts ...Option) *Engine {
	e := &Engine{
		roomID: roomID,
		store:  store,
		clock:  clock.New(),
		policy: DefaultPolicy(),
		base:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.base.WithField("room_id", roomID)
	e.sched = newScheduler(e.clock, &e.mu)
	e.events = newEmitter(e.logger)
	e.health.latency = e.policy.DefaultLatency
	return e
}

// RoomID returns the room this engine follows
func (e *Engine) RoomID() string {
	return e.roomID
}

// Initialize binds p, subscribes to the room and starts the correction and
// health check loops. Binding the same player again is a no-op, as is any
// call after Destroy.
func (e *Engine) Initialize(p Player) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed || p == nil {
		return
	}
	if e.initialized && e.player == p {
		return
	}

	if e.removeListener != nil {
		e.removeListener()
	}
	e.player = p
	e.removeListener = p.OnEvent(e.onMediaEvent)

	if e.initialized {
		e.logger.Info("Rebound sync engine to a new player")
		if e.state != nil {
			e.sched.after(taskDebounce, e.policy.DebounceDelay, e.syncAudioToState)
		}
		return
	}

	e.initialized = true
	e.subscribeLocked()
	e.sched.every(taskCorrection, e.policy.CorrectionInterval, e.correctDrift)
	e.sched.every(taskHealthCheck, e.policy.HealthCheckInterval, func() {
		e.checkConnectionLocked()
	})

	e.logger.WithFields(logrus.Fields{
		"correction_interval": e.policy.CorrectionInterval,
		"health_interval":     e.policy.HealthCheckInterval,
	}).Info("Sync engine initialized")
}

// UpdateState stamps patch with the current time and merges it into the
// room record. The stamp is remembered before the write so the echo of this
// write is recognised even if it arrives before Update returns. Failures are
// returned to the caller and never retried.
func (e *Engine) UpdateState(ctx context.Context, patch models.RoomPatch) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	ts := e.clock.Now().UnixMilli()
	patch.Timestamp = &ts
	e.lastUpdateTime = ts
	e.mu.Unlock()

	if err := e.store.Update(ctx, e.roomID, patch); err != nil {
		e.logger.WithError(err).Error("Failed to update playback state")
		return fmt.Errorf("update room %s: %w", e.roomID, err)
	}
	return nil
}

// SyncState returns a snapshot of connection health
func (e *Engine) SyncState() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.health.snapshot()
	s.AutoplayBlocked = e.autoplayBlocked.Load()
	return s
}

// CurrentRoomState returns the last room state received, or nil before the first one
func (e *Engine) CurrentRoomState() *models.RoomState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return nil
	}
	s := e.state.Clone()
	return &s
}

// Subscribe returns a channel of engine events and a func that cancels it.
// The channel is closed on cancel or Destroy.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.subscribe()
}

// SyncNow reconciles the player against the cached room state immediately
func (e *Engine) SyncNow() {
	e.guarded(func() {
		e.sched.cancel(taskDebounce)
		e.syncAudioToState()
	})
}

// Resume starts playback on behalf of a user gesture, clearing an autoplay block
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return ErrDestroyed
	}
	if e.player == nil {
		return ErrNoPlayer
	}
	if err := e.player.Play(); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	e.autoplayBlocked.Store(false)
	return nil
}

// Destroy releases the subscription, every timer and every event
// subscriber. Later calls on the engine are no-ops.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	e.destroyed = true

	e.sched.stopAll()
	e.unsubscribeLocked()
	if e.removeListener != nil {
		e.removeListener()
		e.removeListener = nil
	}
	e.health.connected = false
	e.events.close()

	e.logger.Info("Sync engine destroyed")
}

// guarded runs fn under the engine lock unless the engine is destroyed
func (e *Engine) guarded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	fn()
}

// onMediaEvent may be called from inside Player methods while the engine
// lock is held, so it must not take the lock
func (e *Engine) onMediaEvent(ev MediaEvent) {
	switch ev {
	case EventPlaying:
		e.autoplayBlocked.Store(false)
	case EventError:
		e.logger.Warn("Player reported a media error")
	default:
		e.logger.WithField("event", ev.String()).Debug("Player event")
	}
}

