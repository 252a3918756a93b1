package syncengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Status prompts shown to listeners. Connection problems and autoplay blocks
// have a known remedy, so they get their own actionable text.
const (
	StatusConnecting      = "Connecting to room..."
	StatusReconnecting    = "Connection lost. Trying to reconnect..."
	StatusAutoplayBlocked = "Playback is blocked. Press play to start listening."
)

// Projection is the UI-facing view of an engine's health at one instant
type Projection struct {
	SyncState
	Healthy bool      `json:"healthy"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

type stateSource interface {
	SyncState() SyncState
}

// Projector samples an engine's SyncState on a fixed interval and turns it
// into Projections for display
type Projector struct {
	source     stateSource
	clock      clock.Clock
	interval   time.Duration
	staleAfter time.Duration
	maxDrift   float64

	mu      sync.RWMutex
	latest  Projection
	updates chan Projection
	stop    chan struct{}
	done    chan struct{}
}

// NewProjector creates a projector for engine using its clock and policy
func NewProjector(engine *Engine) *Projector {
	return newProjector(engine, engine.clock, engine.policy)
}

func newProjector(source stateSource, clk clock.Clock, policy Policy) *Projector {
	return &Projector{
		source:     source,
		clock:      clk,
		interval:   policy.ProjectorInterval,
		staleAfter: policy.DisplayStaleAfter,
		maxDrift:   policy.DisplayMaxDrift,
		updates:    make(chan Projection, 1),
	}
}

// Start samples immediately and then on every interval until Stop
func (p *Projector) Start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	p.Sample()

	ticker := p.clock.Ticker(p.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Sample()
			}
		}
	}()
}

// Stop ends sampling and waits for the sampling goroutine to exit
func (p *Projector) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Sample takes one projection now and publishes it
func (p *Projector) Sample() Projection {
	proj := p.project(p.source.SyncState())

	p.mu.Lock()
	p.latest = proj
	p.mu.Unlock()

	// Keep only the newest projection for slow readers
	select {
	case <-p.updates:
	default:
	}
	select {
	case p.updates <- proj:
	default:
	}
	return proj
}

// Latest returns the most recent projection
func (p *Projector) Latest() Projection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Updates delivers the newest projection after each sample
func (p *Projector) Updates() <-chan Projection {
	return p.updates
}

func (p *Projector) project(s SyncState) Projection {
	now := p.clock.Now()
	proj := Projection{SyncState: s, At: now}

	proj.Healthy = s.IsConnected && !s.ConnectionInterrupted &&
		s.LastSync != nil && now.Sub(*s.LastSync) < p.staleAfter &&
		s.SyncDrift < p.maxDrift

	switch {
	case s.AutoplayBlocked:
		proj.Status = StatusAutoplayBlocked
	case s.LastSync == nil && !s.ConnectionInterrupted:
		proj.Status = StatusConnecting
	case s.ConnectionInterrupted || !s.IsConnected:
		proj.Status = StatusReconnecting
	case !proj.Healthy:
		proj.Status = fmt.Sprintf("Sync drift: %.1fs", s.SyncDrift)
	default:
		proj.Status = fmt.Sprintf("Latency: %dms", s.NetworkLatency.Milliseconds())
	}
	return proj
}
