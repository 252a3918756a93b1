package player

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"unison/internal/syncengine"
)

var ErrNoSource = errors.New("no source loaded")

// DurationFunc reports the length in seconds of the media at url. Zero means
// unknown.
type DurationFunc func(url string) (float64, error)

// Options configures a VirtualPlayer
type Options struct {
	// LoadDelay is how long Load takes before the source can play
	LoadDelay time.Duration
	// AllowAutoplay lets Play start before any user interaction
	AllowAutoplay bool
	// Duration resolves media lengths. Nil leaves every duration unknown.
	Duration DurationFunc
}

// VirtualPlayer is a headless syncengine.Player. It never decodes audio: the
// playhead is derived from the clock while playing, and loading a source
// takes LoadDelay before it reports canplay.
type VirtualPlayer struct {
	opts   Options
	clock  clock.Clock
	logger *logrus.Logger

	mu        sync.Mutex
	src       string
	gen       uint64
	ready     syncengine.ReadyState
	paused    bool
	position  float64
	anchor    time.Time
	duration  float64
	unlocked  bool
	loadTimer *clock.Timer
	endTimer  *clock.Timer

	listeners map[int]func(syncengine.MediaEvent)
	nextID    int
}

// NewVirtual creates a paused player with no source
func NewVirtual(opts Options, clk clock.Clock, logger *logrus.Logger) *VirtualPlayer {
	if clk == nil {
		clk = clock.New()
	}
	return &VirtualPlayer{
		opts:      opts,
		clock:     clk,
		logger:    logger,
		paused:    true,
		listeners: make(map[int]func(syncengine.MediaEvent)),
	}
}

// Interact records a user gesture, after which Play is always allowed
func (p *VirtualPlayer) Interact() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked = true
}

func (p *VirtualPlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

// SetSource changes the media URL. Nothing is fetched until Load.
func (p *VirtualPlayer) SetSource(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freezeLocked()
	p.stopTimersLocked()
	p.gen++
	p.src = url
	p.ready = syncengine.HaveNothing
	p.paused = true
}

// Load resets the playhead and starts loading the current source
func (p *VirtualPlayer) Load() {
	p.mu.Lock()
	p.stopTimersLocked()
	p.gen++
	p.position = 0
	p.paused = true
	p.ready = syncengine.HaveNothing
	p.duration = 0

	if p.src == "" {
		p.mu.Unlock()
		p.emit(syncengine.EventError)
		return
	}

	gen, src := p.gen, p.src
	p.loadTimer = p.clock.AfterFunc(p.opts.LoadDelay, func() { p.finishLoad(gen, src) })
	p.mu.Unlock()
}

func (p *VirtualPlayer) finishLoad(gen uint64, src string) {
	var (
		duration float64
		err      error
	)
	if p.opts.Duration != nil {
		duration, err = p.opts.Duration(src)
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.mu.Unlock()
		p.logger.WithError(err).WithField("src", src).Warn("Failed to load media")
		p.emit(syncengine.EventError)
		return
	}

	p.duration = duration
	p.ready = syncengine.HaveEnoughData
	events := []syncengine.MediaEvent{syncengine.EventCanPlay}
	if !p.paused {
		// a Play issued while loading starts now
		p.anchor = p.clock.Now()
		p.scheduleEndLocked()
		events = append(events, syncengine.EventPlaying)
	}
	p.mu.Unlock()

	for _, ev := range events {
		p.emit(ev)
	}
}

func (p *VirtualPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *VirtualPlayer) SetCurrentTime(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if p.duration > 0 && seconds > p.duration {
		seconds = p.duration
	}
	p.position = seconds
	p.anchor = p.clock.Now()
	if p.playingLocked() {
		p.scheduleEndLocked()
	}
}

func (p *VirtualPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *VirtualPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *VirtualPlayer) ReadyState() syncengine.ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Play starts the playhead. Before the source is ready the player waits and
// starts as soon as loading finishes.
func (p *VirtualPlayer) Play() error {
	p.mu.Lock()
	if !p.opts.AllowAutoplay && !p.unlocked {
		p.mu.Unlock()
		return syncengine.ErrNotAllowed
	}
	if p.src == "" {
		p.mu.Unlock()
		return ErrNoSource
	}
	if !p.paused {
		p.mu.Unlock()
		return nil
	}

	if p.duration > 0 && p.position >= p.duration {
		p.position = 0
	}
	p.paused = false
	p.anchor = p.clock.Now()

	event := syncengine.EventWaiting
	if p.ready >= syncengine.HaveFutureData {
		p.scheduleEndLocked()
		event = syncengine.EventPlaying
	}
	p.mu.Unlock()

	p.emit(event)
	return nil
}

func (p *VirtualPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freezeLocked()
	p.paused = true
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

// OnEvent registers fn for media events and returns a func removing it
func (p *VirtualPlayer) OnEvent(fn func(syncengine.MediaEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// emit calls listeners without holding the lock, so they may call back in
func (p *VirtualPlayer) emit(ev syncengine.MediaEvent) {
	p.mu.Lock()
	fns := make([]func(syncengine.MediaEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *VirtualPlayer) playingLocked() bool {
	return !p.paused && p.ready >= syncengine.HaveFutureData
}

func (p *VirtualPlayer) currentLocked() float64 {
	pos := p.position
	if p.playingLocked() {
		pos += p.clock.Since(p.anchor).Seconds()
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

// freezeLocked folds elapsed play time into position
func (p *VirtualPlayer) freezeLocked() {
	p.position = p.currentLocked()
	p.anchor = p.clock.Now()
}

func (p *VirtualPlayer) stopTimersLocked() {
	if p.loadTimer != nil {
		p.loadTimer.Stop()
		p.loadTimer = nil
	}
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

// scheduleEndLocked arms the ended event for a known duration
func (p *VirtualPlayer) scheduleEndLocked() {
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
	if p.duration <= 0 {
		return
	}
	remaining := time.Duration((p.duration - p.position) * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	gen := p.gen
	p.endTimer = p.clock.AfterFunc(remaining, func() { p.finishPlayback(gen) })
}

func (p *VirtualPlayer) finishPlayback(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.playingLocked() || p.currentLocked() < p.duration {
		p.mu.Unlock()
		return
	}
	p.position = p.duration
	p.paused = true
	p.endTimer = nil
	p.mu.Unlock()

	p.emit(syncengine.EventEnded)
}
