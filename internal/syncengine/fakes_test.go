package syncengine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"unison/pkg/models"
)

const testSongURL = "http://localhost:8080/stream/song-1"

// fakePlayer records every mutating call in order
type fakePlayer struct {
	mu          sync.Mutex
	src         string
	currentTime float64
	duration    float64
	paused      bool
	ready       ReadyState
	calls       []string

	playErrs    []error // returned by successive Play calls, nil when exhausted
	silentFail  bool    // Play succeeds but the player stays paused
	readyOnLoad ReadyState
	canPlay     bool // emit EventCanPlay from Load

	listeners map[int]func(MediaEvent)
	nextID    int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		paused:      true,
		duration:    240,
		readyOnLoad: HaveEnoughData,
		canPlay:     true,
		listeners:   make(map[int]func(MediaEvent)),
	}
}

// loaded returns a player already showing url, paused at pos
func loadedPlayer(url string, pos float64) *fakePlayer {
	p := newFakePlayer()
	p.src = url
	p.ready = HaveEnoughData
	p.currentTime = pos
	return p
}

func (p *fakePlayer) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) emit(ev MediaEvent) {
	p.mu.Lock()
	fns := make([]func(MediaEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *fakePlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

func (p *fakePlayer) SetSource(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("src:" + url)
	p.src = url
	p.ready = HaveNothing
}

func (p *fakePlayer) Load() {
	p.mu.Lock()
	p.record("load")
	p.currentTime = 0
	p.paused = true
	emit := false
	if p.src != "" {
		p.ready = p.readyOnLoad
		emit = p.canPlay
	}
	p.mu.Unlock()

	if emit {
		p.emit(EventCanPlay)
	}
}

func (p *fakePlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTime
}

func (p *fakePlayer) SetCurrentTime(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(fmt.Sprintf("seek:%.2f", seconds))
	p.currentTime = seconds
}

func (p *fakePlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *fakePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePlayer) ReadyState() ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	p.record("play")
	var err error
	if len(p.playErrs) > 0 {
		err = p.playErrs[0]
		p.playErrs = p.playErrs[1:]
	}
	started := err == nil && !p.silentFail
	if started {
		p.paused = false
	}
	p.mu.Unlock()

	if started {
		p.emit(EventPlaying)
	}
	return err
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("pause")
	p.paused = true
}

func (p *fakePlayer) OnEvent(fn func(MediaEvent)) func() {
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

// setPaused changes transport without recording a call, as a UI would
func (p *fakePlayer) setPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

func (p *fakePlayer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) resetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *fakePlayer) count(prefix string) int {
	n := 0
	for _, c := range p.callLog() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *fakePlayer) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// fakeStore delivers snapshots in order on one goroutine per subscription
type fakeStore struct {
	mu             sync.Mutex
	room           *models.Room
	subs           map[int]*fakeSub
	nextID         int
	subscribeCalls int
	updates        []models.RoomPatch
	updateErr      error
}

type fakeSub struct {
	store    *fakeStore
	id       int
	onChange func(Snapshot)
	onError  func(error)
	queue    chan func()
	done     chan struct{}
	once     sync.Once
}

func newFakeStore(room *models.Room) *fakeStore {
	return &fakeStore{room: room, subs: make(map[int]*fakeSub)}
}

func (s *fakeStore) snapshotLocked() Snapshot {
	if s.room == nil {
		return Snapshot{}
	}
	room := s.room.Clone()
	return Snapshot{Exists: true, Room: &room}
}

func (s *fakeStore) Read(ctx context.Context, roomID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *fakeStore) Subscribe(roomID string, onChange func(Snapshot), onError func(error)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribeCalls++
	sub := &fakeSub{
		store:    s,
		id:       s.nextID,
		onChange: onChange,
		onError:  onError,
		queue:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	s.nextID++
	s.subs[sub.id] = sub
	go sub.run()

	snap := s.snapshotLocked()
	sub.queue <- func() { onChange(snap) }
	return sub, nil
}

func (s *fakeStore) Update(ctx context.Context, roomID string, patch models.RoomPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, patch)
	if s.room == nil {
		return fmt.Errorf("room %s does not exist", roomID)
	}
	patch.ApplyTo(s.room)
	s.broadcastLocked()
	return nil
}

// set replaces the whole record and fans it out
func (s *fakeStore) set(room *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	s.broadcastLocked()
}

// fail reports err to every live subscription
func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		onError := sub.onError
		sub.queue <- func() { onError(err) }
	}
}

func (s *fakeStore) broadcastLocked() {
	for _, sub := range s.subs {
		snap := s.snapshotLocked()
		onChange := sub.onChange
		sub.queue <- func() { onChange(snap) }
	}
}

func (s *fakeStore) subscriptions() (calls, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCalls, len(s.subs)
}

func (sub *fakeSub) run() {
	for {
		select {
		case <-sub.done:
			return
		case fn := <-sub.queue:
			fn()
		}
	}
}

func (sub *fakeSub) Unsubscribe() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.subs, sub.id)
		sub.store.mu.Unlock()
		close(sub.done)
	})
}

// Helpers

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1000))
	return mock
}

func newTestEngine(store Store, mock *clock.Mock) *Engine {
	return New("room1234", store, WithClock(mock), WithLogger(testLogger()))
}

func testRoom(state models.RoomState) *models.Room {
	return &models.Room{
		ID:         "room1234",
		Name:       "Test Room",
		CreatorID:  "creator",
		MaxMembers: 5,
		Members:    map[string]int64{"creator": 1},
		RoomState:  state,
	}
}

func testSong() *models.Song {
	return &models.Song{
		ID:       "song-1",
		Title:    "First Song",
		Artist:   "Someone",
		URL:      testSongURL,
		Duration: 240,
	}
}

func playingState(pos float64, ts int64) models.RoomState {
	return models.RoomState{CurrentSong: testSong(), IsPlaying: true, CurrentTime: pos, Timestamp: ts}
}

func pausedState(pos float64, ts int64) models.RoomState {
	return models.RoomState{CurrentSong: testSong(), IsPlaying: false, CurrentTime: pos, Timestamp: ts}
}

// locked runs fn with the engine lock held, as a timer or store callback would
func locked(e *Engine, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// bind attaches p without starting the subscription or loops
func bind(e *Engine, p Player, state *models.RoomState) {
	locked(e, func() {
		e.player = p
		e.removeListener = p.OnEvent(e.onMediaEvent)
		e.state = state
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// settle gives goroutines started by timers a chance to run
func settle() {
	time.Sleep(20 * time.Millisecond)
}

// advance moves the mock clock forward in small steps so that timers
// scheduled by earlier callbacks fire in order
func advance(mock *clock.Mock, d, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		mock.Add(step)
		settle()
	}
}

func waitEvent[T Event](t *testing.T, events <-chan Event, match func(T) bool) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("Event channel closed")
			}
			if typed, ok := ev.(T); ok && (match == nil || match(typed)) {
				return typed
			}
		case <-timeout:
			var zero T
			t.Fatalf("Timed out waiting for %T event", zero)
			return zero
		}
	}
}

// slowStore holds every Subscribe until release is closed, like a dial
// against an unresponsive server
type slowStore struct {
	*fakeStore
	release chan struct{}
}

func newSlowStore(room *models.Room) *slowStore {
	return &slowStore{fakeStore: newFakeStore(room), release: make(chan struct{})}
}

func (s *slowStore) Subscribe(roomID string, onChange func(Snapshot), onError func(error)) (Subscription, error) {
	<-s.release
	return s.fakeStore.Subscribe(roomID, onChange, onError)
}
