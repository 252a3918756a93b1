package syncengine

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Task names registered by the engine
const (
	taskDebounce          = "debounce"
	taskCorrection        = "correction"
	taskHealthCheck       = "health-check"
	taskReconnect         = "reconnect"
	taskSourceReady       = "source-ready"
	taskRefreshReady      = "refresh-ready"
	taskPlayVerify        = "play-verify"
	taskAbortRetry        = "abort-retry"
	taskRefreshAfterError = "refresh-after-error"
	taskStuckRecheck      = "stuck-recheck"
)

// scheduler is a registry of named timers. Scheduling a name that is already
// pending replaces it. Every method must be called with lock held, and every
// callback runs with lock held, so callbacks never overlap with each other or
// with the owner's methods.
type scheduler struct {
	clock  clock.Clock
	lock   sync.Locker
	tasks  map[string]*task
	seq    uint64
	closed bool
}

type task struct {
	gen    uint64
	timer  *clock.Timer
	ticker *clock.Ticker
	done   chan struct{}
	remove func()
}

func (t *task) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
	}
	if t.remove != nil {
		t.remove()
	}
}

func newScheduler(clk clock.Clock, lock sync.Locker) *scheduler {
	return &scheduler{
		clock: clk,
		lock:  lock,
		tasks: make(map[string]*task),
	}
}

func (s *scheduler) register(name string) *task {
	s.cancel(name)
	s.seq++
	t := &task{gen: s.seq}
	s.tasks[name] = t
	return t
}

// finish removes the task if gen is still the live registration for name
func (s *scheduler) finish(name string, gen uint64) bool {
	t, ok := s.tasks[name]
	if !ok || t.gen != gen {
		return false
	}
	delete(s.tasks, name)
	t.stop()
	return true
}

// after runs fn once when d has elapsed
func (s *scheduler) after(name string, d time.Duration, fn func()) {
	if s.closed {
		return
	}
	t := s.register(name)
	t.timer = s.clock.AfterFunc(d, func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.finish(name, t.gen) {
			fn()
		}
	})
}

// every runs fn each time d elapses until the task is cancelled
func (s *scheduler) every(name string, d time.Duration, fn func()) {
	if s.closed {
		return
	}
	t := s.register(name)
	t.ticker = s.clock.Ticker(d)
	t.done = make(chan struct{})

	go func(ticks <-chan time.Time, done <-chan struct{}) {
		for {
			select {
			case <-done:
				return
			case <-ticks:
				s.lock.Lock()
				if s.tasks[name] == t {
					fn()
				}
				s.lock.Unlock()
			}
		}
	}(t.ticker.C, t.done)
}

// race waits for p to emit want or for timeout to elapse, whichever comes
// first, and then calls then exactly once. timedOut reports which one won.
// Register the race before triggering the action that produces the event.
func (s *scheduler) race(name string, p Player, want MediaEvent, timeout time.Duration, then func(timedOut bool)) {
	if s.closed {
		return
	}
	t := s.register(name)

	settle := func(timedOut bool) {
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.finish(name, t.gen) {
			then(timedOut)
		}
	}

	// Player events may be delivered while the lock is already held by the
	// caller that triggered them, so settle on a fresh goroutine
	t.remove = p.OnEvent(func(ev MediaEvent) {
		if ev == want {
			go settle(false)
		}
	})
	t.timer = s.clock.AfterFunc(timeout, func() { settle(true) })
}

func (s *scheduler) cancel(name string) {
	if t, ok := s.tasks[name]; ok {
		delete(s.tasks, name)
		t.stop()
	}
}

func (s *scheduler) pending(name string) bool {
	_, ok := s.tasks[name]
	return ok
}

// names lists every pending task in sorted order
func (s *scheduler) names() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stopAll cancels every task and refuses new ones
func (s *scheduler) stopAll() {
	for name := range s.tasks {
		s.cancel(name)
	}
	s.closed = true
}
