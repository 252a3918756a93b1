package syncengine

import (
	"math"

	"github.com/sirupsen/logrus"
)

// correctDrift nudges a playing player back to the projected position of
// the cached state. Runs on the correction interval between room updates.
func (e *Engine) correctDrift() {
	p, state := e.player, e.state
	if p == nil || state == nil {
		return
	}
	if !state.IsPlaying || p.Paused() || p.ReadyState() < HaveCurrentData {
		return
	}

	duration := knownDuration(p.Duration(), songDuration(*state))
	expected := ProjectTime(*state, e.clock.Now(), duration)
	actual := p.CurrentTime()

	if math.Abs(expected-actual) > e.policy.ResyncThreshold {
		e.logger.WithFields(logrus.Fields{
			"from": actual,
			"to":   expected,
		}).Debug("Continuous drift correction")
		p.SetCurrentTime(expected)
	}
}

// ForceRefreshAudio tears the player source down and reloads it, then
// reconciles against the cached state
func (e *Engine) ForceRefreshAudio() {
	e.guarded(e.forceRefreshLocked)
}

func (e *Engine) forceRefreshLocked() {
	p, state := e.player, e.state
	if p == nil || state == nil {
		return
	}
	url := state.SongURL()
	if url == "" {
		return
	}

	e.logger.WithField("url", url).Warn("Force refreshing player")
	e.sched.cancel(taskDebounce)
	e.sched.cancel(taskSourceReady)

	// Clearing first forces a full teardown of decoder state
	p.Pause()
	p.SetSource("")
	p.Load()

	e.sched.race(taskRefreshReady, p, EventCanPlay, e.policy.RefreshReadyTimeout, func(timedOut bool) {
		if timedOut {
			e.logger.Warn("Player not ready after refresh, continuing anyway")
		}
		if e.player == p {
			e.continueSync()
		}
	})
	p.SetSource(url)
	p.Load()
}

// IsStuck reports whether the player visibly disagrees with the cached state:
// wrong transport, a source that never started loading, or a position more
// than GrossDesync away
func (e *Engine) IsStuck() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isStuckLocked()
}

func (e *Engine) isStuckLocked() bool {
	p, state := e.player, e.state
	if p == nil || state == nil {
		return false
	}
	if e.transportMismatch() {
		return true
	}
	if p.Source() != "" && p.ReadyState() == HaveNothing {
		return true
	}
	return math.Abs(state.CurrentTime-p.CurrentTime()) > e.policy.GrossDesync
}

func (e *Engine) transportMismatch() bool {
	p, state := e.player, e.state
	if p == nil || state == nil {
		return false
	}
	return state.IsPlaying == p.Paused()
}

// TriggerSync is the manual force sync action. A stuck player is refreshed
// straight away; otherwise a normal reconciliation runs and the transport is
// checked again after StuckRecheckDelay, escalating to a refresh if it still
// disagrees. It reports whether the player was judged stuck.
func (e *Engine) TriggerSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed || e.player == nil || e.state == nil {
		return false
	}

	if e.isStuckLocked() {
		e.logger.Info("Player is stuck, refreshing")
		e.forceRefreshLocked()
		return true
	}

	e.sched.cancel(taskDebounce)
	e.syncAudioToState()
	e.sched.after(taskStuckRecheck, e.policy.StuckRecheckDelay, func() {
		if e.transportMismatch() {
			e.logger.Info("Player still out of sync after reconciliation, refreshing")
			e.forceRefreshLocked()
		}
	})
	return false
}
