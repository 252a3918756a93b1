package syncengine

import (
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"unison/pkg/models"
)

// onRoomStateChange handles one delivery from the room subscription
func (e *Engine) onRoomStateChange(snap Snapshot) {
	if !snap.Exists || snap.Room == nil {
		e.logger.Warn("Room no longer exists")
		e.onRoomGone()
		e.events.emit(RoomNotFound{RoomID: e.roomID})
		return
	}

	now := e.clock.Now()
	e.health.stamp(now)

	next := snap.Room.RoomState.Clone()

	if e.isEcho(next) {
		e.logger.WithField("timestamp", next.Timestamp).Debug("Skipping reconciliation of our own update")
		e.state = &next
		e.events.emit(StateChanged{State: next.Clone()})
		return
	}

	prev := e.state
	if prev != nil && next.Timestamp != 0 {
		e.health.drift = math.Abs(next.CurrentTime - ProjectTime(*prev, now, 0))
	}

	significant := e.isSignificant(prev, &next)
	e.state = &next

	if significant && e.player != nil {
		e.logger.WithFields(logrus.Fields{
			"playing": next.IsPlaying,
			"song":    next.SongURL(),
			"time":    next.CurrentTime,
		}).Debug("Scheduling reconciliation")
		e.sched.after(taskDebounce, e.policy.DebounceDelay, e.syncAudioToState)
	}

	e.events.emit(StateChanged{State: next.Clone()})
}

func (e *Engine) isEcho(next models.RoomState) bool {
	if e.lastUpdateTime == 0 || next.Timestamp == 0 {
		return false
	}
	delta := time.Duration(next.Timestamp-e.lastUpdateTime) * time.Millisecond
	if delta < 0 {
		delta = -delta
	}
	return delta < e.policy.EchoWindow
}

// isSignificant decides whether next needs the player to be reconciled. The
// previous position is projected to next's timestamp so a repeat of the same
// state, or a fresh stamp of steady playback, is not a change.
func (e *Engine) isSignificant(prev, next *models.RoomState) bool {
	if prev == nil {
		return true
	}
	if prev.IsPlaying != next.IsPlaying || prev.SongURL() != next.SongURL() {
		return true
	}

	expected := prev.CurrentTime
	if prev.IsPlaying && prev.Timestamp > 0 && next.Timestamp > prev.Timestamp {
		expected += float64(next.Timestamp-prev.Timestamp) / 1000
	}
	return math.Abs(expected-next.CurrentTime) > e.policy.ResyncThreshold
}

// syncAudioToState brings the player in line with the cached room state,
// loading a new source first when the song changed
func (e *Engine) syncAudioToState() {
	p := e.player
	if p == nil || e.state == nil {
		return
	}

	url := e.state.SongURL()
	if url == "" || p.Source() == url {
		e.continueSync()
		return
	}

	e.logger.WithField("url", url).Info("Loading new song")
	e.sched.race(taskSourceReady, p, EventCanPlay, e.policy.SourceReadyTimeout, func(timedOut bool) {
		if timedOut {
			e.logger.WithField("url", url).Warn("Player not ready before timeout, continuing anyway")
		}
		if e.player == p {
			e.continueSync()
		}
	})
	p.SetSource(url)
	p.Load()
}

// continueSync corrects the position and then the transport. Seeking after
// starting playback causes an audible jump, so the order is fixed.
func (e *Engine) continueSync() {
	p, state := e.player, e.state
	if p == nil || state == nil {
		return
	}

	e.syncTime(*state)

	switch {
	case state.IsPlaying && p.Paused():
		if p.Source() == "" || state.SongURL() == "" || p.ReadyState() < HaveCurrentData {
			e.logger.WithField("ready_state", p.ReadyState()).Debug("Cannot play yet, player not ready")
			return
		}
		e.startPlayback()
	case !state.IsPlaying && !p.Paused():
		e.logger.Debug("Pausing playback")
		p.Pause()
	}
}

func (e *Engine) syncTime(state models.RoomState) {
	p := e.player
	if p.ReadyState() < HaveCurrentData {
		return
	}

	duration := knownDuration(p.Duration(), songDuration(state))
	target := targetTime(state, e.clock.Now(), e.policy.StaleStateAge, duration)
	current := p.CurrentTime()

	if math.Abs(current-target) > e.policy.SeekThreshold {
		e.logger.WithFields(logrus.Fields{
			"from": current,
			"to":   target,
		}).Info("Correcting playback position")
		p.SetCurrentTime(target)
	}
}

func (e *Engine) startPlayback() {
	p := e.player

	if err := p.Play(); err != nil {
		e.handlePlayError(err)
		return
	}

	// A successful Play is not proof that audio started
	e.sched.after(taskPlayVerify, e.policy.PlayVerifyDelay, func() {
		if e.player == p && p.Paused() && e.wantsPlayback() {
			e.logger.Warn("Player still paused after play, autoplay may be blocked")
			e.handleAutoplayBlocked()
		}
	})
}

func (e *Engine) wantsPlayback() bool {
	return e.state != nil && e.state.IsPlaying
}

// handleAutoplayBlocked leaves the player paused and tells the UI; only a
// user gesture can resolve it, so play is not retried
func (e *Engine) handleAutoplayBlocked() {
	e.autoplayBlocked.Store(true)

	var target models.RoomState
	if e.state != nil {
		target = e.state.Clone()
	}
	e.events.emit(AutoplayBlocked{
		Audio:  SnapshotOf(e.player),
		Target: target,
	})
}

func (e *Engine) handlePlayError(err error) {
	p := e.player
	log := e.logger.WithError(err).WithFields(logrus.Fields{
		"ready_state": p.ReadyState(),
		"paused":      p.Paused(),
	})

	switch {
	case errors.Is(err, ErrNotAllowed):
		log.Info("Autoplay blocked")
		e.handleAutoplayBlocked()

	case errors.Is(err, ErrAborted):
		log.Info("Play interrupted, retrying once")
		e.sched.after(taskAbortRetry, e.policy.AbortRetryDelay, func() {
			if e.player != p || !e.wantsPlayback() || !p.Paused() || p.ReadyState() < HaveCurrentData {
				return
			}
			if err := p.Play(); err != nil {
				e.logger.WithError(err).Warn("Retrying play failed")
			}
		})

	default:
		log.Error("Play failed, scheduling hard refresh")
		e.sched.after(taskRefreshAfterError, e.policy.RefreshAfterErrorDelay, e.forceRefreshLocked)
	}
}

func songDuration(state models.RoomState) float64 {
	if state.CurrentSong == nil {
		return 0
	}
	return state.CurrentSong.Duration
}
