package syncengine

import (
	"math"
	"time"

	"unison/pkg/models"
)

// ProjectTime returns where playback described by state should be at now.
// A paused state does not advance. The result is clamped to [0, duration]
// when duration is known (greater than zero).
func ProjectTime(state models.RoomState, now time.Time, duration float64) float64 {
	expected := state.CurrentTime
	if state.IsPlaying && state.Timestamp > 0 {
		elapsed := float64(now.UnixMilli()-state.Timestamp) / 1000
		if elapsed > 0 {
			expected += elapsed
		}
	}
	return clampPosition(expected, duration)
}

// targetTime is the position the reconciler seeks to. Elapsed time is only
// added while the state is younger than maxAge so an old snapshot is never
// projected far into the future.
func targetTime(state models.RoomState, now time.Time, maxAge time.Duration, duration float64) float64 {
	target := state.CurrentTime
	if state.IsPlaying && state.Timestamp > 0 {
		age := time.Duration(now.UnixMilli()-state.Timestamp) * time.Millisecond
		if age > 0 && age < maxAge {
			target += age.Seconds()
		}
	}
	return clampPosition(target, duration)
}

func clampPosition(pos, duration float64) float64 {
	pos = math.Max(0, pos)
	if duration > 0 {
		pos = math.Min(pos, duration)
	}
	return pos
}
