package syncengine

import (
	"time"

	"unison/internal/config"
)

// Policy holds the tunable thresholds and delays of the engine.
//
// ResyncThreshold decides whether a new room state warrants reconciliation at
// all; SeekThreshold decides whether the reconciler actually moves the
// playhead. Keeping the first tighter than the second stops constant
// micro-seeking while still catching real desync.
type Policy struct {
	EchoWindow      time.Duration
	ResyncThreshold float64 // seconds
	SeekThreshold   float64 // seconds
	GrossDesync     float64 // seconds
	StaleStateAge   time.Duration

	DebounceDelay          time.Duration
	SourceReadyTimeout     time.Duration
	RefreshReadyTimeout    time.Duration
	PlayVerifyDelay        time.Duration
	AbortRetryDelay        time.Duration
	RefreshAfterErrorDelay time.Duration
	StuckRecheckDelay      time.Duration

	CorrectionInterval  time.Duration
	HealthCheckInterval time.Duration
	StaleAfter          time.Duration
	ReconnectDelay      time.Duration

	ProjectorInterval time.Duration
	DisplayStaleAfter time.Duration
	DisplayMaxDrift   float64 // seconds
	DefaultLatency    time.Duration
}

// DefaultPolicy returns the production policy
func DefaultPolicy() Policy {
	cfg := config.DefaultSyncConfig()
	return NewPolicy(&cfg)
}

// NewPolicy converts the [sync] configuration section into a Policy
func NewPolicy(cfg *config.SyncConfig) Policy {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	return Policy{
		EchoWindow:      ms(cfg.EchoWindowMs),
		ResyncThreshold: cfg.ResyncThreshold,
		SeekThreshold:   cfg.SeekThreshold,
		GrossDesync:     cfg.GrossDesync,
		StaleStateAge:   ms(cfg.StaleStateAgeMs),

		DebounceDelay:          ms(cfg.DebounceMs),
		SourceReadyTimeout:     ms(cfg.SourceReadyTimeoutMs),
		RefreshReadyTimeout:    ms(cfg.RefreshReadyTimeoutMs),
		PlayVerifyDelay:        ms(cfg.PlayVerifyMs),
		AbortRetryDelay:        ms(cfg.AbortRetryMs),
		RefreshAfterErrorDelay: ms(cfg.RefreshAfterErrorMs),
		StuckRecheckDelay:      ms(cfg.StuckRecheckMs),

		CorrectionInterval:  ms(cfg.CorrectionIntervalMs),
		HealthCheckInterval: ms(cfg.HealthCheckIntervalMs),
		StaleAfter:          ms(cfg.StaleAfterMs),
		ReconnectDelay:      ms(cfg.ReconnectDelayMs),

		ProjectorInterval: ms(cfg.ProjectorIntervalMs),
		DisplayStaleAfter: ms(cfg.DisplayStaleAfterMs),
		DisplayMaxDrift:   cfg.DisplayMaxDrift,
		DefaultLatency:    ms(cfg.DefaultLatencyMs),
	}
}
