// Package scheduler implements the Scheduler / Power Controller: a
// power-state machine driven by client-reported hook activity, gating
// which pipeline work runs, plus a cron-based dispatcher for persisted
// scheduled tasks.
package scheduler

import (
	"time"

	"github.com/openagentkit/ci/internal/config"
)

// PowerState is the daemon's current activity tier, used to gate which
// pipeline steps run on a given tick.
type PowerState string

const (
	StateActive    PowerState = "active"
	StateIdle      PowerState = "idle"
	StateSleep     PowerState = "sleep"
	StateDeepSleep PowerState = "deep_sleep"
)

// PowerController tracks the most recent hook activity and derives the
// current PowerState from the configured idle thresholds.
type PowerController struct {
	thresholds       config.PowerThresholds
	startTime        time.Time
	lastHookActivity *time.Time
}

func NewPowerController(thresholds config.PowerThresholds, startTime time.Time) *PowerController {
	return &PowerController{thresholds: thresholds, startTime: startTime}
}

// RecordActivity marks now as the most recent client/hook activity,
// called on every hook ingestion request.
func (p *PowerController) RecordActivity(now time.Time) {
	p.lastHookActivity = &now
}

// State computes the current power state from elapsed idle time. If
// last_hook_activity is unset, start_time is used as the baseline; if
// neither threshold can be parsed the daemon stays ACTIVE forever, per
// spec.md §4.H's documented fallback.
func (p *PowerController) State(now time.Time) PowerState {
	baseline := p.startTime
	if p.lastHookActivity != nil {
		baseline = *p.lastHookActivity
	}
	idleFor := now.Sub(baseline)

	deepSleep, dsErr := time.ParseDuration(p.thresholds.DeepSleepAfter)
	sleep, sErr := time.ParseDuration(p.thresholds.SleepAfter)
	idle, iErr := time.ParseDuration(p.thresholds.IdleAfter)
	if dsErr != nil && sErr != nil && iErr != nil {
		return StateActive
	}

	switch {
	case dsErr == nil && idleFor >= deepSleep:
		return StateDeepSleep
	case sErr == nil && idleFor >= sleep:
		return StateSleep
	case iErr == nil && idleFor >= idle:
		return StateIdle
	default:
		return StateActive
	}
}

// PipelineSteps describes which categories of pipeline work a power
// state permits.
type PipelineSteps struct {
	Maintenance   bool // stuck/stale/orphan recovery, governance prune
	EmbeddingHeavy bool // observation extraction, summarization, indexing
	Heartbeat     bool
}

// StepsFor returns the allowed pipeline work for a power state, per the
// table in spec.md §4.H.
func StepsFor(state PowerState) PipelineSteps {
	switch state {
	case StateActive:
		return PipelineSteps{Maintenance: true, EmbeddingHeavy: true, Heartbeat: true}
	case StateIdle:
		return PipelineSteps{Maintenance: true, Heartbeat: true}
	case StateSleep:
		return PipelineSteps{Heartbeat: true}
	default: // StateDeepSleep
		return PipelineSteps{}
	}
}
