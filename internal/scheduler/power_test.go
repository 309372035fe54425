package scheduler

import (
	"testing"
	"time"

	"github.com/openagentkit/ci/internal/config"
)

func TestPowerController_State(t *testing.T) {
	thresholds := config.PowerThresholds{IdleAfter: "10m", SleepAfter: "30m", DeepSleepAfter: "4h"}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc := NewPowerController(thresholds, start)

	cases := []struct {
		name    string
		elapsed time.Duration
		want    PowerState
	}{
		{"just started", 0, StateActive},
		{"5 minutes idle", 5 * time.Minute, StateActive},
		{"15 minutes idle", 15 * time.Minute, StateIdle},
		{"45 minutes idle", 45 * time.Minute, StateSleep},
		{"5 hours idle", 5 * time.Hour, StateDeepSleep},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := pc.State(start.Add(c.elapsed))
			if got != c.want {
				t.Errorf("State = %s, want %s", got, c.want)
			}
		})
	}
}

func TestPowerController_RecordActivityResetsBaseline(t *testing.T) {
	thresholds := config.PowerThresholds{IdleAfter: "10m", SleepAfter: "30m", DeepSleepAfter: "4h"}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc := NewPowerController(thresholds, start)

	later := start.Add(time.Hour)
	pc.RecordActivity(later)

	// 5 minutes after the recorded activity should be ACTIVE, even
	// though it's well past the idle threshold relative to start time.
	got := pc.State(later.Add(5 * time.Minute))
	if got != StateActive {
		t.Errorf("State = %s, want active after recent activity", got)
	}
}

func TestPowerController_UnparseableThresholdsStaysActive(t *testing.T) {
	thresholds := config.PowerThresholds{} // empty strings fail to parse
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc := NewPowerController(thresholds, start)

	got := pc.State(start.Add(100 * time.Hour))
	if got != StateActive {
		t.Errorf("State = %s, want active when thresholds unparseable", got)
	}
}

func TestStepsFor(t *testing.T) {
	cases := map[PowerState]PipelineSteps{
		StateActive:    {Maintenance: true, EmbeddingHeavy: true, Heartbeat: true},
		StateIdle:      {Maintenance: true, Heartbeat: true},
		StateSleep:     {Heartbeat: true},
		StateDeepSleep: {},
	}
	for state, want := range cases {
		if got := StepsFor(state); got != want {
			t.Errorf("StepsFor(%s) = %+v, want %+v", state, got, want)
		}
	}
}
