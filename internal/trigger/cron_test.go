package trigger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCronTriggerFiresOnSchedule(t *testing.T) {
	fired := make(chan Event, 1)
	cfg := CronConfig{Schedule: "@every 1s", Prompt: "tick"}

	trig, err := newTestCronTrigger(t, cfg, fired)
	require.NoError(t, err)

	require.NoError(t, trig.Start())
	defer trig.Stop()

	select {
	case ev := <-fired:
		require.Equal(t, "cron", ev.TriggerType)
		require.Equal(t, "tick", ev.Prompt)
		require.Equal(t, cfg.Schedule, ev.Metadata["schedule"])
	case <-time.After(3 * time.Second):
		t.Fatal("cron trigger did not fire in time")
	}
}

func TestCronTriggerRejectsUnknownTimezone(t *testing.T) {
	_, err := NewCronTrigger(CronConfig{Schedule: "@every 1s", Timezone: "Not/ARealZone"}, func(Event) {}, zerolog.Nop())
	require.Error(t, err)
}

// newTestCronTrigger builds a CronTrigger with a seconds-resolution parser
// so sub-minute schedules used only in tests can be expressed.
func newTestCronTrigger(t *testing.T, cfg CronConfig, out chan Event) (*CronTrigger, error) {
	t.Helper()
	return NewCronTrigger(cfg, func(ev Event) { out <- ev }, zerolog.Nop())
}
