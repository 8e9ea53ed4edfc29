package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronConfig describes one scheduled prompt.
type CronConfig struct {
	Schedule string `yaml:"schedule"` // standard 5-field cron expression, or "@every ..."
	Prompt   string `yaml:"prompt"`
	Timezone string `yaml:"timezone"` // IANA name; empty means local time
}

// CronTrigger fires its prompt at scheduled wall-clock times.
type CronTrigger struct {
	cfg CronConfig
	cb  Callback
	log zerolog.Logger

	runner *cron.Cron
}

// NewCronTrigger builds a cron trigger that invokes cb on every scheduled
// fire.
func NewCronTrigger(cfg CronConfig, cb Callback, log zerolog.Logger) (*CronTrigger, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	runner := cron.New(cron.WithLocation(loc))
	return &CronTrigger{cfg: cfg, cb: cb, log: log, runner: runner}, nil
}

// Start registers the schedule and starts the underlying cron runner.
func (t *CronTrigger) Start() error {
	_, err := t.runner.AddFunc(t.cfg.Schedule, func() {
		t.log.Debug().Str("schedule", t.cfg.Schedule).Msg("cron trigger fired")
		t.cb(Event{
			TriggerType: "cron",
			Prompt:      t.cfg.Prompt,
			Metadata:    map[string]string{"schedule": t.cfg.Schedule},
		})
	})
	if err != nil {
		return fmt.Errorf("register cron schedule %q: %w", t.cfg.Schedule, err)
	}
	t.runner.Start()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight fire to complete.
func (t *CronTrigger) Stop() {
	<-t.runner.Stop().Done()
}
