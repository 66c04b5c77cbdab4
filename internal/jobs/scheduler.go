// Package jobs schedules periodic snapshot runs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/snapshot"
)

type Starter interface {
	Start(ctx context.Context, jql string, mode snapshot.Mode) (string, error)
}

type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler registers a full snapshot on spec, a standard five-field cron
// expression. Ticks that land on a running snapshot are skipped.
func NewScheduler(spec, jql string, s Starter, log zerolog.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty cron spec")
	}
	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)))
	sch := &Scheduler{cron: c, log: log}
	if _, err := c.AddFunc(spec, func() { sch.tick(s, jql) }); err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return sch, nil
}

func (sch *Scheduler) tick(s Starter, jql string) {
	runID, err := s.Start(context.Background(), jql, snapshot.ModeAll)
	switch {
	case errors.Is(err, snapshot.ErrAlreadyRunning):
		sch.log.Info().Msg("cron: snapshot already running, skipping")
	case err != nil:
		sch.log.Error().Err(err).Msg("cron: snapshot start failed")
	default:
		sch.log.Info().Str("run_id", runID).Msg("cron: snapshot started")
	}
}

func (sch *Scheduler) Start() { sch.cron.Start() }

// Stop halts scheduling and returns a context done once running jobs return.
func (sch *Scheduler) Stop() context.Context { return sch.cron.Stop() }

func (sch *Scheduler) Entries() int { return len(sch.cron.Entries()) }
