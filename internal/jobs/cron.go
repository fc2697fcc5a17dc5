/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/services"
	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type service interface {
	RunSync(ctx context.Context) (services.SyncSummary, error)
	RunWeekly(ctx context.Context) (weekly.Result, error)
}

type Cron struct {
	cfg     config.Config
	log     zerolog.Logger
	svc     service
	c       *cron.Cron
	timeout time.Duration
}

// NewCron registers the weekly job and, when a tracker is configured, the
// periodic sync. Locking across instances happens inside the service.
func NewCron(cfg config.Config, log zerolog.Logger, svc service) (*Cron, error) {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, c: c, timeout: 30 * time.Minute}
	if _, err := c.AddFunc(cfg.WeeklyCron, cr.weekly); err != nil {
		return nil, fmt.Errorf("weekly cron %q: %w", cfg.WeeklyCron, err)
	}
	if cfg.JiraBaseURL != "" && cfg.SyncCron != "" {
		if _, err := c.AddFunc(cfg.SyncCron, cr.sync); err != nil {
			return nil, fmt.Errorf("sync cron %q: %w", cfg.SyncCron, err)
		}
	}
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop halts scheduling and waits for running jobs until ctx expires.
func (cr *Cron) Stop(ctx context.Context) {
	select {
	case <-cr.c.Stop().Done():
	case <-ctx.Done():
		cr.log.Warn().Msg("cron: stop timed out with jobs still running")
	}
}

// Entries reports how many schedules are registered.
func (cr *Cron) Entries() int { return len(cr.c.Entries()) }

func (cr *Cron) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), cr.timeout)
	defer cancel()
	cr.log.Info().Msg("cron: sync")
	sum, err := cr.svc.RunSync(ctx)
	cr.report("sync", err)
	if err == nil {
		cr.log.Info().Int("seen", sum.Seen).Int("scored", sum.Scored).Msg("cron: sync done")
	}
}

func (cr *Cron) weekly() {
	ctx, cancel := context.WithTimeout(context.Background(), cr.timeout)
	defer cancel()
	cr.log.Info().Msg("cron: weekly leaderboard")
	res, err := cr.svc.RunWeekly(ctx)
	cr.report("weekly", err)
	if err == nil {
		cr.log.Info().Str("week", res.WeekID).Int("sent", res.Sent).Int("failures", len(res.Failures)).Msg("cron: weekly done")
	}
}

func (cr *Cron) report(job string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, services.ErrJobRunning):
		cr.log.Info().Str("job", job).Msg("cron: already running elsewhere")
	default:
		cr.log.Error().Err(err).Str("job", job).Msg("cron: job failed")
	}
}
