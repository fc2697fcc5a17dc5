/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/aminederouich/pfe-back-sub000/internal/repo"
	"github.com/aminederouich/pfe-back-sub000/internal/scoring"
	"github.com/aminederouich/pfe-back-sub000/internal/ticketsync"
	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/rs/zerolog"
)

// ErrJobRunning is returned when another instance holds the job's lock.
var ErrJobRunning = errors.New("job already running")

type JobStore interface {
	WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error)
	StartJobRun(ctx context.Context, kind repo.JobKind) (int64, error)
	FinishJobRun(ctx context.Context, id int64, st repo.JobStats) error
	GetLastRun(ctx context.Context, kind repo.JobKind) (*repo.LastRun, error)
}

type RuleRepo interface {
	FindByOwnerID(ctx context.Context, ownerID string) (*domain.Rule, error)
	UpsertByOwnerID(ctx context.Context, in domain.RuleInput) (domain.Rule, domain.Operation, error)
}

type TicketRepo interface {
	Insert(ctx context.Context, t *domain.Ticket) error
	GetMany(ctx context.Context, ids []string) (map[string]*domain.Ticket, error)
}

type ScoreRepo interface {
	ListByOwnerID(ctx context.Context, ownerID string) ([]domain.Score, error)
}

type UserRepo interface {
	UpsertBatch(ctx context.Context, users []domain.UserProfile) error
}

type SnapshotRepo interface {
	GetSnapshot(ctx context.Context, id string, kind domain.SnapshotKind) (*domain.WeeklySnapshot, error)
}

type Scorer interface {
	CalculateTicketScore(ctx context.Context, ticketID, ruleID string) (domain.Score, error)
	CalculateMultipleTicketScores(ctx context.Context, ticketIDs []string, ruleID string) ([]scoring.BatchResult, error)
}

type Syncer interface {
	SyncAll(ctx context.Context) (ticketsync.Report, error)
	SyncIssue(ctx context.Context, key string) (ticketsync.Report, error)
}

type WeeklyRunner interface {
	ProcessWeeklyTopScores(ctx context.Context) (weekly.Result, error)
	ProcessWeek(ctx context.Context, start, end time.Time) (weekly.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	DB        Pinger
	Jobs      JobStore
	Rules     RuleRepo
	Tickets   TicketRepo
	Scores    ScoreRepo
	Users     UserRepo
	Snapshots SnapshotRepo
	Scorer    Scorer
	Syncer    Syncer // nil when no tracker is configured
	Weekly    WeeklyRunner
}

type Service struct {
	cfg config.Config
	log zerolog.Logger
	Deps
	now func() time.Time
}

func New(cfg config.Config, log zerolog.Logger, d Deps) *Service {
	return &Service{cfg: cfg, log: log, Deps: d, now: time.Now}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Ping(ctx)
}

// SyncSummary is a sync report plus what happened after reconciliation.
type SyncSummary struct {
	ticketsync.Report
	Scored       int `json:"scored"`
	ScoreFailed  int `json:"scoreFailed"`
	UsersUpdated int `json:"usersUpdated"`
}

// runJob holds the kind's advisory lock and records a job_runs row around fn.
func (s *Service) runJob(ctx context.Context, kind repo.JobKind, lockKey int64, fn func(ctx context.Context) (repo.JobStats, error)) error {
	var runErr error
	ok, err := s.Jobs.WithAdvisoryLock(ctx, lockKey, func(ctx context.Context) error {
		runID, err := s.Jobs.StartJobRun(ctx, kind)
		if err != nil {
			s.log.Error().Err(err).Str("kind", string(kind)).Msg("start job run failed")
		}
		st, ferr := fn(ctx)
		st.Success = ferr == nil
		if ferr != nil {
			st.Error = ferr.Error()
		}
		if runID != 0 {
			// record the outcome even when ctx was cancelled mid-run
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.Jobs.FinishJobRun(fctx, runID, st); err != nil {
				s.log.Error().Err(err).Int64("run", runID).Msg("finish job run failed")
			}
		}
		runErr = ferr
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s lock: %w", kind, err)
	}
	if !ok {
		return ErrJobRunning
	}
	return runErr
}

// RunSync pulls every configured project, records tracker assignees and,
// when enabled, scores created or updated tickets under their assignee's rule.
func (s *Service) RunSync(ctx context.Context) (SyncSummary, error) {
	return s.sync(ctx, "all", func(ctx context.Context) (ticketsync.Report, error) { return s.Syncer.SyncAll(ctx) })
}

// SyncIssue resyncs a single tracker issue with the same follow-up as RunSync.
func (s *Service) SyncIssue(ctx context.Context, key string) (SyncSummary, error) {
	if key == "" {
		return SyncSummary{}, &domain.ValidationError{Field: "key"}
	}
	return s.sync(ctx, key, func(ctx context.Context) (ticketsync.Report, error) { return s.Syncer.SyncIssue(ctx, key) })
}

func (s *Service) sync(ctx context.Context, scope string, pull func(ctx context.Context) (ticketsync.Report, error)) (SyncSummary, error) {
	var sum SyncSummary
	if s.Syncer == nil {
		return sum, &domain.ValidationError{Field: "JIRA_BASE_URL", Reason: "tracker is not configured"}
	}
	err := s.runJob(ctx, repo.JobSync, repo.LockSync, func(ctx context.Context) (repo.JobStats, error) {
		s.log.Info().Str("scope", scope).Msg("sync: start")
		rep, err := pull(ctx)
		sum.Report = rep
		// tickets reconciled before a failure are still worth scoring
		s.afterSync(ctx, &sum)
		st := repo.JobStats{Items: rep.Seen, Details: sum}
		s.log.Info().Str("scope", scope).Int("seen", rep.Seen).Int("scored", sum.Scored).Int("score_failed", sum.ScoreFailed).Msg("sync: done")
		return st, err
	})
	return sum, err
}

func (s *Service) afterSync(ctx context.Context, sum *SyncSummary) {
	if len(sum.Touched) == 0 {
		return
	}
	tickets, err := s.Tickets.GetMany(ctx, sum.Touched)
	if err != nil {
		s.log.Error().Err(err).Msg("sync: load touched tickets failed")
		return
	}

	seen := map[string]bool{}
	var profiles []domain.UserProfile
	for _, t := range tickets {
		id := t.AssigneeID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		profiles = append(profiles, domain.UserProfile{
			AccountID:   id,
			Email:       t.Fields.String("assignee", "emailAddress"),
			DisplayName: t.Fields.String("assignee", "displayName"),
		})
	}
	if err := s.Users.UpsertBatch(ctx, profiles); err != nil {
		s.log.Error().Err(err).Msg("sync: upsert assignees failed")
	} else {
		sum.UsersUpdated = len(profiles)
	}

	if !s.cfg.ScoreOnSync {
		return
	}
	rules := map[string]*domain.Rule{}
	for _, id := range sum.Touched {
		t, ok := tickets[id]
		if !ok || t.AssigneeID() == "" {
			continue
		}
		owner := t.AssigneeID()
		rule, cached := rules[owner]
		if !cached {
			rule, err = s.Rules.FindByOwnerID(ctx, owner)
			if err != nil {
				s.log.Error().Err(err).Str("owner", owner).Msg("sync: load rule failed")
				sum.ScoreFailed++
				continue
			}
			rules[owner] = rule
		}
		if rule == nil {
			continue
		}
		if _, err := s.Scorer.CalculateTicketScore(ctx, t.ID, rule.ID); err != nil {
			s.log.Warn().Err(err).Str("ticket", t.Key).Msg("sync: scoring failed")
			sum.ScoreFailed++
			continue
		}
		sum.Scored++
	}
}

// RunWeekly processes the current week up to now.
func (s *Service) RunWeekly(ctx context.Context) (weekly.Result, error) {
	return s.weeklyJob(ctx, func(ctx context.Context) (weekly.Result, error) {
		return s.Weekly.ProcessWeeklyTopScores(ctx)
	})
}

// RecomputeWeek processes the closed window [start, end].
func (s *Service) RecomputeWeek(ctx context.Context, start, end time.Time) (weekly.Result, error) {
	return s.weeklyJob(ctx, func(ctx context.Context) (weekly.Result, error) {
		return s.Weekly.ProcessWeek(ctx, start, end)
	})
}

func (s *Service) weeklyJob(ctx context.Context, run func(ctx context.Context) (weekly.Result, error)) (weekly.Result, error) {
	var res weekly.Result
	err := s.runJob(ctx, repo.JobWeekly, repo.LockWeekly, func(ctx context.Context) (repo.JobStats, error) {
		s.log.Info().Msg("Weekly: start")
		r, err := run(ctx)
		res = r
		return repo.JobStats{
			Items:   len(r.AllScores),
			Sent:    r.Sent,
			Details: map[string]any{"weekId": r.WeekID, "failures": r.Failures},
		}, err
	})
	return res, err
}

func (s *Service) GetLastRun(ctx context.Context, kind string) (*repo.LastRun, error) {
	k := repo.JobKind(kind)
	if k != repo.JobSync && k != repo.JobWeekly {
		return nil, &domain.ValidationError{Field: "kind", Reason: "must be sync or weekly"}
	}
	lr, err := s.Jobs.GetLastRun(ctx, k)
	if err != nil {
		return nil, err
	}
	if lr == nil {
		return nil, &domain.NotFoundError{Kind: "job run", ID: kind}
	}
	return lr, nil
}

func (s *Service) GetRule(ctx context.Context, ownerID string) (*domain.Rule, error) {
	r, err := s.Rules.FindByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &domain.NotFoundError{Kind: "rule", ID: ownerID}
	}
	return r, nil
}

func (s *Service) UpsertRule(ctx context.Context, in domain.RuleInput) (domain.Rule, domain.Operation, error) {
	r, op, err := s.Rules.UpsertByOwnerID(ctx, in)
	if err != nil {
		return domain.Rule{}, "", err
	}
	s.log.Info().Str("owner", r.OwnerID).Str("op", string(op)).Msg("rule saved")
	return r, op, nil
}

// ManualTicket is a ticket entered by hand rather than synced.
type ManualTicket struct {
	Key        string            `json:"key"`
	Fields     domain.Fields     `json:"fields"`
	Attributes domain.Attributes `json:"attributes"`
}

func (s *Service) AddManualTicket(ctx context.Context, in ManualTicket) (domain.Ticket, error) {
	if in.Key == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "key"}
	}
	now := s.now()
	t := domain.Ticket{Key: in.Key, Fields: in.Fields, Attributes: in.Attributes, CreatedAt: now, UpdatedAt: now, LastSync: now}
	if err := s.Tickets.Insert(ctx, &t); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

func (s *Service) CalculateScore(ctx context.Context, ticketID, ruleID string) (domain.Score, error) {
	return s.Scorer.CalculateTicketScore(ctx, ticketID, ruleID)
}

func (s *Service) CalculateScores(ctx context.Context, ticketIDs []string, ruleID string) ([]scoring.BatchResult, error) {
	return s.Scorer.CalculateMultipleTicketScores(ctx, ticketIDs, ruleID)
}

func (s *Service) ScoresByOwner(ctx context.Context, ownerID string) ([]domain.Score, error) {
	if ownerID == "" {
		return nil, &domain.ValidationError{Field: "ownerId"}
	}
	out, err := s.Scores.ListByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Score{}
	}
	return out, nil
}

// WeeklyLeaderboard returns a stored weekly snapshot; kind defaults to top.
func (s *Service) WeeklyLeaderboard(ctx context.Context, weekID, kind string) (*domain.WeeklySnapshot, error) {
	if _, err := time.Parse("20060102", weekID); err != nil {
		return nil, &domain.ValidationError{Field: "weekId", Reason: "expected YYYYMMDD"}
	}
	k := domain.SnapshotKind(kind)
	if k == "" {
		k = domain.SnapshotTop
	}
	if k != domain.SnapshotTop && k != domain.SnapshotAll {
		return nil, &domain.ValidationError{Field: "kind", Reason: "must be top or all"}
	}
	snap, err := s.Snapshots.GetSnapshot(ctx, weekID, k)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &domain.NotFoundError{Kind: "weekly snapshot", ID: weekID}
	}
	return snap, nil
}
