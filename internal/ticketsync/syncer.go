/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package ticketsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/rs/zerolog"
)

// SearchPage is one offset page of a tracker search.
type SearchPage struct {
	Issues []domain.Ticket
	Total  int
}

type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Source is the external tracker.
type Source interface {
	SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (SearchPage, error)
	ListProjects(ctx context.Context) ([]Project, error)
	Issue(ctx context.Context, key string) (domain.Ticket, error)
}

type Report struct {
	Projects  []string  `json:"projects"`
	Seen      int       `json:"seen"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Touched   []string  `json:"-"` // ids of created or updated tickets
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

func (rep *Report) add(o Outcome) {
	rep.Seen++
	switch o.Op {
	case OpCreated:
		rep.Created++
		rep.Touched = append(rep.Touched, o.TicketID)
	case OpUpdated:
		rep.Updated++
		rep.Touched = append(rep.Touched, o.TicketID)
	default:
		rep.Unchanged++
	}
}

// Syncer drives the reconciler over every issue of the configured projects.
type Syncer struct {
	source   Source
	rec      *Reconciler
	configID string
	projects []string
	pageSize int
	retries  int
	backoff  time.Duration
	log      zerolog.Logger
}

type SyncerOptions struct {
	ConfigID string
	Projects []string // empty: every project the source lists
	PageSize int
	Retries  int // attempts per ticket on ConflictError
}

func NewSyncer(source Source, rec *Reconciler, opts SyncerOptions, log zerolog.Logger) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	return &Syncer{
		source: source, rec: rec, configID: opts.ConfigID, projects: opts.Projects,
		pageSize: opts.PageSize, retries: opts.Retries, backoff: 200 * time.Millisecond, log: log,
	}
}

func (s *Syncer) SyncAll(ctx context.Context) (Report, error) {
	rep := Report{Started: time.Now()}
	projects := s.projects
	if len(projects) == 0 {
		list, err := s.source.ListProjects(ctx)
		if err != nil {
			return rep, fmt.Errorf("list projects: %w", err)
		}
		for _, p := range list {
			projects = append(projects, p.Key)
		}
	}
	for _, p := range projects {
		if err := s.syncProject(ctx, p, &rep); err != nil {
			rep.Finished = time.Now()
			return rep, fmt.Errorf("project %s: %w", p, err)
		}
		rep.Projects = append(rep.Projects, p)
	}
	rep.Finished = time.Now()
	s.log.Info().Strs("projects", rep.Projects).Int("seen", rep.Seen).Int("created", rep.Created).
		Int("updated", rep.Updated).Int("unchanged", rep.Unchanged).Msg("sync: done")
	return rep, nil
}

func (s *Syncer) SyncProject(ctx context.Context, projectKey string) (Report, error) {
	rep := Report{Started: time.Now()}
	err := s.syncProject(ctx, projectKey, &rep)
	if err == nil {
		rep.Projects = []string{projectKey}
	}
	rep.Finished = time.Now()
	return rep, err
}

// SyncIssue fetches one issue by key and reconciles it.
func (s *Syncer) SyncIssue(ctx context.Context, key string) (Report, error) {
	rep := Report{Started: time.Now()}
	if key == "" {
		return rep, &domain.ValidationError{Field: "key"}
	}
	issue, err := s.source.Issue(ctx, key)
	if err != nil {
		rep.Finished = time.Now()
		return rep, fmt.Errorf("issue %s: %w", key, err)
	}
	o, err := s.syncWithRetry(ctx, issue)
	if err == nil {
		rep.add(o)
	}
	rep.Finished = time.Now()
	return rep, err
}

func (s *Syncer) syncProject(ctx context.Context, projectKey string, rep *Report) error {
	jql := fmt.Sprintf("project = %q", projectKey)
	startAt := 0
	for {
		page, err := s.source.SearchIssues(ctx, jql, startAt, s.pageSize)
		if err != nil {
			return fmt.Errorf("search at %d: %w", startAt, err)
		}
		if len(page.Issues) == 0 {
			return nil
		}
		for _, issue := range page.Issues {
			o, err := s.syncWithRetry(ctx, issue)
			if err != nil {
				return err
			}
			rep.add(o)
		}
		startAt += len(page.Issues)
		if startAt >= page.Total {
			return nil
		}
	}
}

func (s *Syncer) syncWithRetry(ctx context.Context, issue domain.Ticket) (Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		o, err := s.rec.SyncTicket(ctx, issue, s.configID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return Outcome{}, err
		}
		lastErr = err
		s.log.Warn().Err(err).Str("key", issue.Key).Int("attempt", attempt+1).Msg("sync: conflict, retrying")
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(s.backoff * time.Duration(1<<attempt)):
		}
	}
	return Outcome{}, lastErr
}
