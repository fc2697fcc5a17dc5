package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/aminederouich/pfe-back-sub000/internal/repo"
	"github.com/aminederouich/pfe-back-sub000/internal/scoring"
	"github.com/aminederouich/pfe-back-sub000/internal/ticketsync"
	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/rs/zerolog"
)

type fakeJobs struct {
	busy     bool
	started  []repo.JobKind
	finished []repo.JobStats
}

func (f *fakeJobs) WithAdvisoryLock(ctx context.Context, _ int64, fn func(ctx context.Context) error) (bool, error) {
	if f.busy {
		return false, nil
	}
	return true, fn(ctx)
}

func (f *fakeJobs) StartJobRun(_ context.Context, kind repo.JobKind) (int64, error) {
	f.started = append(f.started, kind)
	return int64(len(f.started)), nil
}

func (f *fakeJobs) FinishJobRun(_ context.Context, _ int64, st repo.JobStats) error {
	f.finished = append(f.finished, st)
	return nil
}

func (f *fakeJobs) GetLastRun(context.Context, repo.JobKind) (*repo.LastRun, error) { return nil, nil }

type fakeRules struct {
	byOwner map[string]*domain.Rule
	upserts []domain.RuleInput
}

func (f *fakeRules) FindByOwnerID(_ context.Context, owner string) (*domain.Rule, error) {
	return f.byOwner[owner], nil
}

func (f *fakeRules) UpsertByOwnerID(_ context.Context, in domain.RuleInput) (domain.Rule, domain.Operation, error) {
	if err := in.Validate(); err != nil {
		return domain.Rule{}, "", err
	}
	f.upserts = append(f.upserts, in)
	return domain.Rule{ID: "r-" + in.OwnerID, OwnerID: in.OwnerID}, domain.OperationCreated, nil
}

type fakeTickets struct {
	rows     map[string]*domain.Ticket
	inserted []domain.Ticket
}

func (f *fakeTickets) Insert(_ context.Context, t *domain.Ticket) error {
	t.ID = "manual-1"
	f.inserted = append(f.inserted, *t)
	return nil
}

func (f *fakeTickets) GetMany(_ context.Context, ids []string) (map[string]*domain.Ticket, error) {
	out := map[string]*domain.Ticket{}
	for _, id := range ids {
		if t, ok := f.rows[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

type fakeUsers struct{ upserted []domain.UserProfile }

func (f *fakeUsers) UpsertBatch(_ context.Context, u []domain.UserProfile) error {
	f.upserted = append(f.upserted, u...)
	return nil
}

type fakeScorer struct {
	CalculateFunc func(ticketID, ruleID string) (domain.Score, error)
	calls         []string
}

func (f *fakeScorer) CalculateTicketScore(_ context.Context, ticketID, ruleID string) (domain.Score, error) {
	f.calls = append(f.calls, ticketID+"/"+ruleID)
	if f.CalculateFunc != nil {
		return f.CalculateFunc(ticketID, ruleID)
	}
	return domain.Score{TicketID: ticketID, RuleID: ruleID}, nil
}

func (f *fakeScorer) CalculateMultipleTicketScores(context.Context, []string, string) ([]scoring.BatchResult, error) {
	return nil, nil
}

type fakeSyncer struct {
	report ticketsync.Report
	err    error
}

func (f fakeSyncer) SyncAll(context.Context) (ticketsync.Report, error) { return f.report, f.err }

func (f fakeSyncer) SyncIssue(_ context.Context, key string) (ticketsync.Report, error) {
	rep := f.report
	rep.Projects = []string{key}
	return rep, f.err
}

type fakeWeekly struct{ res weekly.Result }

func (f fakeWeekly) ProcessWeeklyTopScores(context.Context) (weekly.Result, error) { return f.res, nil }

func (f fakeWeekly) ProcessWeek(_ context.Context, start, _ time.Time) (weekly.Result, error) {
	r := f.res
	r.WeekID = weekly.WeekID(start)
	return r, nil
}

func assigned(id, key, account, email string) *domain.Ticket {
	return &domain.Ticket{ID: id, Key: key, Fields: domain.Fields{
		"assignee": map[string]any{"accountId": account, "emailAddress": email, "displayName": strings.ToUpper(account)},
	}}
}

func TestRunSync_ScoresTouchedTicketsUnderAssigneeRule(t *testing.T) {
	jobs := &fakeJobs{}
	users := &fakeUsers{}
	scorer := &fakeScorer{CalculateFunc: func(ticketID, _ string) (domain.Score, error) {
		if ticketID == "t3" {
			return domain.Score{}, errors.New("boom")
		}
		return domain.Score{}, nil
	}}
	svc := New(config.Config{ScoreOnSync: true}, zerolog.Nop(), Deps{
		Jobs:  jobs,
		Rules: &fakeRules{byOwner: map[string]*domain.Rule{"acc-1": {ID: "rule-1", OwnerID: "acc-1"}}},
		Tickets: &fakeTickets{rows: map[string]*domain.Ticket{
			"t1": assigned("t1", "P-1", "acc-1", "one@example.com"),
			"t2": assigned("t2", "P-2", "acc-2", ""),
			"t3": assigned("t3", "P-3", "acc-1", "one@example.com"),
			"t4": {ID: "t4", Key: "P-4", Fields: domain.Fields{}},
		}},
		Users:  users,
		Scorer: scorer,
		Syncer: fakeSyncer{report: ticketsync.Report{Seen: 5, Created: 4, Touched: []string{"t1", "t2", "t3", "t4"}}},
	})

	sum, err := svc.RunSync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sum.Scored != 1 || sum.ScoreFailed != 1 {
		t.Fatalf("expected 1 scored and 1 failed, got %+v", sum)
	}
	if len(scorer.calls) != 2 || scorer.calls[0] != "t1/rule-1" {
		t.Fatalf("unexpected scorer calls %v", scorer.calls)
	}
	if len(users.upserted) != 2 || sum.UsersUpdated != 2 {
		t.Fatalf("expected two distinct assignees recorded, got %+v", users.upserted)
	}
	if len(jobs.started) != 1 || jobs.started[0] != repo.JobSync || !jobs.finished[0].Success || jobs.finished[0].Items != 5 {
		t.Fatalf("job run not recorded: %+v %+v", jobs.started, jobs.finished)
	}
}

func TestRunSync_RecordsFailureAndLock(t *testing.T) {
	jobs := &fakeJobs{}
	svc := New(config.Config{}, zerolog.Nop(), Deps{
		Jobs: jobs, Tickets: &fakeTickets{}, Users: &fakeUsers{}, Rules: &fakeRules{}, Scorer: &fakeScorer{},
		Syncer: fakeSyncer{err: errors.New("jira down")},
	})
	if _, err := svc.RunSync(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(jobs.finished) != 1 || jobs.finished[0].Success || jobs.finished[0].Error != "jira down" {
		t.Fatalf("failure not recorded: %+v", jobs.finished)
	}

	jobs.busy = true
	if _, err := svc.RunSync(context.Background()); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}

	noTracker := New(config.Config{}, zerolog.Nop(), Deps{Jobs: &fakeJobs{}})
	if _, err := noTracker.RunSync(context.Background()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error without tracker, got %v", err)
	}
}

func TestSyncIssue_ScoresAndRecordsRun(t *testing.T) {
	jobs := &fakeJobs{}
	scorer := &fakeScorer{}
	svc := New(config.Config{ScoreOnSync: true}, zerolog.Nop(), Deps{
		Jobs:    jobs,
		Rules:   &fakeRules{byOwner: map[string]*domain.Rule{"acc-1": {ID: "rule-1", OwnerID: "acc-1"}}},
		Tickets: &fakeTickets{rows: map[string]*domain.Ticket{"t1": assigned("t1", "P-1", "acc-1", "")}},
		Users:   &fakeUsers{},
		Scorer:  scorer,
		Syncer:  fakeSyncer{report: ticketsync.Report{Seen: 1, Updated: 1, Touched: []string{"t1"}}},
	})

	sum, err := svc.SyncIssue(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("sync issue: %v", err)
	}
	if sum.Scored != 1 || len(sum.Projects) != 1 || sum.Projects[0] != "P-1" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(jobs.started) != 1 || jobs.started[0] != repo.JobSync || jobs.finished[0].Items != 1 {
		t.Fatalf("job run not recorded: %+v", jobs.finished)
	}

	if _, err := svc.SyncIssue(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty key, got %v", err)
	}
	if len(jobs.started) != 1 {
		t.Fatalf("empty key must not start a job")
	}
}

func TestWeeklyRuns_RecordSentAndFailures(t *testing.T) {
	jobs := &fakeJobs{}
	res := weekly.Result{WeekID: "20240506", Sent: 2, AllScores: make([]domain.LeaderboardEntry, 3),
		Failures: []weekly.Failure{{Stage: weekly.StageEmail, Recipient: "x@example.com", Err: "nope"}}}
	svc := New(config.Config{}, zerolog.Nop(), Deps{Jobs: jobs, Weekly: fakeWeekly{res: res}})

	got, err := svc.RunWeekly(context.Background())
	if err != nil || got.Sent != 2 {
		t.Fatalf("weekly: %+v %v", got, err)
	}
	if st := jobs.finished[0]; st.Sent != 2 || st.Items != 3 || !st.Success {
		t.Fatalf("unexpected job stats %+v", st)
	}

	got, err = svc.RecomputeWeek(context.Background(), time.Date(2024, 4, 29, 0, 0, 0, 0, time.UTC), time.Time{})
	if err != nil || got.WeekID != "20240429" {
		t.Fatalf("recompute: %+v %v", got, err)
	}
	if jobs.started[1] != repo.JobWeekly {
		t.Fatalf("unexpected job kind %v", jobs.started)
	}
}

func TestLookupsMapMissesToNotFound(t *testing.T) {
	svc := New(config.Config{}, zerolog.Nop(), Deps{Jobs: &fakeJobs{}, Rules: &fakeRules{}, Snapshots: nilSnapshots{}})
	if _, err := svc.GetRule(context.Background(), "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rule: %v", err)
	}
	if _, err := svc.GetLastRun(context.Background(), "weekly"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("last run: %v", err)
	}
	if _, err := svc.GetLastRun(context.Background(), "digest"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("last run kind: %v", err)
	}
	if _, err := svc.WeeklyLeaderboard(context.Background(), "20240506", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := svc.WeeklyLeaderboard(context.Background(), "2024-05-06", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("snapshot id: %v", err)
	}
}

type nilSnapshots struct{}

func (nilSnapshots) GetSnapshot(context.Context, string, domain.SnapshotKind) (*domain.WeeklySnapshot, error) {
	return nil, nil
}

func TestAddManualTicket(t *testing.T) {
	tickets := &fakeTickets{}
	svc := New(config.Config{}, zerolog.Nop(), Deps{Tickets: tickets})
	if _, err := svc.AddManualTicket(context.Background(), ManualTicket{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := svc.AddManualTicket(context.Background(), ManualTicket{Key: "MAN-1", Attributes: domain.Attributes{Priority: "High"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got.ID != "manual-1" || got.ConfigID != "" || got.CreatedAt.IsZero() || tickets.inserted[0].Attributes.Priority != "High" {
		t.Fatalf("unexpected ticket %+v", got)
	}
}

func TestImportRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - ownerId: acc-1
    priority:
      High: {checked: true, value: 10}
    deadline:
      rule1: {checked: true, value: "5"}
      rule2: {checked: false, value: 3}
  - ownerId: acc-2
    resolution:
      Terminé: {checked: true, value: 7}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rules := &fakeRules{}
	svc := New(config.Config{}, zerolog.Nop(), Deps{Rules: rules})
	res, err := svc.ImportRules(context.Background(), path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(res) != 2 || res[0].Operation != domain.OperationCreated || res[1].Error != "" {
		t.Fatalf("unexpected results %+v", res)
	}
	first := rules.upserts[0]
	if first.Priority["High"].Value != 10 || first.Deadline == nil || first.Deadline.Rule1.Points() != 5 || first.Deadline.Rule2.Points() != 0 {
		t.Fatalf("unexpected parsed rule %+v", first)
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("rules:\n  - priority: {urgent: {checked: true, value: 1}}\n"), 0o600)
	if _, err := svc.ImportRules(context.Background(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(rules.upserts) != 2 {
		t.Fatalf("invalid file must not be partially imported")
	}
}
