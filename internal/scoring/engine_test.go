package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/rs/zerolog"
)

func baseRule() domain.Rule {
	return domain.Rule{
		ID:      "rule-1",
		OwnerID: "team-owner",
		Priority: map[domain.Priority]domain.RuleEntry{
			domain.PriorityHigh: {Checked: true, Value: 10},
			domain.PriorityLow:  {Checked: true, Value: 2},
		},
		IssueType: map[domain.IssueType]domain.RuleEntry{
			domain.IssueTypeStory: {Checked: true, Value: 8},
			"user_story":          {Checked: true, Value: 4},
		},
		Deadline: domain.DeadlineRule{
			Rule1: domain.RuleEntry{Checked: true, Value: 15},
			Rule2: domain.RuleEntry{Checked: true, Value: 5},
		},
		Resolution: map[string]domain.RuleEntry{
			"termine": {Checked: true, Value: 10},
			"fixed":   {Checked: true, Value: -3},
		},
	}
}

func doneTicket(changed, due string) domain.Ticket {
	return domain.Ticket{
		ID:  "t-1",
		Key: "PROJ-1",
		Fields: domain.Fields{
			"priority":                 map[string]any{"name": "High"},
			"issuetype":                map[string]any{"name": "Story"},
			"resolution":               map[string]any{"name": "Terminé"},
			"statuscategorychangedate": changed,
			"duedate":                  due,
			"assignee":                 map[string]any{"accountId": "acc-1"},
		},
	}
}

func TestExplain_FullScoreIsDeterministic(t *testing.T) {
	tk := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
	r := baseRule()
	want := Breakdown{Priority: 10, IssueType: 8, Deadline: 15, Resolution: 10}
	for i := 0; i < 3; i++ {
		got := ExplainIn(tk, r, time.UTC)
		if got != want {
			t.Fatalf("run %d: got %+v want %+v", i, got, want)
		}
		if got.Total() != 43 {
			t.Fatalf("expected 43, got %d", got.Total())
		}
	}
}

func TestExplain_UncheckedContributesZero(t *testing.T) {
	tk := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
	cases := []struct {
		name   string
		mutate func(r *domain.Rule)
		want   Breakdown
	}{
		{"priority", func(r *domain.Rule) { r.Priority[domain.PriorityHigh] = domain.RuleEntry{Value: 10} }, Breakdown{0, 8, 15, 10}},
		{"issuetype", func(r *domain.Rule) { r.IssueType[domain.IssueTypeStory] = domain.RuleEntry{Value: 8} }, Breakdown{10, 0, 15, 10}},
		{"deadline", func(r *domain.Rule) { r.Deadline.Rule1.Checked = false }, Breakdown{10, 8, 0, 10}},
		{"resolution", func(r *domain.Rule) { r.Resolution["termine"] = domain.RuleEntry{Value: 10} }, Breakdown{10, 8, 15, 0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := baseRule()
			c.mutate(&r)
			if got := ExplainIn(tk, r, time.UTC); got != c.want {
				t.Fatalf("got %+v want %+v", got, c.want)
			}
		})
	}
}

func TestExplain_DeadlineGate(t *testing.T) {
	for _, res := range []string{"Done", "Terminée", "fixed", ""} {
		tk := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
		tk.Fields["resolution"] = map[string]any{"name": res}
		if got := ExplainIn(tk, baseRule(), time.UTC).Deadline; got != 0 {
			t.Errorf("resolution %q: expected deadline 0, got %d", res, got)
		}
	}
	tk := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
	tk.Fields["resolution"] = map[string]any{"name": "TERMINE"}
	if got := ExplainIn(tk, baseRule(), time.UTC).Deadline; got != 15 {
		t.Fatalf("upper-case unaccented resolution should pass the gate, got %d", got)
	}
}

func TestExplain_DeadlineTiming(t *testing.T) {
	cases := []struct {
		name, changed, due string
		want               int
	}{
		{"day before", "2024-03-14T23:59:00.000+0000", "2024-03-15", 15},
		{"same day after midnight", "2024-03-15T18:00:00.000+0000", "2024-03-15", 5},
		{"same day earlier than a timed deadline", "2024-03-15T08:00:00.000+0000", "2024-03-15T17:00:00.000+0000", 5},
		{"late", "2024-03-16T08:00:00.000+0000", "2024-03-15", 0},
		{"missing deadline", "2024-03-14T08:00:00.000+0000", "", 0},
		{"unparseable change date", "yesterday", "2024-03-15", 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tk := doneTicket(c.changed, c.due)
			if got := ExplainIn(tk, baseRule(), time.UTC).Deadline; got != c.want {
				t.Fatalf("got %d want %d", got, c.want)
			}
		})
	}
}

func TestExplain_TopLevelFallbacks(t *testing.T) {
	tk := domain.Ticket{
		ID:     "manual-1",
		Fields: domain.Fields{},
		Attributes: domain.Attributes{
			Priority:                 "low",
			Type:                     "User Story",
			Resolution:               "Fixed",
			Deadline:                 "2024-03-10",
			StatusCategoryChangeDate: "2024-03-01T10:00:00Z",
		},
	}
	got := ExplainIn(tk, baseRule(), time.UTC)
	// resolution "Fixed" is not the done term, so the deadline is gated off
	want := Breakdown{Priority: 2, IssueType: 4, Deadline: 0, Resolution: -3}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if got.Total() != 3 {
		t.Fatalf("expected total 3, got %d", got.Total())
	}
}

func TestExplain_UnknownValuesAndEmptyRule(t *testing.T) {
	tk := domain.Ticket{Fields: domain.Fields{
		"priority":  map[string]any{"name": "Urgent"},
		"issuetype": "not-an-object",
	}}
	if got := ExplainIn(tk, baseRule(), time.UTC).Total(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := Calculate(doneTicket("2024-03-14T09:30:00Z", "2024-03-15"), domain.Rule{}); got != 0 {
		t.Fatalf("empty rule should score 0, got %d", got)
	}
}

type fakeRules struct {
	GetByIDFunc func(ctx context.Context, id string) (*domain.Rule, error)
}

func (f *fakeRules) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	return f.GetByIDFunc(ctx, id)
}

type fakeTickets struct{ byID map[string]domain.Ticket }

func (f *fakeTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	if t, ok := f.byID[id]; ok {
		return &t, nil
	}
	return nil, nil
}

type fakeScores struct {
	saved map[string]domain.Score
	calls int
}

func (f *fakeScores) Upsert(_ context.Context, s domain.Score) (domain.Score, error) {
	f.calls++
	if f.saved == nil {
		f.saved = map[string]domain.Score{}
	}
	k := s.TicketID + "/" + s.RuleID
	if prev, ok := f.saved[k]; ok {
		s.ID = prev.ID
	} else {
		s.ID = "score-" + k
	}
	f.saved[k] = s
	return s, nil
}

func newTestEngine(tickets map[string]domain.Ticket) (*Engine, *fakeScores, *int) {
	ruleCalls := 0
	rules := &fakeRules{GetByIDFunc: func(_ context.Context, id string) (*domain.Rule, error) {
		ruleCalls++
		if id != "rule-1" {
			return nil, nil
		}
		r := baseRule()
		return &r, nil
	}}
	scores := &fakeScores{}
	e := NewEngine(rules, &fakeTickets{byID: tickets}, scores, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC) }
	return e, scores, &ruleCalls
}

func TestCalculateTicketScore_UpsertsPerTicketAndRule(t *testing.T) {
	tk := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
	e, scores, _ := newTestEngine(map[string]domain.Ticket{"t-1": tk})
	ctx := context.Background()

	first, err := e.CalculateTicketScore(ctx, "t-1", "rule-1")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if first.OwnerID != "team-owner" || first.Score != 43 {
		t.Fatalf("unexpected score %+v", first)
	}
	second, err := e.CalculateTicketScore(ctx, "t-1", "rule-1")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if second.ID != first.ID || len(scores.saved) != 1 {
		t.Fatalf("recomputation should overwrite in place: %+v", scores.saved)
	}
}

func TestCalculateTicketScore_OwnerIsRuleOwner(t *testing.T) {
	assigned := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
	unassigned := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
	delete(unassigned.Fields, "assignee")
	unassigned.ID = "t-2"
	e, _, _ := newTestEngine(map[string]domain.Ticket{"t-1": assigned, "t-2": unassigned})
	for _, id := range []string{"t-1", "t-2"} {
		s, err := e.CalculateTicketScore(context.Background(), id, "rule-1")
		if err != nil {
			t.Fatalf("calculate %s: %v", id, err)
		}
		if s.OwnerID != "team-owner" {
			t.Fatalf("%s: expected rule owner, got %q", id, s.OwnerID)
		}
	}
}

func TestCalculateTicketScore_ValidationBeforeIO(t *testing.T) {
	e, scores, ruleCalls := newTestEngine(nil)
	_, err := e.CalculateTicketScore(context.Background(), "", "rule-1")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "ticketId" {
		t.Fatalf("expected ticketId validation error, got %v", err)
	}
	_, err = e.CalculateTicketScore(context.Background(), "t-1", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if *ruleCalls != 0 || scores.calls != 0 {
		t.Fatalf("no store access expected before validation")
	}
}

func TestCalculateTicketScore_NotFound(t *testing.T) {
	e, _, _ := newTestEngine(map[string]domain.Ticket{})
	_, err := e.CalculateTicketScore(context.Background(), "t-1", "rule-x")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "rule" {
		t.Fatalf("expected rule not found, got %v", err)
	}
	_, err = e.CalculateTicketScore(context.Background(), "t-1", "rule-1")
	if !errors.As(err, &nf) || nf.Kind != "ticket" {
		t.Fatalf("expected ticket not found, got %v", err)
	}
}

func TestCalculateMultipleTicketScores_PartialFailure(t *testing.T) {
	tk := doneTicket("2024-03-14T09:30:00.000+0000", "2024-03-15")
	tk.ID = "ok-id"
	e, scores, _ := newTestEngine(map[string]domain.Ticket{"ok-id": tk})

	res, err := e.CalculateMultipleTicketScores(context.Background(), []string{"ok-id", "missing-id", "ok-id"}, "rule-1")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}
	if !res[0].Success || res[0].Score == nil || res[0].Score.Score != 43 {
		t.Fatalf("expected first item to succeed: %+v", res[0])
	}
	if res[1].Success || res[1].TicketID != "missing-id" || !strings.Contains(res[1].Error, "not found") {
		t.Fatalf("expected second item to fail with not found: %+v", res[1])
	}
	if !res[2].Success {
		t.Fatalf("failure must not stop later items: %+v", res[2])
	}
	if scores.calls != 2 || len(scores.saved) != 1 {
		t.Fatalf("expected two upserts of one row, got calls=%d rows=%d", scores.calls, len(scores.saved))
	}

	if _, err := e.CalculateMultipleTicketScores(context.Background(), []string{"ok-id"}, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing rule id, got %v", err)
	}
}
