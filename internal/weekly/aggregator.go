/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package weekly

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/rs/zerolog"
)

// ScoreReader offers the two window queries. ListSince is unbounded above
// (live runs); ListBetween is inclusive on both ends (recomputation).
type ScoreReader interface {
	ListSince(ctx context.Context, start time.Time) ([]domain.Score, error)
	ListBetween(ctx context.Context, start, end time.Time) ([]domain.Score, error)
}

// UserDirectory resolves score owners and lists digest recipients.
type UserDirectory interface {
	// FindByOwnerID returns nil, nil when no profile matches.
	FindByOwnerID(ctx context.Context, ownerID string) (*domain.UserProfile, error)
	ListActive(ctx context.Context) ([]domain.UserProfile, error)
}

type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s domain.WeeklySnapshot) error
}

// Digest is the payload of one personal weekly email.
type Digest struct {
	User        domain.UserProfile
	Leaderboard []domain.LeaderboardEntry
	UserScore   int
	WeekStart   time.Time
	WeekEnd     time.Time
	Summary     string // optional narrative, may be empty
}

type Mailer interface {
	Send(ctx context.Context, d Digest) error
}

// Broadcaster posts the leaderboard to team channels.
type Broadcaster interface {
	Broadcast(ctx context.Context, weekID string, start, end time.Time, board []domain.LeaderboardEntry) error
}

// Narrator writes a short prose summary of the leaderboard.
type Narrator interface {
	Summarize(ctx context.Context, start, end time.Time, board []domain.LeaderboardEntry) (string, error)
}

type Stage string

const (
	StageSnapshot  Stage = "snapshot"
	StageEmail     Stage = "email"
	StageBroadcast Stage = "broadcast"
	StageNarrative Stage = "narrative"
	StageRecipient Stage = "recipients"
)

// Failure is a best-effort step that did not succeed. It never fails the run.
type Failure struct {
	Stage     Stage  `json:"stage"`
	Recipient string `json:"recipient,omitempty"`
	Err       string `json:"error"`
}

type Result struct {
	WeekID      string                    `json:"weekId"`
	StartOfWeek time.Time                 `json:"startOfWeek"`
	EndOfWeek   time.Time                 `json:"endOfWeek"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	AllScores   []domain.LeaderboardEntry `json:"allScores,omitempty"`
	Sent        int                       `json:"sent"`
	Failures    []Failure                 `json:"failures,omitempty"`
}

type Aggregator struct {
	scores    ScoreReader
	users     UserDirectory
	snapshots SnapshotStore
	mailer    Mailer
	team      Broadcaster // optional
	narrator  Narrator    // optional
	topN      int
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Aggregator)

func WithBroadcaster(b Broadcaster) Option { return func(a *Aggregator) { a.team = b } }

func WithNarrator(n Narrator) Option { return func(a *Aggregator) { a.narrator = n } }

// WithTopN sets the leaderboard size; values below 1 keep the default of 3.
func WithTopN(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.topN = n
		}
	}
}

func New(scores ScoreReader, users UserDirectory, snapshots SnapshotStore, mailer Mailer, log zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{scores: scores, users: users, snapshots: snapshots, mailer: mailer, topN: 3, log: log, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ProcessWeeklyTopScores runs the live path: scores from the start of the
// current week up to now.
func (a *Aggregator) ProcessWeeklyTopScores(ctx context.Context) (Result, error) {
	start, end := WeekBounds(a.now())
	scores, err := a.scores.ListSince(ctx, start)
	if err != nil {
		return Result{}, fmt.Errorf("list scores since %s: %w", start.Format(time.DateOnly), err)
	}
	return a.process(ctx, start, end, scores), nil
}

// ProcessWeek recomputes an explicit window [start, end]. A zero end means
// the week that start falls in.
func (a *Aggregator) ProcessWeek(ctx context.Context, start, end time.Time) (Result, error) {
	if start.IsZero() {
		return Result{}, &domain.ValidationError{Field: "start"}
	}
	if end.IsZero() {
		start, end = WeekBounds(start)
	}
	if end.Before(start) {
		return Result{}, &domain.ValidationError{Field: "end", Reason: "before start"}
	}
	scores, err := a.scores.ListBetween(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("list scores %s..%s: %w", start.Format(time.DateOnly), end.Format(time.DateOnly), err)
	}
	return a.process(ctx, start, end, scores), nil
}

func (a *Aggregator) process(ctx context.Context, start, end time.Time, scores []domain.Score) Result {
	res := Result{WeekID: WeekID(start), StartOfWeek: start, EndOfWeek: end, Leaderboard: []domain.LeaderboardEntry{}}
	totals := Aggregate(scores)
	if len(totals) == 0 {
		a.log.Info().Str("week", res.WeekID).Msg("weekly: no scores, nothing to do")
		return res
	}

	ranked := Rank(totals)
	res.AllScores = a.resolve(ctx, ranked)
	top := len(res.AllScores)
	if top > a.topN {
		top = a.topN
	}
	res.Leaderboard = res.AllScores[:top]

	for _, kind := range []domain.SnapshotKind{domain.SnapshotTop, domain.SnapshotAll} {
		entries := res.AllScores
		if kind == domain.SnapshotTop {
			entries = res.Leaderboard
		}
		snap := domain.WeeklySnapshot{ID: res.WeekID, Kind: kind, StartOfWeek: start, EndOfWeek: end, Entries: entries, UpdatedAt: a.now()}
		if err := a.snapshots.UpsertSnapshot(ctx, snap); err != nil {
			a.log.Error().Err(err).Str("week", res.WeekID).Str("kind", string(kind)).Msg("weekly: snapshot upsert failed")
			res.fail(StageSnapshot, string(kind), err)
		}
	}

	if a.team != nil {
		if err := a.team.Broadcast(ctx, res.WeekID, start, end, res.Leaderboard); err != nil {
			a.log.Error().Err(err).Str("week", res.WeekID).Msg("weekly: team broadcast failed")
			res.fail(StageBroadcast, "", err)
		}
	}

	var summary string
	if a.narrator != nil {
		s, err := a.narrator.Summarize(ctx, start, end, res.Leaderboard)
		if err != nil {
			a.log.Error().Err(err).Str("week", res.WeekID).Msg("weekly: narrative failed")
			res.fail(StageNarrative, "", err)
		} else {
			summary = s
		}
	}

	users, err := a.users.ListActive(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("weekly: list recipients failed")
		res.fail(StageRecipient, "", err)
		return res
	}
	for _, u := range users {
		if !u.Active || u.Email == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.fail(StageEmail, u.Email, err)
			break
		}
		d := Digest{
			User:        u,
			Leaderboard: res.Leaderboard,
			UserScore:   personalTotal(totals, u),
			WeekStart:   start,
			WeekEnd:     end,
			Summary:     summary,
		}
		if err := a.mailer.Send(ctx, d); err != nil {
			a.log.Warn().Err(err).Str("to", u.Email).Msg("weekly: send failed")
			res.fail(StageEmail, u.Email, err)
			continue
		}
		res.Sent++
	}
	a.log.Info().Str("week", res.WeekID).Int("owners", len(res.AllScores)).Int("sent", res.Sent).
		Int("failures", len(res.Failures)).Msg("weekly: done")
	return res
}

func (r *Result) fail(stage Stage, recipient string, err error) {
	r.Failures = append(r.Failures, Failure{Stage: stage, Recipient: recipient, Err: err.Error()})
}

// resolve turns ranked totals into leaderboard entries. A missing or failing
// profile lookup leaves only the owner id on the entry.
func (a *Aggregator) resolve(ctx context.Context, ranked []Total) []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, 0, len(ranked))
	for i, t := range ranked {
		e := domain.LeaderboardEntry{Rank: i + 1, ID: t.OwnerID, Score: t.Score}
		p, err := a.users.FindByOwnerID(ctx, t.OwnerID)
		if err != nil {
			a.log.Warn().Err(err).Str("owner", t.OwnerID).Msg("weekly: profile lookup failed")
		}
		if p != nil {
			e.Email, e.Name = p.Email, p.Name()
		}
		out = append(out, e)
	}
	return out
}

// personalTotal looks the user up under both identifiers scores may carry.
func personalTotal(totals map[string]int, u domain.UserProfile) int {
	if v, ok := totals[u.AccountID]; ok && u.AccountID != "" {
		return v
	}
	return totals[u.ID]
}

type Total struct {
	OwnerID string
	Score   int
}

// Aggregate sums scores per owner. Records without an owner are skipped.
func Aggregate(scores []domain.Score) map[string]int {
	out := make(map[string]int)
	for _, s := range scores {
		if s.OwnerID == "" {
			continue
		}
		out[s.OwnerID] += s.Score
	}
	return out
}

// Rank orders totals by score descending, ties by owner id ascending.
func Rank(totals map[string]int) []Total {
	out := make([]Total, 0, len(totals))
	for id, v := range totals {
		out = append(out, Total{OwnerID: id, Score: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].OwnerID < out[j].OwnerID
	})
	return out
}

// WeekBounds returns Monday 00:00 of t's week and the following Sunday's last
// instant, both in t's location.
func WeekBounds(t time.Time) (time.Time, time.Time) {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := t.AddDate(0, 0, -(weekday - 1))
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return start, end
}

// WeekID is the snapshot key for a week starting at start.
func WeekID(start time.Time) string { return start.Format("20060102") }
