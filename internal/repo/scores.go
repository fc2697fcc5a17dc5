/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ScoreStore struct{ db *DB }

const scoreCols = `id::text, ticket_id::text, rule_id::text, owner_id, score, date_affection, created_at, updated_at`

const upsertScoreSQL = `INSERT INTO scores(id, ticket_id, rule_id, owner_id, score, date_affection, created_at, updated_at)
	VALUES($1,$2,$3,$4,$5,$6,$7,$7)
	ON CONFLICT (ticket_id, rule_id) DO UPDATE SET
		owner_id=EXCLUDED.owner_id,
		score=EXCLUDED.score,
		date_affection=EXCLUDED.date_affection,
		updated_at=EXCLUDED.updated_at
	RETURNING ` + scoreCols

// Upsert inserts or overwrites the score for (TicketID, RuleID) atomically and
// returns the stored row. CreatedAt and ID survive an overwrite.
func (s *ScoreStore) Upsert(ctx context.Context, sc domain.Score) (domain.Score, error) {
	now := sc.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	rows, err := s.db.Pool.Query(ctx, upsertScoreSQL, uuid.NewString(), sc.TicketID, sc.RuleID, sc.OwnerID, sc.Score, sc.DateAffection, now)
	if err != nil {
		return domain.Score{}, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanScoreRow)
	if err != nil {
		return domain.Score{}, err
	}
	return out, nil
}

func scanScoreRow(row pgx.CollectableRow) (domain.Score, error) {
	var sc domain.Score
	err := row.Scan(&sc.ID, &sc.TicketID, &sc.RuleID, &sc.OwnerID, &sc.Score, &sc.DateAffection, &sc.CreatedAt, &sc.UpdatedAt)
	return sc, err
}

func (s *ScoreStore) list(ctx context.Context, q string, args ...any) ([]domain.Score, error) {
	rows, err := s.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanScoreRow)
}

func (s *ScoreStore) ListByOwnerID(ctx context.Context, ownerID string) ([]domain.Score, error) {
	return s.list(ctx, `SELECT `+scoreCols+` FROM scores WHERE owner_id=$1 ORDER BY date_affection DESC`, ownerID)
}

// ListSince is unbounded above.
func (s *ScoreStore) ListSince(ctx context.Context, start time.Time) ([]domain.Score, error) {
	return s.list(ctx, `SELECT `+scoreCols+` FROM scores WHERE date_affection >= $1`, start)
}

// ListBetween is inclusive on both ends.
func (s *ScoreStore) ListBetween(ctx context.Context, start, end time.Time) ([]domain.Score, error) {
	return s.list(ctx, `SELECT `+scoreCols+` FROM scores WHERE date_affection >= $1 AND date_affection <= $2`, start, end)
}
