/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type RuleStore struct{ db *DB }

const ruleCols = `id::text, owner_id, priority, issuetype, deadline, resolution, created_at, updated_at`

func scanRule(row pgx.Row) (*domain.Rule, error) {
	r := &domain.Rule{}
	err := row.Scan(&r.ID, &r.OwnerID, &r.Priority, &r.IssueType, &r.Deadline, &r.Resolution, &r.CreatedAt, &r.UpdatedAt)
	return notFoundAsNil(r, err)
}

// GetByID returns nil, nil for an unknown or malformed id.
func (s *RuleStore) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return scanRule(s.db.Pool.QueryRow(ctx, `SELECT `+ruleCols+` FROM rules WHERE id=$1`, id))
}

func (s *RuleStore) FindByOwnerID(ctx context.Context, ownerID string) (*domain.Rule, error) {
	return scanRule(s.db.Pool.QueryRow(ctx, `SELECT `+ruleCols+` FROM rules WHERE owner_id=$1`, ownerID))
}

const insertRuleSQL = `INSERT INTO rules(id, owner_id, priority, issuetype, deadline, resolution, created_at, updated_at)
	VALUES($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (owner_id) DO NOTHING`

// UpsertByOwnerID creates the owner's rule or merges the supplied sub-tables
// into it. The insert-or-lock happens in one transaction so concurrent
// upserts for the same owner serialise on the row.
func (s *RuleStore) UpsertByOwnerID(ctx context.Context, in domain.RuleInput) (domain.Rule, domain.Operation, error) {
	if err := in.Validate(); err != nil {
		return domain.Rule{}, "", err
	}
	in = in.Normalized()
	var (
		out domain.Rule
		op  domain.Operation
	)
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		fresh := domain.Rule{
			ID:         uuid.NewString(),
			OwnerID:    in.OwnerID,
			Priority:   map[domain.Priority]domain.RuleEntry{},
			IssueType:  map[domain.IssueType]domain.RuleEntry{},
			Resolution: map[string]domain.RuleEntry{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		fresh.Apply(in)
		tag, err := tx.Exec(ctx, insertRuleSQL, fresh.ID, fresh.OwnerID, fresh.Priority, fresh.IssueType, fresh.Deadline, fresh.Resolution, now, now)
		if err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
		if tag.RowsAffected() == 1 {
			out, op = fresh, domain.OperationCreated
			return nil
		}

		cur, err := scanRule(tx.QueryRow(ctx, `SELECT `+ruleCols+` FROM rules WHERE owner_id=$1 FOR UPDATE`, in.OwnerID))
		if err != nil {
			return fmt.Errorf("lock rule: %w", err)
		}
		if cur == nil {
			return &domain.ConflictError{Kind: "rule", Key: in.OwnerID}
		}
		cur.Apply(in)
		cur.UpdatedAt = now
		const upd = `UPDATE rules SET priority=$2, issuetype=$3, deadline=$4, resolution=$5, updated_at=$6 WHERE id=$1`
		if _, err := tx.Exec(ctx, upd, cur.ID, cur.Priority, cur.IssueType, cur.Deadline, cur.Resolution, now); err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		out, op = *cur, domain.OperationUpdated
		return nil
	})
	if err != nil {
		return domain.Rule{}, "", err
	}
	return out, op, nil
}
