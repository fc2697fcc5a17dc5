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

type UserStore struct{ db *DB }

const userCols = `id::text, coalesce(account_id,''), email, display_name, first_name, active`

func scanUserRow(row pgx.CollectableRow) (domain.UserProfile, error) {
	var u domain.UserProfile
	err := row.Scan(&u.ID, &u.AccountID, &u.Email, &u.DisplayName, &u.FirstName, &u.Active)
	return u, err
}

// FindByOwnerID matches a score owner against the tracker account id or the
// internal user id. Returns nil, nil on a miss.
func (s *UserStore) FindByOwnerID(ctx context.Context, ownerID string) (*domain.UserProfile, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE account_id=$1 OR id::text=$1 ORDER BY coalesce(account_id=$1, false) DESC LIMIT 1`, ownerID)
	if err != nil {
		return nil, err
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUserRow)
	return notFoundAsNil(&u, err)
}

func (s *UserStore) ListActive(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE active ORDER BY email`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanUserRow)
}

const upsertUserSQL = `INSERT INTO users(id, account_id, email, display_name, active, created_at, updated_at)
	VALUES($1,$2,$3,$4,true,$5,$5)
	ON CONFLICT (account_id) DO UPDATE SET
		email=CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
		display_name=CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
		updated_at=EXCLUDED.updated_at`

// UpsertBatch records assignees seen during sync, keyed by account id.
// Existing emails and the active flag are kept when the tracker hides or omits them.
func (s *UserStore) UpsertBatch(ctx context.Context, users []domain.UserProfile) error {
	if len(users) == 0 {
		return nil
	}
	now := time.Now()
	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(upsertUserSQL, uuid.NewString(), u.AccountID, u.Email, u.DisplayName, now)
	}
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range users {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
