/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
)

type SnapshotStore struct{ db *DB }

const upsertSnapshotSQL = `INSERT INTO weekly_snapshots(id, kind, start_of_week, end_of_week, entries, updated_at)
	VALUES($1,$2,$3,$4,$5,$6)
	ON CONFLICT (id, kind) DO UPDATE SET
		start_of_week=EXCLUDED.start_of_week,
		end_of_week=EXCLUDED.end_of_week,
		entries=EXCLUDED.entries,
		updated_at=EXCLUDED.updated_at`

// UpsertSnapshot writes the week's ranking of one kind, replacing any earlier run.
func (s *SnapshotStore) UpsertSnapshot(ctx context.Context, snap domain.WeeklySnapshot) error {
	entries := snap.Entries
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	_, err := s.db.Pool.Exec(ctx, upsertSnapshotSQL, snap.ID, string(snap.Kind), snap.StartOfWeek, snap.EndOfWeek, entries, snap.UpdatedAt)
	return err
}

// GetSnapshot returns nil, nil when the week was never processed.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, id string, kind domain.SnapshotKind) (*domain.WeeklySnapshot, error) {
	const q = `SELECT id, kind, start_of_week, end_of_week, entries, updated_at FROM weekly_snapshots WHERE id=$1 AND kind=$2`
	snap := &domain.WeeklySnapshot{}
	var k string
	err := s.db.Pool.QueryRow(ctx, q, id, string(kind)).
		Scan(&snap.ID, &k, &snap.StartOfWeek, &snap.EndOfWeek, &snap.Entries, &snap.UpdatedAt)
	snap.Kind = domain.SnapshotKind(k)
	return notFoundAsNil(snap, err)
}
