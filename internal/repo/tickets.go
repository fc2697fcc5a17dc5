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

type TicketStore struct{ db *DB }

const ticketCols = `id::text, issue_key, config_id, fields, attributes, version, created_at, updated_at, last_sync`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	t := &domain.Ticket{}
	err := row.Scan(&t.ID, &t.Key, &t.ConfigID, &t.Fields, &t.Attributes, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.LastSync)
	return notFoundAsNil(t, err)
}

func (s *TicketStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return scanTicket(s.db.Pool.QueryRow(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id=$1`, id))
}

func (s *TicketStore) FindByKeyAndConfigID(ctx context.Context, key, configID string) (*domain.Ticket, error) {
	return scanTicket(s.db.Pool.QueryRow(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE issue_key=$1 AND config_id=$2`, key, configID))
}

// Insert assigns t a new id and version 1. A duplicate (key, configId) is a ConflictError.
func (s *TicketStore) Insert(ctx context.Context, t *domain.Ticket) error {
	t.ID = uuid.NewString()
	t.Version = 1
	if t.Fields == nil {
		t.Fields = domain.Fields{}
	}
	const q = `INSERT INTO tickets(id, issue_key, config_id, fields, attributes, version, created_at, updated_at, last_sync)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := s.db.Pool.Exec(ctx, q, t.ID, t.Key, t.ConfigID, t.Fields, t.Attributes, t.Version, t.CreatedAt, t.UpdatedAt, t.LastSync)
	return conflict(err, "ticket", t.Key)
}

// Update writes t when the stored version still equals t.Version and bumps it.
func (s *TicketStore) Update(ctx context.Context, t *domain.Ticket) error {
	const q = `UPDATE tickets SET fields=$3, attributes=$4, updated_at=$5, last_sync=$6, version=version+1
		WHERE id=$1 AND version=$2`
	tag, err := s.db.Pool.Exec(ctx, q, t.ID, t.Version, t.Fields, t.Attributes, t.UpdatedAt, t.LastSync)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConflictError{Kind: "ticket", Key: t.Key}
	}
	t.Version++
	return nil
}

func (s *TicketStore) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE tickets SET last_sync=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "ticket", ID: id}
	}
	return nil
}

// GetMany loads tickets by id in one round trip; unknown ids are absent from the result.
func (s *TicketStore) GetMany(ctx context.Context, ids []string) (map[string]*domain.Ticket, error) {
	out := make(map[string]*domain.Ticket, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`SELECT `+ticketCols+` FROM tickets WHERE id=$1`, id)
	}
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, id := range ids {
		t, err := scanTicket(br.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", id, err)
		}
		if t != nil {
			out[id] = t
		}
	}
	return out, nil
}
