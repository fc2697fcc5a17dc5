/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

// inTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (d *DB) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Repository bundles the stores and the job bookkeeping.
type Repository struct {
	db  *DB
	log zerolog.Logger

	Rules     *RuleStore
	Tickets   *TicketStore
	Scores    *ScoreStore
	Users     *UserStore
	Snapshots *SnapshotStore
}

func NewRepository(d *DB, log zerolog.Logger) *Repository {
	return &Repository{
		db: d, log: log,
		Rules:     &RuleStore{db: d},
		Tickets:   &TicketStore{db: d},
		Scores:    &ScoreStore{db: d},
		Users:     &UserStore{db: d},
		Snapshots: &SnapshotStore{db: d},
	}
}

func (r *Repository) Ping(ctx context.Context) error { return r.db.Pool.Ping(ctx) }

// Advisory lock keys, one per job kind.
const (
	LockSync   int64 = 424242
	LockWeekly int64 = 424243
)

// WithAdvisoryLock runs fn while holding the session advisory lock key on a
// dedicated connection. It returns false without running fn when another
// session holds the lock.
func (r *Repository) WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error) {
	conn, err := r.db.Pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// unlock on a fresh context so a cancelled run still releases
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var released bool
		if err := conn.QueryRow(uctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil || !released {
			r.log.Error().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
	}()
	return true, fn(ctx)
}

// Job runs

type JobKind string

const (
	JobSync   JobKind = "sync"
	JobWeekly JobKind = "weekly"
)

type JobStats struct {
	Items   int
	Sent    int
	Success bool
	Error   string
	Details any
}

func (r *Repository) StartJobRun(ctx context.Context, kind JobKind) (int64, error) {
	const q = `INSERT INTO job_runs(kind, started_at, success) VALUES($1, now(), false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q, string(kind)).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) FinishJobRun(ctx context.Context, id int64, st JobStats) error {
	var details []byte
	if st.Details != nil {
		b, err := json.Marshal(st.Details)
		if err != nil {
			return fmt.Errorf("encode job details: %w", err)
		}
		details = b
	}
	const q = `UPDATE job_runs SET finished_at=now(), items=$2, sent=$3, success=$4, error=$5, details=$6 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, st.Items, st.Sent, st.Success, st.Error, details)
	return err
}

type LastRun struct {
	Kind       string          `json:"kind"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Items      int             `json:"items"`
	Sent       int             `json:"sent"`
	Success    bool            `json:"success"`
	Error      string          `json:"error"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// GetLastRun returns the latest run of kind, or nil when there is none.
func (r *Repository) GetLastRun(ctx context.Context, kind JobKind) (*LastRun, error) {
	const q = `SELECT kind, started_at, finished_at, items, sent, success, error, details
		FROM job_runs WHERE kind=$1 ORDER BY id DESC LIMIT 1`
	lr := &LastRun{}
	var details []byte
	err := r.db.Pool.QueryRow(ctx, q, string(kind)).
		Scan(&lr.Kind, &lr.StartedAt, &lr.FinishedAt, &lr.Items, &lr.Sent, &lr.Success, &lr.Error, &details)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lr.Details = details
	return lr, nil
}

// isUniqueViolation reports a unique-constraint failure (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFoundAsNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// conflict wraps a unique violation on kind/key; other errors pass through.
func conflict(err error, kind, key string) error {
	if isUniqueViolation(err) {
		return &domain.ConflictError{Kind: kind, Key: key}
	}
	return err
}
