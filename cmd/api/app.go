/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"

	"github.com/aminederouich/pfe-back-sub000/internal/adapters/jira"
	"github.com/aminederouich/pfe-back-sub000/internal/adapters/mail"
	"github.com/aminederouich/pfe-back-sub000/internal/adapters/openai"
	"github.com/aminederouich/pfe-back-sub000/internal/adapters/telegram"
	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/logger"
	"github.com/aminederouich/pfe-back-sub000/internal/repo"
	"github.com/aminederouich/pfe-back-sub000/internal/scoring"
	"github.com/aminederouich/pfe-back-sub000/internal/services"
	"github.com/aminederouich/pfe-back-sub000/internal/ticketsync"
	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/rs/zerolog"
)

// app holds the wired dependency graph shared by every subcommand.
type app struct {
	cfg config.Config
	log zerolog.Logger
	db  *repo.DB
	svc *services.Service
}

func (a *app) Close() { a.db.Close() }

func newApp(ctx context.Context) *app {
	cfg := config.Load()
	log := logger.New(cfg)

	db := repo.MustOpen(ctx, cfg, log)
	repository := repo.NewRepository(db, log)

	engine := scoring.NewEngine(repository.Rules, repository.Tickets, repository.Scores, log)

	var syncer services.Syncer
	if cfg.JiraBaseURL != "" {
		rec := ticketsync.NewReconciler(repository.Tickets, log)
		syncer = ticketsync.NewSyncer(jira.NewClient(cfg, log), rec, ticketsync.SyncerOptions{
			ConfigID: cfg.JiraConfigID,
			Projects: cfg.JiraProjects,
			PageSize: cfg.JiraPageSize,
			Retries:  cfg.SyncRetries,
		}, log)
	} else {
		log.Warn().Msg("JIRA_BASE_URL not set; tracker sync disabled")
	}

	var mailer weekly.Mailer = mail.LogMailer{Log: log}
	if cfg.SMTPHost != "" {
		mc, err := mail.NewClient(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("smtp client")
		}
		mailer = mc
	} else {
		log.Warn().Msg("SMTP_HOST not set; digests are logged only")
	}

	opts := []weekly.Option{weekly.WithTopN(cfg.LeaderboardSize)}
	if tg := telegram.NewClient(cfg, log); tg.Enabled() {
		opts = append(opts, weekly.WithBroadcaster(tg))
	}
	if llm := openai.NewClient(cfg, log); llm.Enabled() {
		opts = append(opts, weekly.WithNarrator(llm))
	}
	agg := weekly.New(repository.Scores, repository.Users, repository.Snapshots, mailer, log, opts...)

	svc := services.New(cfg, log, services.Deps{
		DB:        repository,
		Jobs:      repository,
		Rules:     repository.Rules,
		Tickets:   repository.Tickets,
		Scores:    repository.Scores,
		Users:     repository.Users,
		Snapshots: repository.Snapshots,
		Scorer:    engine,
		Syncer:    syncer,
		Weekly:    agg,
	})
	return &app{cfg: cfg, log: log, db: db, svc: svc}
}
