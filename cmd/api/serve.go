/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/aminederouich/pfe-back-sub000/internal/http"
	"github.com/aminederouich/pfe-back-sub000/internal/jobs"
	"github.com/aminederouich/pfe-back-sub000/internal/repo"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var migrate, noCron bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(ctx)
			defer a.Close()

			if migrate {
				if err := repo.RunMigrations(a.cfg.DBDSN, a.log); err != nil {
					return err
				}
			}
			if a.cfg.RulesFile != "" {
				if _, err := a.svc.ImportRules(ctx, a.cfg.RulesFile); err != nil {
					a.log.Error().Err(err).Str("file", a.cfg.RulesFile).Msg("rules preset import failed")
				}
			}

			if !noCron {
				cr, err := jobs.NewCron(a.cfg, a.log, a.svc)
				if err != nil {
					return err
				}
				cr.Start()
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					cr.Stop(sctx)
				}()
			}

			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           apihttp.NewRouter(a.cfg, a.log, a.svc),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.log.Info().Str("addr", a.cfg.HTTPAddr).Msg("http listening")

			select {
			case <-ctx.Done():
				a.log.Info().Msg("shutting down...")
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "do not schedule sync and weekly jobs")
	return cmd
}
