/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/logger"
	"github.com/aminederouich/pfe-back-sub000/internal/repo"
	"github.com/aminederouich/pfe-back-sub000/internal/services"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			return repo.RunMigrations(cfg.DBDSN, logger.New(cfg))
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied and latest migration versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := repo.GetMigrationStatus(config.Load().DBDSN)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	})
	return cmd
}

func syncCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull tracker issues once and score the changed tickets",
		Long: `Pull every configured project, or a single issue with --key.

Examples:
  api sync
  api sync --key PROJ-123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.Context())
			defer a.Close()
			run := a.svc.RunSync
			if key != "" {
				run = func(ctx context.Context) (services.SyncSummary, error) { return a.svc.SyncIssue(ctx, key) }
			}
			sum, err := run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "resync only this issue key")
	return cmd
}

func weeklyCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Build the weekly leaderboard and send the digests",
		Long: `Build the leaderboard of the current week, or of a past window.

Examples:
  api weekly
  api weekly --start 2024-04-29
  api weekly --start 2024-04-29 --end 2024-05-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if start == "" && end != "" {
				return fmt.Errorf("--end requires --start")
			}
			a := newApp(cmd.Context())
			defer a.Close()
			if start == "" {
				res, err := a.svc.RunWeekly(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			s, err := time.ParseInLocation(time.DateOnly, start, time.Local)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			var e time.Time
			if end != "" {
				if e, err = time.ParseInLocation(time.DateOnly, end, time.Local); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				e = e.AddDate(0, 0, 1).Add(-time.Nanosecond)
			}
			res, err := a.svc.RecomputeWeek(cmd.Context(), s, e)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "window end (inclusive), YYYY-MM-DD; defaults to the end of the start's week")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage scoring rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Upsert scoring rules from a YAML presets file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.Context())
			defer a.Close()
			res, err := a.svc.ImportRules(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	return cmd
}
