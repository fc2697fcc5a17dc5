/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/aminederouich/pfe-back-sub000/internal/repo"
	"github.com/aminederouich/pfe-back-sub000/internal/scoring"
	"github.com/aminederouich/pfe-back-sub000/internal/services"
	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Service interface {
	Ping(ctx context.Context) error
	GetLastRun(ctx context.Context, kind string) (*repo.LastRun, error)
	RunSync(ctx context.Context) (services.SyncSummary, error)
	SyncIssue(ctx context.Context, key string) (services.SyncSummary, error)
	RunWeekly(ctx context.Context) (weekly.Result, error)
	RecomputeWeek(ctx context.Context, start, end time.Time) (weekly.Result, error)
	GetRule(ctx context.Context, ownerID string) (*domain.Rule, error)
	UpsertRule(ctx context.Context, in domain.RuleInput) (domain.Rule, domain.Operation, error)
	AddManualTicket(ctx context.Context, in services.ManualTicket) (domain.Ticket, error)
	CalculateScore(ctx context.Context, ticketID, ruleID string) (domain.Score, error)
	CalculateScores(ctx context.Context, ticketIDs []string, ruleID string) ([]scoring.BatchResult, error)
	ScoresByOwner(ctx context.Context, ownerID string) ([]domain.Score, error)
	WeeklyLeaderboard(ctx context.Context, weekID, kind string) (*domain.WeeklySnapshot, error)
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc Service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc Service) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc}
}

// fail maps the error taxonomy onto status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, services.ErrJobRunning):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("p", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handlers) Healthz(c *gin.Context) {
	if err := h.svc.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.GetLastRun(c.Request.Context(), c.DefaultQuery("kind", string(repo.JobWeekly)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lr)
}

// background detaches a job from the request so it survives the response.
func (h *Handlers) background(name string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("background run failed")
		}
	}()
}

// RunSync runs a sync, or resyncs one issue with ?key=PROJ-1; with
// ?async=true it is queued and 202 is returned.
func (h *Handlers) RunSync(c *gin.Context) {
	run := h.svc.RunSync
	if key := c.Query("key"); key != "" {
		run = func(ctx context.Context) (services.SyncSummary, error) { return h.svc.SyncIssue(ctx, key) }
	}
	if c.Query("async") == "true" {
		h.background("sync", func(ctx context.Context) error { _, err := run(ctx); return err })
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}
	sum, err := run(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

type weeklyRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RunWeekly processes the current week, or the window given as
// {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD"} (end optional, inclusive).
func (h *Handlers) RunWeekly(c *gin.Context) {
	var req weeklyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
			return
		}
	}
	if req.Start == "" && req.End != "" {
		h.fail(c, &domain.ValidationError{Field: "start", Reason: "required when end is set"})
		return
	}
	run := func(ctx context.Context) (weekly.Result, error) { return h.svc.RunWeekly(ctx) }
	if req.Start != "" {
		start, end, err := parseWindow(req.Start, req.End)
		if err != nil {
			h.fail(c, err)
			return
		}
		run = func(ctx context.Context) (weekly.Result, error) { return h.svc.RecomputeWeek(ctx, start, end) }
	}
	if c.Query("async") == "true" {
		h.background("weekly", func(ctx context.Context) error { _, err := run(ctx); return err })
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}
	res, err := run(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// parseWindow reads local dates; end covers its whole day.
func parseWindow(startS, endS string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(time.DateOnly, startS, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, &domain.ValidationError{Field: "start", Reason: "expected YYYY-MM-DD"}
	}
	if endS == "" {
		return start, time.Time{}, nil
	}
	end, err := time.ParseInLocation(time.DateOnly, endS, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, &domain.ValidationError{Field: "end", Reason: "expected YYYY-MM-DD"}
	}
	return start, end.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

func (h *Handlers) GetRule(c *gin.Context) {
	r, err := h.svc.GetRule(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handlers) PutRule(c *gin.Context) {
	var in domain.RuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	in.OwnerID = c.Param("ownerId")
	r, op, err := h.svc.UpsertRule(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if op == domain.OperationCreated {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"operation": op, "rule": r})
}

func (h *Handlers) AddTicket(c *gin.Context) {
	var in services.ManualTicket
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	t, err := h.svc.AddManualTicket(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type calculateRequest struct {
	TicketID  string   `json:"ticketId"`
	TicketIDs []string `json:"ticketIds"`
	RuleID    string   `json:"ruleId"`
}

func (h *Handlers) CalculateScore(c *gin.Context) {
	var req calculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	s, err := h.svc.CalculateScore(c.Request.Context(), req.TicketID, req.RuleID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handlers) CalculateBatch(c *gin.Context) {
	var req calculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	res, err := h.svc.CalculateScores(c.Request.Context(), req.TicketIDs, req.RuleID)
	if err != nil {
		h.fail(c, err)
		return
	}
	failed := 0
	for _, r := range res {
		if !r.Success {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": res, "total": len(res), "failed": failed})
}

func (h *Handlers) ScoresByOwner(c *gin.Context) {
	out, err := h.svc.ScoresByOwner(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	total := 0
	for _, s := range out {
		total += s.Score
	}
	c.JSON(http.StatusOK, gin.H{"scores": out, "total": total})
}

func (h *Handlers) WeeklyLeaderboard(c *gin.Context) {
	snap, err := h.svc.WeeklyLeaderboard(c.Request.Context(), c.Param("weekId"), c.Query("kind"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
