/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/rs/zerolog"
)

type RuleStore interface {
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
}

type TicketStore interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
}

// ScoreStore persists scores keyed uniquely on (TicketID, RuleID).
type ScoreStore interface {
	Upsert(ctx context.Context, s domain.Score) (domain.Score, error)
}

// Engine computes scores from stored tickets and rules and persists them.
type Engine struct {
	rules   RuleStore
	tickets TicketStore
	scores  ScoreStore
	log     zerolog.Logger
	now     func() time.Time
}

func NewEngine(rules RuleStore, tickets TicketStore, scores ScoreStore, log zerolog.Logger) *Engine {
	return &Engine{rules: rules, tickets: tickets, scores: scores, log: log, now: time.Now}
}

// CalculateTicketScore scores one ticket under one rule and upserts the result.
// The score belongs to the rule's owner.
func (e *Engine) CalculateTicketScore(ctx context.Context, ticketID, ruleID string) (domain.Score, error) {
	if ticketID == "" {
		return domain.Score{}, &domain.ValidationError{Field: "ticketId"}
	}
	if ruleID == "" {
		return domain.Score{}, &domain.ValidationError{Field: "ruleId"}
	}
	rule, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return domain.Score{}, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if rule == nil {
		return domain.Score{}, &domain.NotFoundError{Kind: "rule", ID: ruleID}
	}
	ticket, err := e.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return domain.Score{}, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	if ticket == nil {
		return domain.Score{}, &domain.NotFoundError{Kind: "ticket", ID: ticketID}
	}

	b := ExplainIn(*ticket, *rule, time.Local)
	owner := rule.OwnerID
	saved, err := e.scores.Upsert(ctx, domain.Score{
		TicketID:      ticket.ID,
		RuleID:        rule.ID,
		OwnerID:       owner,
		Score:         b.Total(),
		DateAffection: e.now(),
	})
	if err != nil {
		return domain.Score{}, fmt.Errorf("save score %s/%s: %w", ticketID, ruleID, err)
	}
	e.log.Debug().Str("ticket", ticket.Key).Str("rule", rule.ID).Str("owner", owner).
		Int("priority", b.Priority).Int("issuetype", b.IssueType).Int("deadline", b.Deadline).
		Int("resolution", b.Resolution).Int("score", saved.Score).Msg("score computed")
	return saved, nil
}

// BatchResult is the outcome of one ticket in a batch computation.
type BatchResult struct {
	TicketID string        `json:"ticketId"`
	Success  bool          `json:"success"`
	Score    *domain.Score `json:"score,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// CalculateMultipleTicketScores scores each ticket independently. A failing
// ticket is reported in its slot and does not stop the others.
func (e *Engine) CalculateMultipleTicketScores(ctx context.Context, ticketIDs []string, ruleID string) ([]BatchResult, error) {
	if len(ticketIDs) == 0 {
		return nil, &domain.ValidationError{Field: "ticketIds"}
	}
	if ruleID == "" {
		return nil, &domain.ValidationError{Field: "ruleId"}
	}
	out := make([]BatchResult, 0, len(ticketIDs))
	failed := 0
	for _, id := range ticketIDs {
		s, err := e.CalculateTicketScore(ctx, id, ruleID)
		if err != nil {
			failed++
			out = append(out, BatchResult{TicketID: id, Success: false, Error: err.Error()})
			continue
		}
		out = append(out, BatchResult{TicketID: id, Success: true, Score: &s})
	}
	if failed > 0 {
		e.log.Warn().Str("rule", ruleID).Int("failed", failed).Int("total", len(ticketIDs)).Msg("batch scoring partial failure")
	}
	return out, nil
}
