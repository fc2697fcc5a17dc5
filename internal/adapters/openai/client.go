/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"
)

const systemPrompt = "You are a friendly engineering manager. Given this week's productivity leaderboard " +
	"(rank, name, points), write two or three short sentences congratulating the team and the top performers. " +
	"Do not invent numbers or names. Plain text, no markdown."

type Client struct {
	key   string
	model string
	cli   openai.Client
	log   zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger, opts ...option.RequestOption) *Client {
	model := cfg.OpenAIModel
	if strings.TrimSpace(model) == "" {
		model = "gpt-4.1-mini"
	}
	base := []option.RequestOption{option.WithAPIKey(cfg.OpenAIKey), option.WithRequestTimeout(cfg.OpenAITimeout)}
	cli := openai.NewClient(append(base, opts...)...)
	return &Client{key: cfg.OpenAIKey, model: model, cli: cli, log: log}
}

func (c *Client) Enabled() bool { return strings.TrimSpace(c.key) != "" }

type boardLine struct {
	Rank   int    `json:"rank"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Summarize asks the model for a short narrative of the leaderboard.
// Emails are not sent to the model.
func (c *Client) Summarize(ctx context.Context, start, end time.Time, board []domain.LeaderboardEntry) (string, error) {
	if !c.Enabled() {
		return "", errors.New("openai: missing key")
	}
	lines := make([]boardLine, 0, len(board))
	for _, e := range board {
		name := e.Name
		if name == "" {
			name = "owner " + e.ID
		}
		lines = append(lines, boardLine{Rank: e.Rank, Name: name, Points: e.Score})
	}
	payload := map[string]any{
		"week_start":  start.Format(time.DateOnly),
		"week_end":    end.Format(time.DateOnly),
		"leaderboard": lines,
	}
	userContent := ""
	if b, err := json.Marshal(payload); err == nil {
		userContent = string(b)
	}
	c.log.Info().Str("model", c.model).Int("entries", len(lines)).Msg("openai Summarize call")
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userContent),
		},
	}
	resp, err := c.cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
