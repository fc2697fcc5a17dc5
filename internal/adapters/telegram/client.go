/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/rs/zerolog"
)

type Client struct {
	token   string
	chats   []int64
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		token:   cfg.TelegramToken,
		chats:   cfg.TelegramChatIDs,
		baseURL: "https://api.telegram.org",
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Enabled reports whether a token and at least one chat are configured.
func (c *Client) Enabled() bool { return c.token != "" && len(c.chats) > 0 }

func (c *Client) send(ctx context.Context, chatID int64, text, parseMode string) error {
	if c.token == "" || chatID == 0 {
		return fmt.Errorf("telegram: missing token or chat id")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(c.baseURL, "/"), c.token)
	body := map[string]any{"chat_id": chatID, "text": text, "disable_web_page_preview": true}
	if parseMode != "" {
		body["parse_mode"] = parseMode
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram sendMessage status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

func (c *Client) SendMarkdownV2(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, chatID, text, "MarkdownV2")
}

// Broadcast posts the weekly leaderboard to every configured chat. All chats
// are attempted; the joined error lists the ones that failed.
func (c *Client) Broadcast(ctx context.Context, weekID string, start, end time.Time, board []domain.LeaderboardEntry) error {
	if !c.Enabled() {
		return nil
	}
	text := RenderLeaderboard(start, end, board)
	var errs []error
	for _, chat := range c.chats {
		if err := c.SendMarkdownV2(ctx, chat, text); err != nil {
			c.log.Error().Err(err).Int64("chat", chat).Str("week", weekID).Msg("telegram send failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chat, err))
		}
	}
	return errors.Join(errs...)
}

var mdV2 = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)", "~", "\\~", "`", "\\`",
	">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-", "=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}",
	".", "\\.", "!", "\\!",
)

// RenderLeaderboard formats the board as a MarkdownV2 message.
func RenderLeaderboard(start, end time.Time, board []domain.LeaderboardEntry) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "*Weekly leaderboard*\n%s\n\n", mdV2.Replace(start.Format("02 Jan")+" - "+end.Format("02 Jan 2006")))
	if len(board) == 0 {
		b.WriteString(mdV2.Replace("No scores this week."))
		return b.String()
	}
	for _, e := range board {
		name := e.Name
		if name == "" {
			name = e.ID
		}
		fmt.Fprintf(b, "%d\\. %s: *%d*\n", e.Rank, mdV2.Replace(name), e.Score)
	}
	return b.String()
}
