package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
)

type fakeSender struct {
	SendFunc func(msgs ...*gomail.Msg) error
	sent     []*gomail.Msg
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, msgs ...*gomail.Msg) error {
	f.sent = append(f.sent, msgs...)
	if f.SendFunc != nil {
		return f.SendFunc(msgs...)
	}
	return nil
}

func sampleDigest() weekly.Digest {
	start := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	return weekly.Digest{
		User: domain.UserProfile{Email: "bob@example.com", FirstName: "Bob"},
		Leaderboard: []domain.LeaderboardEntry{
			{Rank: 1, ID: "A", Name: "Alice_Smith", Score: 150},
			{Rank: 2, ID: "B", Score: 120},
		},
		UserScore: 42,
		WeekStart: start,
		WeekEnd:   start.AddDate(0, 0, 7).Add(-time.Nanosecond),
		Summary:   "Strong week.",
	}
}

func TestRender_MarkdownAndHTML(t *testing.T) {
	subject, text, html, err := Render(sampleDigest())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Weekly leaderboard 06 May - 12 May 2024" {
		t.Fatalf("subject %q", subject)
	}
	for _, want := range []string{"Hello Bob,", "| 1 | Alice\\_Smith | 150 |", "| 2 | B | 120 |", "**42 points**", "> Strong week."} {
		if !strings.Contains(text, want) {
			t.Fatalf("markdown missing %q:\n%s", want, text)
		}
	}
	for _, want := range []string{"<table>", "<td>Alice_Smith</td>", "<strong>42 points</strong>", "<blockquote>"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q:\n%s", want, html)
		}
	}
}

func TestRender_EmptyBoardAndRawHTMLName(t *testing.T) {
	d := sampleDigest()
	d.Leaderboard = nil
	d.Summary = ""
	d.User = domain.UserProfile{Email: "x@example.com", DisplayName: "<script>"}
	_, text, html, err := Render(d)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(text, "Nobody scored points this week.") || strings.Contains(html, "<table>") {
		t.Fatalf("unexpected empty-board output:\n%s", text)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("raw html leaked:\n%s", html)
	}
}

func TestSend_BuildsMultipartMessage(t *testing.T) {
	fs := &fakeSender{}
	c := &Client{from: "pointboard@example.com", smtp: fs, log: zerolog.Nop()}
	if err := c.Send(context.Background(), sampleDigest()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(fs.sent))
	}
	var buf bytes.Buffer
	if _, err := fs.sent[0].WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"bob@example.com", "pointboard@example.com", "text/plain", "text/html"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q", want)
		}
	}
}

func TestSend_Errors(t *testing.T) {
	fs := &fakeSender{SendFunc: func(...*gomail.Msg) error { return errors.New("421 try later") }}
	c := &Client{from: "pointboard@example.com", smtp: fs, log: zerolog.Nop()}
	if err := c.Send(context.Background(), sampleDigest()); err == nil || !strings.Contains(err.Error(), "bob@example.com") {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	d := sampleDigest()
	d.User.Email = ""
	if err := c.Send(context.Background(), d); err == nil {
		t.Fatalf("expected error for missing recipient")
	}
	if len(fs.sent) != 1 {
		t.Fatalf("no dial expected for invalid recipient")
	}
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := LogMailer{Log: zerolog.New(&buf)}
	if err := m.Send(context.Background(), sampleDigest()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(buf.String(), "bob@example.com") || !strings.Contains(buf.String(), "Weekly leaderboard") {
		t.Fatalf("unexpected log line %q", buf.String())
	}
	d := sampleDigest()
	d.User.Email = ""
	if err := m.Send(context.Background(), d); err == nil {
		t.Fatalf("expected error without recipient")
	}
}
