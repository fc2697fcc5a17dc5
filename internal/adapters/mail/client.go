/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
)

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// Client delivers weekly digests over SMTP.
type Client struct {
	from string
	smtp sender
	log  zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) (*Client, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("mail: SMTP_HOST is not set")
	}
	opts := []gomail.Option{gomail.WithTLSPolicy(gomail.TLSOpportunistic)}
	if cfg.SMTPPort > 0 {
		opts = append(opts, gomail.WithPort(cfg.SMTPPort))
	}
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.HTTPTimeout))
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.SMTPUsername),
			gomail.WithPassword(cfg.SMTPPassword),
		)
	}
	cli, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: %w", err)
	}
	return &Client{from: cfg.MailFrom, smtp: cli, log: log}, nil
}

// Send renders and delivers one personal digest.
func (c *Client) Send(ctx context.Context, d weekly.Digest) error {
	msg, err := c.message(d)
	if err != nil {
		return err
	}
	if err := c.smtp.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail to %s: %w", d.User.Email, err)
	}
	c.log.Debug().Str("to", d.User.Email).Msg("digest sent")
	return nil
}

func (c *Client) message(d weekly.Digest) (*gomail.Msg, error) {
	if d.User.Email == "" {
		return nil, errors.New("mail: recipient has no email")
	}
	subject, text, html, err := Render(d)
	if err != nil {
		return nil, err
	}
	m := gomail.NewMsg()
	if err := m.From(c.from); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := m.To(d.User.Email); err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(gomail.TypeTextPlain, text)
	m.AddAlternativeString(gomail.TypeTextHTML, html)
	return m, nil
}

// LogMailer renders digests and logs them instead of delivering. Used when
// no SMTP host is configured.
type LogMailer struct {
	Log zerolog.Logger
}

func (l LogMailer) Send(_ context.Context, d weekly.Digest) error {
	if d.User.Email == "" {
		return errors.New("mail: recipient has no email")
	}
	subject, _, _, err := Render(d)
	if err != nil {
		return err
	}
	l.Log.Info().Str("to", d.User.Email).Str("subject", subject).Int("score", d.UserScore).Msg("digest not sent: smtp disabled")
	return nil
}
