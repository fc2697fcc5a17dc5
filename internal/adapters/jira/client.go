/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/aminederouich/pfe-back-sub000/internal/ticketsync"
	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	token   string
	basic   string
	user    string
	pass    string
	http    *http.Client
	log     zerolog.Logger
	apiVer  string
	backoff time.Duration
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.JiraBaseURL,
		token:   cfg.JiraPAT,
		basic:   getenvBasic(),
		user:    cfg.JiraUsername,
		pass:    cfg.JiraPassword,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
		apiVer:  cfg.JiraAPIVersion,
		backoff: 300 * time.Millisecond,
	}
}

// getenvBasic reads JIRA_BASIC_AUTH (base64 user:pass) if present.
func getenvBasic() string {
	return strings.TrimSpace(os.Getenv("JIRA_BASIC_AUTH"))
}

// StatusError is a non-2xx answer from the tracker.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jira api status=%d body=%s", e.Status, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (c *Client) apiPath(resource string) string {
	v := c.apiVer
	if v != "2" {
		v = "3"
	}
	return "/rest/api/" + v + "/" + strings.TrimLeft(resource, "/")
}

func (c *Client) apiURL(path string, q url.Values) string {
	base := strings.TrimRight(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.user != "" && c.pass != "":
		req.SetBasicAuth(c.user, c.pass)
	case c.basic != "":
		req.Header.Set("Authorization", "Basic "+c.basic)
	}
}

// doJSON sends the request and decodes the answer into out, retrying 429 and
// 5xx up to three times with exponential backoff.
func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	if c.baseURL == "" {
		return errors.New("jira: empty baseURL")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		lastErr = c.roundTrip(req, out)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return lastErr
		}
		c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("url", u).Msg("jira: request failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(1<<attempt)):
		}
	}
	return lastErr
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type issue struct {
	ID     string        `json:"id"`
	Key    string        `json:"key"`
	Fields domain.Fields `json:"fields"`
}

type searchResponse struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []issue `json:"issues"`
}

// SearchIssues runs one offset page of a JQL search. API v2 uses GET with
// query parameters, v3 posts the query.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (ticketsync.SearchPage, error) {
	if jql == "" {
		return ticketsync.SearchPage{}, errors.New("jira: empty jql")
	}
	var resp searchResponse
	var err error
	if c.apiVer == "2" {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("startAt", fmt.Sprint(startAt))
		if maxResults > 0 {
			q.Set("maxResults", fmt.Sprint(maxResults))
		}
		q.Set("fields", "*all")
		err = c.doJSON(ctx, http.MethodGet, c.apiURL(c.apiPath("search"), q), nil, &resp)
	} else {
		body := map[string]any{"jql": jql, "startAt": startAt, "maxResults": maxResults, "fields": []string{"*all"}}
		err = c.doJSON(ctx, http.MethodPost, c.apiURL(c.apiPath("search"), nil), body, &resp)
	}
	if err != nil {
		return ticketsync.SearchPage{}, err
	}
	page := ticketsync.SearchPage{Total: resp.Total, Issues: make([]domain.Ticket, 0, len(resp.Issues))}
	for _, is := range resp.Issues {
		if is.Key == "" {
			continue
		}
		if is.Fields == nil {
			is.Fields = domain.Fields{}
		}
		page.Issues = append(page.Issues, domain.Ticket{Key: is.Key, Fields: is.Fields})
	}
	return page, nil
}

// ListProjects returns every project visible to the credentials.
func (c *Client) ListProjects(ctx context.Context) ([]ticketsync.Project, error) {
	var out []ticketsync.Project
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL(c.apiPath("project"), nil), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Issue fetches a single issue with all fields.
func (c *Client) Issue(ctx context.Context, key string) (domain.Ticket, error) {
	if key == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "key"}
	}
	q := url.Values{}
	q.Set("fields", "*all")
	var is issue
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL(c.apiPath("issue/"+url.PathEscape(key)), q), nil, &is); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return domain.Ticket{}, &domain.NotFoundError{Kind: "issue", ID: key}
		}
		return domain.Ticket{}, err
	}
	if is.Fields == nil {
		is.Fields = domain.Fields{}
	}
	return domain.Ticket{Key: is.Key, Fields: is.Fields}, nil
}
