/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/aminederouich/pfe-back-sub000/internal/normalize"
)

// doneResolution is the folded resolution name that unlocks deadline scoring.
const doneResolution = "termine"

// Breakdown holds the four additive contributions of a score.
type Breakdown struct {
	Priority   int `json:"priority"`
	IssueType  int `json:"issuetype"`
	Deadline   int `json:"deadline"`
	Resolution int `json:"resolution"`
}

func (b Breakdown) Total() int {
	return int(math.Round(float64(b.Priority + b.IssueType + b.Deadline + b.Resolution)))
}

// Calculate scores t under r. Missing or unrecognised ticket data contributes
// zero; it never fails. Calendar days are taken in time.Local.
func Calculate(t domain.Ticket, r domain.Rule) int {
	return ExplainIn(t, r, time.Local).Total()
}

// ExplainIn returns the per-factor breakdown, comparing calendar days in loc.
func ExplainIn(t domain.Ticket, r domain.Rule, loc *time.Location) Breakdown {
	if loc == nil {
		loc = time.Local
	}
	return Breakdown{
		Priority:   priorityPoints(t, r),
		IssueType:  issueTypePoints(t, r),
		Deadline:   deadlinePoints(t, r, loc),
		Resolution: resolutionPoints(t, r),
	}
}

func priorityPoints(t domain.Ticket, r domain.Rule) int {
	name := firstNonEmpty(t.Fields.String("priority", "name"), t.Attributes.Priority)
	if name == "" {
		return 0
	}
	p, ok := domain.ParsePriority(name)
	if !ok {
		return 0
	}
	return r.Priority[p].Points()
}

func issueTypePoints(t domain.Ticket, r domain.Rule) int {
	name := firstNonEmpty(t.Fields.String("issuetype", "name"), t.Attributes.Type, t.Attributes.IssueType)
	if name == "" {
		return 0
	}
	return r.IssueType[domain.ParseIssueType(name)].Points()
}

// resolutionPoints prefers the top-level resolution over fields.resolution.name.
func resolutionPoints(t domain.Ticket, r domain.Rule) int {
	name := firstNonEmpty(t.Attributes.Resolution, t.Fields.String("resolution", "name"))
	if name == "" {
		return 0
	}
	return r.Resolution[normalize.Key(name)].Points()
}

// deadlinePoints only applies to tickets resolved as done. Closing on the
// deadline day selects rule2, closing on an earlier day selects rule1, and
// closing late contributes nothing.
func deadlinePoints(t domain.Ticket, r domain.Rule, loc *time.Location) int {
	resolution := firstNonEmpty(t.Fields.String("resolution", "name"), t.Attributes.Resolution)
	if strings.ToLower(normalize.StripAccents(resolution)) != doneResolution {
		return 0
	}
	deadline, ok := parseDate(firstNonEmpty(t.Fields.String("duedate"), t.Attributes.DueDate, t.Attributes.Deadline), loc)
	if !ok {
		return 0
	}
	changed, ok := parseDate(firstNonEmpty(t.Fields.String("statuscategorychangedate"), t.Attributes.StatusCategoryChangeDate), loc)
	if !ok {
		return 0
	}
	switch {
	case sameDay(changed, deadline, loc):
		return r.Deadline.Rule2.Points()
	case changed.Before(deadline):
		return r.Deadline.Rule1.Points()
	default:
		return 0
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate accepts tracker timestamps and plain dates; zone-less values are read in loc.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
