/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/normalize"
)

// Priority is one of the five canonical tracker priority levels.
type Priority string

const (
	PriorityHighest Priority = "highest"
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityLowest  Priority = "lowest"
)

var priorities = map[Priority]struct{}{
	PriorityHighest: {}, PriorityHigh: {}, PriorityMedium: {}, PriorityLow: {}, PriorityLowest: {},
}

// ParsePriority maps a tracker label ("High", " highest ") to its level.
func ParsePriority(name string) (Priority, bool) {
	p := Priority(normalize.Key(name))
	_, ok := priorities[p]
	return p, ok
}

// IssueType is a normalised issue-type key. The constants cover the stable
// vocabulary; custom tracker types are carried as-is.
type IssueType string

const (
	IssueTypeStory   IssueType = "story"
	IssueTypeBug     IssueType = "bug"
	IssueTypeTask    IssueType = "task"
	IssueTypeEpic    IssueType = "epic"
	IssueTypeSubTask IssueType = "sub-task"
)

func ParseIssueType(name string) IssueType { return IssueType(normalize.Key(name)) }

// RuleEntry is one row of a weight table.
type RuleEntry struct {
	Checked bool   `json:"checked" yaml:"checked"`
	Value   Points `json:"value" yaml:"value"`
}

// Points returns the entry's value when checked, zero otherwise.
func (e RuleEntry) Points() int {
	if !e.Checked {
		return 0
	}
	return int(e.Value)
}

type DeadlineRule struct {
	Rule1 RuleEntry `json:"rule1" yaml:"rule1"` // closed before the deadline
	Rule2 RuleEntry `json:"rule2" yaml:"rule2"` // closed on the deadline day
}

// Rule is an owner's scoring configuration. One per OwnerID.
type Rule struct {
	ID         string                  `json:"id"`
	OwnerID    string                  `json:"ownerId"`
	Priority   map[Priority]RuleEntry  `json:"priority"`
	IssueType  map[IssueType]RuleEntry `json:"issuetype"`
	Deadline   DeadlineRule            `json:"deadline"`
	Resolution map[string]RuleEntry    `json:"resolution"`
	CreatedAt  time.Time               `json:"createdAt"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

// RuleInput is a partial rule. Nil tables are left untouched on upsert.
type RuleInput struct {
	OwnerID    string                  `json:"ownerId" yaml:"ownerId"`
	Priority   map[Priority]RuleEntry  `json:"priority,omitempty" yaml:"priority,omitempty"`
	IssueType  map[IssueType]RuleEntry `json:"issuetype,omitempty" yaml:"issuetype,omitempty"`
	Deadline   *DeadlineRule           `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Resolution map[string]RuleEntry    `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
)

// Validate checks the owner and that every priority key is a canonical level.
func (in RuleInput) Validate() error {
	if in.OwnerID == "" {
		return &ValidationError{Field: "ownerId"}
	}
	for k := range in.Priority {
		if _, ok := ParsePriority(string(k)); !ok {
			return &ValidationError{Field: "priority." + string(k), Reason: "unknown priority level"}
		}
	}
	return nil
}

// Normalized returns a copy whose table keys went through normalize.Key.
func (in RuleInput) Normalized() RuleInput {
	out := RuleInput{OwnerID: in.OwnerID, Deadline: in.Deadline}
	if in.Priority != nil {
		out.Priority = make(map[Priority]RuleEntry, len(in.Priority))
		for k, v := range in.Priority {
			out.Priority[Priority(normalize.Key(string(k)))] = v
		}
	}
	if in.IssueType != nil {
		out.IssueType = make(map[IssueType]RuleEntry, len(in.IssueType))
		for k, v := range in.IssueType {
			out.IssueType[ParseIssueType(string(k))] = v
		}
	}
	if in.Resolution != nil {
		out.Resolution = make(map[string]RuleEntry, len(in.Resolution))
		for k, v := range in.Resolution {
			out.Resolution[normalize.Key(k)] = v
		}
	}
	return out
}

// Apply merges the supplied sub-tables of in into r.
func (r *Rule) Apply(in RuleInput) {
	if in.Priority != nil {
		r.Priority = in.Priority
	}
	if in.IssueType != nil {
		r.IssueType = in.IssueType
	}
	if in.Deadline != nil {
		r.Deadline = *in.Deadline
	}
	if in.Resolution != nil {
		r.Resolution = in.Resolution
	}
}

// Attributes are top-level ticket values used when Fields lacks them,
// typically on manually-created tickets.
type Attributes struct {
	Priority                 string `json:"priority,omitempty"`
	Type                     string `json:"type,omitempty"`
	IssueType                string `json:"issueType,omitempty"`
	Resolution               string `json:"resolution,omitempty"`
	DueDate                  string `json:"dueDate,omitempty"`
	Deadline                 string `json:"deadline,omitempty"`
	StatusCategoryChangeDate string `json:"statuscategorychangedate,omitempty"`
	AssigneeID               string `json:"assigneeId,omitempty"`
}

// Ticket is a tracker issue keyed by (Key, ConfigID). ConfigID "" marks a
// manually-added ticket.
type Ticket struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	ConfigID   string     `json:"configId"`
	Fields     Fields     `json:"fields"`
	Attributes Attributes `json:"attributes"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	LastSync   time.Time  `json:"lastSync"`
}

// AssigneeID returns fields.assignee.accountId, falling back to the attribute.
func (t Ticket) AssigneeID() string {
	if id := t.Fields.String("assignee", "accountId"); id != "" {
		return id
	}
	return t.Attributes.AssigneeID
}

// Score is the computed value of one ticket under one rule.
type Score struct {
	ID            string    `json:"id"`
	TicketID      string    `json:"ticketId"`
	RuleID        string    `json:"ruleId"`
	OwnerID       string    `json:"ownerId"`
	Score         int       `json:"score"`
	DateAffection time.Time `json:"dateAffection"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type UserProfile struct {
	ID          string `json:"id"`
	AccountID   string `json:"jiraId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName"`
	Active      bool   `json:"active"`
}

func (u UserProfile) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.FirstName
}

type LeaderboardEntry struct {
	Rank  int    `json:"rank"`
	Email string `json:"email,omitempty"`
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Score int    `json:"score"`
}

type SnapshotKind string

const (
	SnapshotTop SnapshotKind = "top"
	SnapshotAll SnapshotKind = "all"
)

// WeeklySnapshot is the persisted ranking of one week, keyed by ID (YYYYMMDD
// of the week start) and Kind.
type WeeklySnapshot struct {
	ID          string             `json:"id"`
	Kind        SnapshotKind       `json:"kind"`
	StartOfWeek time.Time          `json:"startOfWeek"`
	EndOfWeek   time.Time          `json:"endOfWeek"`
	Entries     []LeaderboardEntry `json:"entries"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}
