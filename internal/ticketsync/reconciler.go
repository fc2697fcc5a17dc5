/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package ticketsync

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"
)

// syncStampField is written into merged fields on every content change.
const syncStampField = "updated"

// TicketStore is the persistence the reconciler needs, keyed by (key, configID).
type TicketStore interface {
	FindByKeyAndConfigID(ctx context.Context, key, configID string) (*domain.Ticket, error)
	Insert(ctx context.Context, t *domain.Ticket) error
	// Update writes t if its Version still matches the stored one and bumps
	// it; otherwise it returns a *domain.ConflictError.
	Update(ctx context.Context, t *domain.Ticket) error
	TouchLastSync(ctx context.Context, id string, at time.Time) error
}

type Op string

const (
	OpCreated   Op = "created"
	OpUpdated   Op = "updated"
	OpUnchanged Op = "unchanged"
)

type Outcome struct {
	Op       Op
	TicketID string
	Changed  []string // field keys whose values changed
}

type Reconciler struct {
	store TicketStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewReconciler(store TicketStore, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, log: log, now: time.Now}
}

// SyncTicket merges an externally fetched ticket into the store under configID.
// Store errors are returned as-is; a lost race surfaces as a ConflictError.
func (r *Reconciler) SyncTicket(ctx context.Context, incoming domain.Ticket, configID string) (Outcome, error) {
	if incoming.Key == "" {
		return Outcome{}, &domain.ValidationError{Field: "key"}
	}
	existing, err := r.store.FindByKeyAndConfigID(ctx, incoming.Key, configID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup %s/%s: %w", incoming.Key, configID, err)
	}
	now := r.now()

	if existing == nil {
		t := incoming
		t.ConfigID = configID
		if t.Fields == nil {
			t.Fields = domain.Fields{}
		}
		t.CreatedAt, t.UpdatedAt, t.LastSync = now, now, now
		if err := r.store.Insert(ctx, &t); err != nil {
			return Outcome{}, fmt.Errorf("insert %s: %w", incoming.Key, err)
		}
		r.log.Debug().Str("key", t.Key).Str("config", configID).Msg("sync: ticket created")
		return Outcome{Op: OpCreated, TicketID: t.ID}, nil
	}

	changed := ChangedFields(existing.Fields, incoming.Fields)
	if len(changed) == 0 {
		if err := r.store.TouchLastSync(ctx, existing.ID, now); err != nil {
			return Outcome{}, fmt.Errorf("touch %s: %w", existing.Key, err)
		}
		return Outcome{Op: OpUnchanged, TicketID: existing.ID}, nil
	}

	if r.log.GetLevel() <= zerolog.DebugLevel {
		r.log.Debug().Str("key", existing.Key).Strs("fields", changed).
			Str("diff", fieldsDiff(existing.Fields, incoming.Fields, changed)).Msg("sync: fields changed")
	}
	merged := *existing
	merged.Fields = MergeFields(existing.Fields, incoming.Fields)
	merged.Fields[syncStampField] = now.UTC().Format(time.RFC3339Nano)
	merged.UpdatedAt, merged.LastSync = now, now
	if err := r.store.Update(ctx, &merged); err != nil {
		return Outcome{}, fmt.Errorf("update %s: %w", existing.Key, err)
	}
	return Outcome{Op: OpUpdated, TicketID: existing.ID, Changed: changed}, nil
}

// MergeFields overlays incoming on existing at the top level.
func MergeFields(existing, incoming domain.Fields) domain.Fields {
	out := existing.Clone()
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// ChangedFields lists the incoming keys whose values differ structurally from
// the stored ones, i.e. the keys a merge would modify. The sync stamp is ignored.
func ChangedFields(existing, incoming domain.Fields) []string {
	var out []string
	for k, v := range incoming {
		if k == syncStampField {
			continue
		}
		old, ok := existing[k]
		if !ok || !reflect.DeepEqual(canonical(old), canonical(v)) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// canonical round-trips v through JSON so values decoded from the store and
// values built in memory compare by content.
func canonical(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func fieldsDiff(existing, incoming domain.Fields, keys []string) string {
	pick := func(f domain.Fields) string {
		sub := make(map[string]any, len(keys))
		for _, k := range keys {
			if v, ok := f[k]; ok {
				sub[k] = v
			}
		}
		b, _ := json.MarshalIndent(sub, "", "  ")
		return string(b)
	}
	diff := difflib.UnifiedDiff{
		A:        strings.Split(pick(existing), "\n"),
		B:        strings.Split(pick(incoming), "\n"),
		FromFile: "stored",
		ToFile:   "incoming",
		Context:  1,
	}
	s, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return s
}
