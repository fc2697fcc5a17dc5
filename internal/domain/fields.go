/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Fields is the nested attribute document of a ticket as returned by the tracker.
type Fields map[string]any

// Get walks nested objects along path and returns the leaf, or nil.
func (f Fields) Get(path ...string) any {
	var cur any = map[string]any(f)
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

// String is Get rendered as a string; nil and objects yield "".
func (f Fields) String(path ...string) string {
	switch v := f.Get(path...).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool, int, int64, json.Number:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Clone is a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Points is an integer rule weight. It decodes from JSON numbers or numeric
// strings; anything else decodes to zero.
type Points int

func (p *Points) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ParsePoints(s)
		return nil
	}
	*p = ParsePoints(string(b))
	return nil
}

func (p *Points) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*p = ParsePoints(fmt.Sprint(raw))
	return nil
}

// MaxPoints bounds a single rule weight; out-of-range weights are clamped.
const MaxPoints = math.MaxInt32

// ParsePoints reads the leading integer of s ("12", "-5", "7.9" -> 7,
// "1e3" -> 1). Non-numeric input yields zero.
func ParsePoints(s string) Points {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if (r == '-' || r == '+') && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			break
		}
		end = i + 1
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	switch {
	case n > MaxPoints:
		n = MaxPoints
	case n < -MaxPoints:
		n = -MaxPoints
	}
	return Points(n)
}
