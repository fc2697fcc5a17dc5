/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package normalize turns free-text tracker labels ("High", "User Story",
// "Terminé") into the keys used by rule tables.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripAccents decomposes s (NFD) and drops combining marks.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold is StripAccents followed by trimming and lower-casing.
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(StripAccents(s)))
}

// Key folds s and replaces every whitespace run with a single underscore.
func Key(s string) string {
	return strings.Join(strings.Fields(Fold(s)), "_")
}
