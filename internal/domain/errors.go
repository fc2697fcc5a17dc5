/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("concurrent modification")
)

// ValidationError reports a missing or malformed parameter, raised before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an absent record of Kind with identifier ID.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports a lost optimistic-concurrency race on Key; the caller may retry.
type ConflictError struct {
	Kind string
	Key  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q was modified concurrently", e.Kind, e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
