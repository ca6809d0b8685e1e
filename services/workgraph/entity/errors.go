// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad or missing client input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing record or one outside the caller's team.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an optimistic concurrency mismatch.
	ErrConflict = errors.New("conflict")
)

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the record that was looked up.
func NotFound(k Kind, id int64) error {
	return fmt.Errorf("%s %d: %w", k, id, ErrNotFound)
}
