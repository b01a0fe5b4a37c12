// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package store

import "errors"

// Sentinel errors for store operations, checked with errors.Is().
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-constraint violation or an invalid
	// status transition (e.g. closing an already-closed tool call).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input parameters are invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")
)
