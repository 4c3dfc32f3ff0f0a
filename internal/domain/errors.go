// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input such as a torrent listing with
// duplicate file paths. It is fatal to the operation that produced it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NetworkError wraps a failed or non-2xx backend exchange.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: backend returned status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFoundError means the torrent an action targeted no longer exists.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("torrent %s not found", e.ID)
}

// StaleResponseError marks a response whose generation was superseded before
// it arrived. Callers drop it silently.
type StaleResponseError struct {
	Generation uint64
	Current    uint64
}

func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("stale response: generation %d superseded by %d", e.Generation, e.Current)
}

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsStale reports whether err is or wraps a StaleResponseError
func IsStale(err error) bool {
	var se *StaleResponseError
	return errors.As(err, &se)
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNetwork reports whether err is or wraps a NetworkError
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
