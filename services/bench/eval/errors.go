// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEmptyInput is returned when statistics are requested on zero samples.
	ErrEmptyInput = errors.New("empty input")

	// ErrInsufficientData is returned when a sample set is too small for the
	// requested analysis: fewer than 2 samples for bootstrap or rank-sum, or
	// fewer than the configured minimum when strict mode is enabled.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrOperationFailure is returned when every attempt to invoke a
	// measured operation failed.
	ErrOperationFailure = errors.New("operation failure")

	// ErrInvalidConfiguration is returned for out-of-range configuration,
	// such as alpha outside (0,1) or a negative iteration count.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNotFound is returned when an operation is not in the registry.
	ErrNotFound = errors.New("operation not found")

	// ErrAlreadyRegistered is returned when registering a duplicate name.
	ErrAlreadyRegistered = errors.New("operation already registered")
)

// OperationFailureError reports an operation for which no attempt succeeded.
//
// It matches both ErrOperationFailure and the last underlying cause with
// errors.Is.
type OperationFailureError struct {
	// Operation is the registered name of the failing operation.
	Operation string

	// Attempts is the number of invocations tried.
	Attempts int

	// Cause is the error returned by the most recent attempt.
	Cause error
}

// Error implements error.
func (e *OperationFailureError) Error() string {
	return fmt.Sprintf("operation %q failed on all %d attempts: %v", e.Operation, e.Attempts, e.Cause)
}

// Unwrap exposes ErrOperationFailure and the last cause.
func (e *OperationFailureError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrOperationFailure}
	}
	return []error{ErrOperationFailure, e.Cause}
}

// InvalidConfig wraps a configuration problem in ErrInvalidConfiguration.
//
// Example:
//
//	if alpha <= 0 || alpha >= 1 {
//	    return eval.InvalidConfig("alpha must be in (0,1), got %v", alpha)
//	}
func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
