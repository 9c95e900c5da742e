// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// SafetyRejectedError terminates a query that failed the safety gate.
// It carries the full gate result so the handler can report what tripped.
type SafetyRejectedError struct {
	Result *datatypes.SafetyResult
}

func (e *SafetyRejectedError) Error() string {
	var reasons []string
	if e.Result != nil {
		if e.Result.Moderation.Flagged {
			reasons = append(reasons, "moderation flagged")
		}
		if e.Result.InjectionDetected {
			reasons = append(reasons, "prompt injection detected")
		}
		if e.Result.PII.Detected {
			reasons = append(reasons, "pii detected")
		}
	}
	if len(reasons) == 0 {
		return "query rejected by safety checks"
	}
	return fmt.Sprintf("query rejected by safety checks: %s", strings.Join(reasons, ", "))
}

// IsSafetyRejected checks if an error is a *SafetyRejectedError.
func IsSafetyRejected(err error) bool {
	var target *SafetyRejectedError
	return errors.As(err, &target)
}

// DependencyError wraps a failure of an external dependency (retrieval,
// generation) after the resilience stack has given up.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s dependency failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// IsDependencyError checks if an error is a *DependencyError.
func IsDependencyError(err error) bool {
	var target *DependencyError
	return errors.As(err, &target)
}
