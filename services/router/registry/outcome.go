// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome tag.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrorKind classifies a failure.
type ErrorKind string

const (
	KindToolNotFound ErrorKind = "tool_not_found"
	KindValidation   ErrorKind = "validation"
	KindExecution    ErrorKind = "execution"
)

// Outcome is the result of running a tool. It is always returned by value;
// failures are data, not errors.
type Outcome struct {
	ExecutionID      string        `json:"execution_id"`
	Tool             string        `json:"tool"`
	Status           Status        `json:"status"`
	Result           any           `json:"result,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	ValidationErrors []string      `json:"validation_errors,omitempty"`
	Params           Params        `json:"params,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Err returns the failure as an error value, or nil on success.
func (o Outcome) Err() error {
	switch {
	case o.OK():
		return nil
	case o.ErrorKind == KindValidation:
		return &ValidationError{Tool: o.Tool, Problems: o.ValidationErrors}
	case o.ErrorKind == KindToolNotFound:
		return fmt.Errorf("%w: %s", ErrToolNotFound, o.Tool)
	default:
		return fmt.Errorf("tool %s: %s", o.Tool, o.Error)
	}
}

// ValidationError lists every problem found validating a tool's params.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter validation failed for %s: %s", e.Tool, strings.Join(e.Problems, ", "))
}
