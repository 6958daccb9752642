// Package validation holds the structured outcome of domain-shape checks:
// one Issue per violated field instead of a single opaque error.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Field + ": " + i.Message
}

// Result accumulates issues. The zero value is a passing result.
type Result struct {
	Issues []Issue `json:"issues,omitempty"`
}

func (r *Result) Add(field, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Require records a "Required" issue when value is blank.
func (r *Result) Require(field, value string) {
	if strings.TrimSpace(value) == "" {
		r.Add(field, "Required")
	}
}

func (r *Result) Merge(other Result) {
	r.Issues = append(r.Issues, other.Issues...)
}

func (r Result) OK() bool {
	return len(r.Issues) == 0
}

// Has reports whether field has at least one issue.
func (r Result) Has(field string) bool {
	for _, issue := range r.Issues {
		if issue.Field == field {
			return true
		}
	}
	return false
}

// Err returns nil for a passing result and an *Error otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Issues: append([]Issue(nil), r.Issues...)}
}

// Error is returned when arguments fail domain validation. It is never
// retryable: the same input fails the same way.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsError unwraps err into a validation *Error.
func AsError(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Invalid builds a single-issue error for an unsupported value.
func Invalid(field string, value any) error {
	return &Error{Issues: []Issue{{Field: field, Message: fmt.Sprintf("Invalid value %q", fmt.Sprint(value))}}}
}
