package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for facts that contradict each other. A check with
	// error violations fails.
	SeverityError Severity = "error"
)

// Policy is a Rego module whose deny set is evaluated against the fact tree.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with hostfacts.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy" yaml:"policy"`

	// Path is the fact path the violation refers to, if any.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message" yaml:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity" yaml:"severity"`
}

// Report is the result of evaluating every enabled policy.
type Report struct {
	// Passed is false when any violation has error severity.
	Passed bool `json:"passed" yaml:"passed"`

	// Violations are ordered by policy, then path, then message.
	Violations []Violation `json:"violations" yaml:"violations"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Evaluated lists the names of evaluated policies in order.
	Evaluated []string `json:"evaluated" yaml:"evaluated"`

	EvaluatedAt time.Time     `json:"evaluated_at" yaml:"evaluated_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// Count returns the number of violations with the given severity.
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == sev {
			n++
		}
	}
	return n
}
