package engine

import (
	"context"
	"time"

	"github.com/openfroyo/hostfacts/pkg/facts"
)

// Status is the outcome of a resolver within one pass.
type Status string

const (
	// StatusResolved means the resolver ran and its write-set was merged.
	StatusResolved Status = "resolved"

	// StatusSkipped means the resolver did not contribute: a confinement
	// failed, a required dependency never resolved, its data was
	// unavailable, or the pass was canceled.
	StatusSkipped Status = "skipped"

	// StatusFailed means the resolver returned an error or panicked.
	StatusFailed Status = "failed"

	// StatusCached means a stored write-set was merged instead of running
	// the resolver.
	StatusCached Status = "cached"

	// StatusBlocked means every produced path is blocklisted.
	StatusBlocked Status = "blocked"
)

// Outcome records what happened to one resolver in a pass.
type Outcome struct {
	Resolver string            `json:"resolver"`
	Status   Status            `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	Err      error             `json:"-"`
	Duration time.Duration     `json:"duration"`
	Accepted int               `json:"accepted"`
	Rejected []facts.Rejection `json:"rejected,omitempty"`
}

// Result is a completed (or canceled) resolution pass.
type Result struct {
	// ID identifies the pass in logs, events and spans.
	ID string `json:"id"`

	// Tree is the immutable fact tree.
	Tree *facts.Tree `json:"-"`

	// Outcomes lists every resolver in the order it finished, the detector
	// first.
	Outcomes []Outcome `json:"outcomes"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Outcome returns the outcome of the named resolver.
func (r *Result) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Resolver == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Count returns how many resolvers ended with status.
func (r *Result) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Observer receives pass lifecycle notifications. Implementations must be
// safe for concurrent use; ProbeFailed is called from resolver goroutines.
type Observer interface {
	PassStarted(ctx context.Context, passID string)
	ResolverFinished(ctx context.Context, passID string, outcome Outcome)
	ProbeFailed(ctx context.Context, passID, probe string, err error)
	PassFinished(ctx context.Context, result *Result, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) PassStarted(context.Context, string) {}
func (NopObserver) ResolverFinished(context.Context, string, Outcome) {}
func (NopObserver) ProbeFailed(context.Context, string, string, error) {}
func (NopObserver) PassFinished(context.Context, *Result, error) {}

// FactCache stores write-sets between passes. Implementations are bound to
// a single host.
type FactCache interface {
	// Load returns the unexpired write-set of a resolver.
	Load(ctx context.Context, resolver string) (*facts.Set, bool, error)

	// Save stores a write-set for ttl.
	Save(ctx context.Context, resolver string, set *facts.Set, ttl time.Duration) error
}
