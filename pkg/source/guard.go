package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds a single probe when no timeout is configured.
const DefaultProbeTimeout = 5 * time.Second

// Guard wraps a source for the duration of one resolution pass. Each probe
// runs at most once per Guard, is bounded by a timeout, and any failure is
// reported as ErrUnavailable. Results are shared between callers and must
// not be modified.
type Guard struct {
	src       Source
	timeout   time.Duration
	onFailure func(probe string, err error)

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	once sync.Once
	val  any
	err  error
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// OnFailure registers a callback invoked once for every failed probe.
func OnFailure(fn func(probe string, err error)) GuardOption {
	return func(g *Guard) { g.onFailure = fn }
}

// NewGuard wraps src.
func NewGuard(src Source, opts ...GuardOption) *Guard {
	g := &Guard{
		src:     src,
		timeout: DefaultProbeTimeout,
		calls:   make(map[string]*call),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Source = (*Guard)(nil)

func (g *Guard) call(probe string) *call {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[probe]
	if !ok {
		c = &call{}
		g.calls[probe] = c
	}
	return c
}

func guarded[T any](ctx context.Context, g *Guard, probe string, fn func(context.Context) (T, error)) (T, error) {
	c := g.call(probe)
	c.once.Do(func() {
		c.val, c.err = runWithTimeout(ctx, g.timeout, probe, fn)
		if c.err != nil && g.onFailure != nil {
			g.onFailure(probe, c.err)
		}
	})
	if c.err != nil {
		var zero T
		return zero, c.err
	}
	return c.val.(T), nil
}

func runWithTimeout[T any](ctx context.Context, timeout time.Duration, probe string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return zero, Unavailable(probe, err)
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, ErrUnavailable) {
				return zero, r.err
			}
			return zero, Unavailable(probe, r.err)
		}
		return r.val, nil
	}
}

// Distro implements Source.
func (g *Guard) Distro(ctx context.Context) (Distro, error) {
	return guarded(ctx, g, ProbeDistro, g.src.Distro)
}

// Uname implements Source.
func (g *Guard) Uname(ctx context.Context) (Uname, error) {
	return guarded(ctx, g, ProbeUname, g.src.Uname)
}

// Interfaces implements Source.
func (g *Guard) Interfaces(ctx context.Context) ([]Interface, error) {
	return guarded(ctx, g, ProbeInterfaces, g.src.Interfaces)
}

// Routes implements Source.
func (g *Guard) Routes(ctx context.Context) ([]Route, error) {
	return guarded(ctx, g, ProbeRoutes, g.src.Routes)
}

// DHCPServers implements Source.
func (g *Guard) DHCPServers(ctx context.Context) (map[string]string, error) {
	return guarded(ctx, g, ProbeDHCP, g.src.DHCPServers)
}

// Identity implements Source.
func (g *Guard) Identity(ctx context.Context) (Identity, error) {
	return guarded(ctx, g, ProbeIdentity, g.src.Identity)
}

// CPUs implements Source.
func (g *Guard) CPUs(ctx context.Context) ([]CPU, error) {
	return guarded(ctx, g, ProbeCPUs, g.src.CPUs)
}
