package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

const (
	// DefaultParallelism is the number of resolvers run at the same time.
	DefaultParallelism = 4

	// DefaultResolverTimeout bounds a single resolver call.
	DefaultResolverTimeout = 30 * time.Second

	// DetectorName is the owner recorded for detector facts.
	DetectorName = "platform"
)

// Scheduler runs the resolvers of a registry against a data source and
// merges their write-sets into a fresh store. It keeps no state between
// passes and may run several passes concurrently.
type Scheduler struct {
	// registry provides resolvers and their dependency graph
	registry *Registry

	// detector runs before everything else, unconditionally
	detector Resolver

	// parallelism is the maximum number of concurrent resolvers
	parallelism int

	probeTimeout    time.Duration
	resolverTimeout time.Duration

	// blocklist lists path prefixes that are never stored
	blocklist []string

	// cache serves write-sets of resolvers that have a ttl
	cache FactCache
	ttls  map[string]time.Duration

	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDetector sets the resolver that bootstraps base identity.
func WithDetector(d Resolver) Option {
	return func(s *Scheduler) { s.detector = d }
}

// WithParallelism limits how many resolvers run at once.
func WithParallelism(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithProbeTimeout bounds every probe of the data source.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithResolverTimeout bounds every resolver call.
func WithResolverTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.resolverTimeout = d
		}
	}
}

// WithBlocklist adds path prefixes that must never be stored.
func WithBlocklist(prefixes ...string) Option {
	return func(s *Scheduler) { s.blocklist = append(s.blocklist, prefixes...) }
}

// WithCache enables the fact cache. ttls is keyed by resolver name or by
// the top-level group of the resolver's first produced path; the name wins.
func WithCache(cache FactCache, ttls map[string]time.Duration) Option {
	return func(s *Scheduler) {
		s.cache = cache
		s.ttls = ttls
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithObserver sets the pass observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithTracer sets the tracer used for pass and resolver spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewScheduler creates a scheduler over registry.
func NewScheduler(registry *Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:        registry,
		parallelism:     DefaultParallelism,
		probeTimeout:    source.DefaultProbeTimeout,
		resolverTimeout: DefaultResolverTimeout,
		logger:          zerolog.Nop(),
		observer:        NopObserver{},
		tracer:          otel.Tracer("github.com/openfroyo/hostfacts/pkg/engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pass is the mutable state of one ResolveAll call.
type pass struct {
	id     string
	logger zerolog.Logger
	store  *facts.Store
	src    source.Source
	result *Result

	resolvers []Resolver
	infos     []Info
	graph     *dependencyGraph
	pending   map[string]bool
}

// ResolveAll runs one resolution pass and returns the resulting tree.
//
// The detector runs first. Then, until nothing is left, every resolver
// whose producers have all finished is either skipped (a confinement
// fails, a required dependency is absent, or all of its output is
// blocklisted) or executed. Executed resolvers of the same round run in
// parallel against the same snapshot and are merged one by one, highest
// priority first and then in registration order, so the tree does not
// depend on completion order.
//
// On cancellation the partial tree is returned together with the context
// error.
func (s *Scheduler) ResolveAll(ctx context.Context, src source.Source) (*Result, error) {
	resolvers, infos, graph := s.registry.snapshot()

	p := &pass{
		id:        uuid.New().String(),
		store:     facts.NewStore(s.blocklist...),
		resolvers: resolvers,
		infos:     infos,
		graph:     graph,
		pending:   make(map[string]bool, len(infos)),
		result:    &Result{StartedAt: time.Now()},
	}
	p.result.ID = p.id
	p.logger = s.logger.With().Str("pass_id", p.id).Logger()
	for _, info := range infos {
		p.pending[info.Name] = true
	}

	ctx, span := s.tracer.Start(ctx, "resolve.pass", trace.WithAttributes(
		attribute.String("pass.id", p.id),
		attribute.Int("pass.resolvers", len(resolvers)),
	))
	defer span.End()

	p.src = source.NewGuard(src,
		source.WithTimeout(s.probeTimeout),
		source.OnFailure(func(probe string, err error) {
			p.logger.Debug().Str("probe", probe).Err(err).Msg("Probe unavailable")
			s.observer.ProbeFailed(ctx, p.id, probe, err)
		}),
	)

	p.logger.Debug().Int("resolvers", len(resolvers)).Msg("Resolution pass started")
	s.observer.PassStarted(ctx, p.id)

	err := s.run(ctx, p)

	p.result.Tree = p.store.Snapshot()
	p.result.Duration = time.Since(p.result.StartedAt)
	span.SetAttributes(attribute.Int("pass.facts", p.result.Tree.Len()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	p.logger.Debug().
		Int("facts", p.result.Tree.Len()).
		Int("resolved", p.result.Count(StatusResolved)+p.result.Count(StatusCached)).
		Int("skipped", p.result.Count(StatusSkipped)).
		Int("failed", p.result.Count(StatusFailed)).
		Dur("duration", p.result.Duration).
		Msg("Resolution pass completed")
	s.observer.PassFinished(ctx, p.result, err)

	return p.result, err
}

func (s *Scheduler) run(ctx context.Context, p *pass) error {
	if s.detector != nil {
		info := s.detector.Info()
		if info.Name == "" {
			info.Name = DetectorName
		}
		outcome, set := s.execute(ctx, p, s.detector, info, p.store.Snapshot())
		s.finish(ctx, p, info, outcome, set)
	}

	yield := true
	for len(p.pending) > 0 {
		if err := ctx.Err(); err != nil {
			s.cancelPending(ctx, p, err)
			return err
		}

		snap := p.store.Snapshot()
		ready, progressed := s.collectReady(ctx, p, snap, yield)
		if len(ready) == 0 {
			if progressed {
				continue
			}
			if yield {
				// Only priority yields are holding resolvers back; they form
				// a loop with real dependencies, so drop them for this round.
				yield = false
				continue
			}
			s.skipPending(ctx, p, "dependencies can never be satisfied")
			break
		}
		yield = true

		s.runBatch(ctx, p, snap, ready)
	}

	return ctx.Err()
}

// collectReady walks the pending resolvers in registration order. It skips
// the ones that can never run and returns the indexes of those that can
// run now, ordered for merging.
func (s *Scheduler) collectReady(ctx context.Context, p *pass, snap *facts.Tree, yield bool) ([]int, bool) {
	var ready []int
	progressed := false

	for i, info := range p.infos {
		if !p.pending[info.Name] {
			continue
		}

		if s.allBlocked(info) {
			s.finish(ctx, p, info, Outcome{Resolver: info.Name, Status: StatusBlocked,
				Reason: "every produced path is blocklisted"}, nil)
			progressed = true
			continue
		}

		if p.waiting(info) || (yield && p.yields(info)) {
			continue
		}

		if reason, skip := unmet(info, snap); skip {
			s.finish(ctx, p, info, Outcome{Resolver: info.Name, Status: StatusSkipped, Reason: reason}, nil)
			progressed = true
			continue
		}

		ready = append(ready, i)
	}

	sort.SliceStable(ready, func(a, b int) bool {
		return p.infos[ready[a]].Priority > p.infos[ready[b]].Priority
	})
	return ready, progressed
}

// waiting reports whether a producer of anything info reads is still pending.
func (p *pass) waiting(info Info) bool {
	for _, producer := range p.graph.producers(info.Name) {
		if p.pending[producer] {
			return true
		}
	}
	return false
}

// yields reports whether a pending resolver that outranks info produces an
// overlapping path. The higher ranked producer has to merge first.
func (p *pass) yields(info Info) bool {
	earlier := true
	for _, other := range p.infos {
		if other.Name == info.Name {
			earlier = false
			continue
		}
		if !p.pending[other.Name] {
			continue
		}
		outranks := other.Priority > info.Priority || (earlier && other.Priority == info.Priority)
		if outranks && producesOverlap(other, info) {
			return true
		}
	}
	return false
}

func producesOverlap(a, b Info) bool {
	for _, path := range b.Produces {
		if a.produces(path) {
			return true
		}
	}
	return false
}

// unmet returns why info cannot run against snap, if it cannot.
func unmet(info Info, snap *facts.Tree) (string, bool) {
	for _, dep := range info.Depends {
		if dep.Optional {
			continue
		}
		if _, ok := snap.Get(dep.Path); !ok {
			return fmt.Sprintf("dependency %s is unresolved", dep.Path), true
		}
	}
	for _, c := range info.Confines {
		if !c.Holds(snap) {
			return fmt.Sprintf("confinement %s does not hold", c), true
		}
	}
	return "", false
}

func (s *Scheduler) allBlocked(info Info) bool {
	if len(s.blocklist) == 0 {
		return false
	}
	for _, path := range info.Produces {
		blocked := false
		for _, prefix := range s.blocklist {
			if facts.IsUnder(path, prefix) {
				blocked = true
				break
			}
		}
		if !blocked {
			return false
		}
	}
	return true
}

type batchResult struct {
	outcome Outcome
	set     *facts.Set
}

// runBatch executes the ready resolvers on a bounded pool and merges the
// results in the order of ready.
func (s *Scheduler) runBatch(ctx context.Context, p *pass, snap *facts.Tree, ready []int) {
	results := make([]batchResult, len(ready))

	workers := s.parallelism
	if len(ready) < workers {
		workers = len(ready)
	}
	wp := pool.New().WithMaxGoroutines(workers)
	for slot, idx := range ready {
		slot, idx := slot, idx
		wp.Go(func() {
			info := p.infos[idx]
			outcome, set := s.execute(ctx, p, p.resolvers[idx], info, snap)
			results[slot] = batchResult{outcome: outcome, set: set}
		})
	}
	wp.Wait()

	for slot, idx := range ready {
		s.finish(ctx, p, p.infos[idx], results[slot].outcome, results[slot].set)
	}
}

// execute obtains the write-set of one resolver, from the cache when
// possible.
func (s *Scheduler) execute(ctx context.Context, p *pass, res Resolver, info Info, snap *facts.Tree) (Outcome, *facts.Set) {
	outcome := Outcome{Resolver: info.Name}
	start := time.Now()

	ttl := s.ttl(info)
	if ttl > 0 {
		set, ok, err := s.cache.Load(ctx, info.Name)
		switch {
		case err != nil:
			p.logger.Warn().Str("resolver", info.Name).Err(err).Msg("Fact cache read failed")
		case ok:
			outcome.Status = StatusCached
			outcome.Duration = time.Since(start)
			return outcome, set
		}
	}

	set, err := s.call(ctx, res, info, snap, p.src)
	outcome.Duration = time.Since(start)

	if err == nil && set != nil {
		if serr := set.Err(); serr != nil {
			err = NewInternalError("resolver returned an invalid write-set", serr).
				WithCode(ErrCodeResolverFailed).WithResolver(info.Name).WithOperation("resolve")
		}
	}

	switch {
	case err == nil:
		outcome.Status = StatusResolved
		set = s.ownPaths(p, info, set)
		if ttl > 0 && set != nil {
			if cerr := s.cache.Save(ctx, info.Name, set, ttl); cerr != nil {
				p.logger.Warn().Str("resolver", info.Name).Err(cerr).Msg("Fact cache write failed")
			}
		}
		return outcome, set
	case ctx.Err() != nil:
		outcome.Status = StatusSkipped
		outcome.Reason = "canceled"
		outcome.Err = ctx.Err()
	case IsUnavailable(err):
		outcome.Status = StatusSkipped
		outcome.Reason = "data unavailable"
		outcome.Err = err
	default:
		outcome.Status = StatusFailed
		outcome.Reason = "resolver failed"
		outcome.Err = err
	}
	return outcome, nil
}

// call runs the resolver under its timeout and converts panics into
// internal errors.
func (s *Scheduler) call(ctx context.Context, res Resolver, info Info, snap *facts.Tree, src source.Source) (*facts.Set, error) {
	ctx, span := s.tracer.Start(ctx, "resolve.resolver", trace.WithAttributes(
		attribute.String("resolver.name", info.Name),
		attribute.Int("resolver.priority", info.Priority),
	))
	defer span.End()

	rctx, cancel := context.WithTimeout(ctx, s.resolverTimeout)
	defer cancel()

	type result struct {
		set *facts.Set
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: NewInternalError(fmt.Sprintf("resolver panicked: %v", r), nil).
					WithCode(ErrCodeResolverFailed).WithResolver(info.Name).WithOperation("resolve")}
			}
		}()
		set, err := res.Resolve(rctx, snap, src)
		done <- result{set: set, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-rctx.Done():
		r.err = rctx.Err()
	}

	if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
		r.err = NewTimeoutError(fmt.Sprintf("resolver exceeded %s", s.resolverTimeout), r.err).
			WithResolver(info.Name).WithOperation("resolve")
	}
	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
	}
	return r.set, r.err
}

// ownPaths drops entries outside the declared produced paths.
func (s *Scheduler) ownPaths(p *pass, info Info, set *facts.Set) *facts.Set {
	if set == nil {
		return nil
	}
	var foreign []string
	kept := set.Filter(func(path string) bool {
		for _, own := range info.Produces {
			if facts.IsUnder(path, own) {
				return true
			}
		}
		foreign = append(foreign, path)
		return false
	})
	if len(foreign) > 0 {
		p.logger.Warn().Str("resolver", info.Name).
			Str("paths", strings.Join(foreign, ",")).
			Msg("Dropped facts outside the declared produced paths")
	}
	return kept
}

func (s *Scheduler) ttl(info Info) time.Duration {
	if s.cache == nil || len(s.ttls) == 0 {
		return 0
	}
	if d, ok := s.ttls[info.Name]; ok {
		return d
	}
	if len(info.Produces) > 0 {
		return s.ttls[facts.Group(info.Produces[0])]
	}
	return 0
}

// finish merges set (if any), records the outcome and marks the resolver
// done.
func (s *Scheduler) finish(ctx context.Context, p *pass, info Info, outcome Outcome, set *facts.Set) {
	if set != nil {
		merged := p.store.Merge(info.Name, set)
		outcome.Accepted = len(merged.Accepted)
		outcome.Rejected = merged.Rejected
		for _, rej := range merged.Rejected {
			if rej.Reason == facts.RejectBlocked {
				continue
			}
			p.logger.Debug().Str("resolver", info.Name).Str("path", rej.Path).
				Str("holder", rej.Holder).Str("reason", rej.Reason).Msg("Fact already resolved")
		}
	}

	log := p.logger.Debug()
	if outcome.Status == StatusFailed {
		log = p.logger.Warn()
	}
	log.Str("resolver", info.Name).
		Str("status", string(outcome.Status)).
		Str("reason", outcome.Reason).
		Dur("duration", outcome.Duration).
		Err(outcome.Err).
		Msg("Resolver finished")

	delete(p.pending, info.Name)
	p.result.Outcomes = append(p.result.Outcomes, outcome)
	s.observer.ResolverFinished(ctx, p.id, outcome)
}

func (s *Scheduler) cancelPending(ctx context.Context, p *pass, err error) {
	for _, info := range p.infos {
		if p.pending[info.Name] {
			s.finish(ctx, p, info, Outcome{Resolver: info.Name, Status: StatusSkipped,
				Reason: "canceled", Err: err}, nil)
		}
	}
}

func (s *Scheduler) skipPending(ctx context.Context, p *pass, reason string) {
	for _, info := range p.infos {
		if p.pending[info.Name] {
			s.finish(ctx, p, info, Outcome{Resolver: info.Name, Status: StatusSkipped, Reason: reason}, nil)
		}
	}
}
