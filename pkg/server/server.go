// Package server serves the latest resolved fact tree over HTTP.
//
// The tree is refreshed on an interval, whenever a file in a watched
// external facts directory changes, and on POST /v1/resolve. Queries always
// read the last completed pass; a failed refresh keeps serving the previous
// tree.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/policy"
	"github.com/openfroyo/hostfacts/pkg/telemetry"
)

const (
	// DefaultListen is the address served when none is configured.
	DefaultListen = "127.0.0.1:8765"

	// DefaultRefreshInterval is the period between background passes.
	DefaultRefreshInterval = 5 * time.Minute

	// DefaultWatchDelay debounces bursts of facts.d events.
	DefaultWatchDelay = 500 * time.Millisecond

	shutdownTimeout = 10 * time.Second
)

// ResolveFunc runs one resolution pass. It is called for every refresh so
// that it can pick up new external and scripted resolvers.
type ResolveFunc func(ctx context.Context) (*engine.Result, error)

// Config configures the server.
type Config struct {
	// Listen is the TCP address to serve on.
	Listen string

	// RefreshInterval is the period between background passes.
	RefreshInterval time.Duration

	// WatchDirs are external facts directories. A change below any of
	// them triggers a pass.
	WatchDirs []string

	// PolicyPaths are reloaded into the policy engine when they change.
	PolicyPaths []string

	// WatchDelay is the quiet period after a file event before acting.
	WatchDelay time.Duration
}

// Server is the HTTP query API.
type Server struct {
	cfg      Config
	resolve  ResolveFunc
	policies *policy.Engine
	metrics  *telemetry.Metrics
	logger   zerolog.Logger

	// refreshMu serializes passes.
	refreshMu sync.Mutex

	mu     sync.RWMutex
	latest *engine.Result

	trigger chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithPolicyEngine enables GET /v1/check and policy hot reload.
func WithPolicyEngine(e *policy.Engine) Option {
	return func(s *Server) { s.policies = e }
}

// WithMetrics enables GET /metrics and request counting.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server. No pass runs until Run or Refresh is called.
func New(cfg Config, resolve ResolveFunc, opts ...Option) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.WatchDelay <= 0 {
		cfg.WatchDelay = DefaultWatchDelay
	}
	s := &Server{
		cfg:     cfg,
		resolve: resolve,
		logger:  zerolog.Nop(),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "server").Logger()
	return s
}

// Latest returns the last completed pass, or nil before the first one.
func (s *Server) Latest() *engine.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Refresh runs a pass and, when it completes, makes it the served tree.
func (s *Server) Refresh(ctx context.Context) (*engine.Result, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	result, err := s.resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolution failed: %w", err)
	}

	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()

	s.logger.Debug().
		Str("pass_id", result.ID).
		Int("facts", result.Tree.Len()).
		Msg("Fact tree refreshed")
	return result, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/facts", s.handleFacts)
	r.Get("/v1/facts/{path}", s.handleFact)
	r.Get("/v1/subtree/{prefix}", s.handleSubtree)
	r.Post("/v1/resolve", s.handleResolve)
	if s.policies != nil {
		r.Get("/v1/check", s.handleCheck)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// instrument logs and counts each request by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(route, strconv.Itoa(status))
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// absent is the body of a query for a fact that was not resolved.
var absent = errorResponse{Error: "absent"}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Response encode failed")
	}
}

// tree returns the served tree or writes 503 when there is none yet.
func (s *Server) tree(w http.ResponseWriter) (*facts.Tree, bool) {
	latest := s.Latest()
	if latest == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no resolution pass has completed"})
		return nil, false
	}
	return latest.Tree, true
}

type healthResponse struct {
	Status   string    `json:"status"`
	PassID   string    `json:"pass_id,omitempty"`
	Facts    int       `json:"facts"`
	Resolved time.Time `json:"resolved_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	latest := s.Latest()
	if latest == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		PassID:   latest.ID,
		Facts:    latest.Tree.Len(),
		Resolved: latest.StartedAt.Add(latest.Duration),
	})
}

func (s *Server) handleFacts(w http.ResponseWriter, _ *http.Request) {
	tree, ok := s.tree(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleFact(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.tree(w)
	if !ok {
		return
	}
	path := chi.URLParam(r, "path")
	if !facts.ValidPath(path) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid fact path %q", path)})
		return
	}
	fact, found := tree.Get(path)
	if !found {
		s.writeJSON(w, http.StatusNotFound, absent)
		return
	}
	s.writeJSON(w, http.StatusOK, fact)
}

type subtreeResponse struct {
	Prefix string       `json:"prefix"`
	Facts  []facts.Fact `json:"facts"`
}

func (s *Server) handleSubtree(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.tree(w)
	if !ok {
		return
	}
	prefix := chi.URLParam(r, "prefix")
	if !facts.ValidPath(prefix) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid fact path %q", prefix)})
		return
	}
	entries, found := tree.GetSubtree(prefix)
	if !found {
		s.writeJSON(w, http.StatusNotFound, absent)
		return
	}
	s.writeJSON(w, http.StatusOK, subtreeResponse{Prefix: prefix, Facts: entries})
}

type resolveResponse struct {
	*engine.Result
	Facts int `json:"facts"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	result, err := s.Refresh(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Requested resolution failed")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, resolveResponse{Result: result, Facts: result.Tree.Len()})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.tree(w)
	if !ok {
		return
	}
	report, err := s.policies.Evaluate(r.Context(), tree)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// Run resolves once, then serves until ctx is done. The listener, the
// refresh loop and the file watches run in one errgroup; the first fatal
// error stops all of them.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		s.logger.Info().Str("listen", ln.Addr().String()).Msg("Serving facts")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.refreshLoop(ctx)
		return nil
	})

	if len(s.cfg.WatchDirs) > 0 {
		watcher, err := s.watchFacts(s.cfg.WatchDirs)
		if err != nil {
			s.logger.Warn().Err(err).Msg("External facts are not watched")
		} else {
			g.Go(func() error {
				s.processFactEvents(ctx, watcher)
				return nil
			})
		}
	}

	if s.policies != nil && len(s.cfg.PolicyPaths) > 0 {
		loader := policy.NewLoader(s.logger)
		loader.ReloadDelay = s.cfg.WatchDelay
		err := loader.Watch(ctx, s.cfg.PolicyPaths, func(policies []policy.Policy) error {
			return s.policies.ReplacePolicies(ctx, policies)
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Policies are not watched")
		}
	}

	return g.Wait()
}

// requestRefresh queues a pass unless one is already queued.
func (s *Server) requestRefresh() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// refreshLoop runs a pass at start, on every tick and on every trigger.
func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Background resolution failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}

// watchFacts watches the existing directories among dirs.
func (s *Server) watchFacts(dirs []string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	watched := 0
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			s.logger.Debug().Err(err).Str("path", dir).Msg("Facts directory not watched")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return nil, errors.New("no external facts directory exists")
	}
	return watcher, nil
}

// processFactEvents debounces facts.d changes into refresh requests.
func (s *Server) processFactEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Msg("External facts changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.cfg.WatchDelay, s.requestRefresh)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
