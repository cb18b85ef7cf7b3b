package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/policy"
	"github.com/openfroyo/hostfacts/pkg/resolvers"
	"github.com/openfroyo/hostfacts/pkg/server"
	"github.com/openfroyo/hostfacts/pkg/source/sourcetest"
	"github.com/openfroyo/hostfacts/pkg/telemetry"
)

// wheezy resolves the builtin resolvers against a Debian wheezy fixture and
// counts the passes.
func wheezy(calls *int32) server.ResolveFunc {
	return func(ctx context.Context) (*engine.Result, error) {
		atomic.AddInt32(calls, 1)
		registry := engine.NewRegistry()
		registry.MustRegister(resolvers.Builtin()...)
		sched := engine.NewScheduler(registry, engine.WithDetector(resolvers.Platform()))
		return sched.ResolveAll(ctx, sourcetest.Debian(sourcetest.Wheezy))
	}
}

func get(t *testing.T, h http.Handler, target string) (int, map[string]any) {
	t.Helper()
	return do(t, h, http.MethodGet, target)
}

func do(t *testing.T, h http.Handler, method, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec.Code, body
}

func TestBeforeFirstPass(t *testing.T) {
	var calls int32
	srv := server.New(server.Config{}, wheezy(&calls))
	h := srv.Handler()

	code, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", body["status"])

	code, _ = get(t, h, "/v1/facts")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestFactQueries(t *testing.T) {
	var calls int32
	srv := server.New(server.Config{}, wheezy(&calls))
	_, err := srv.Refresh(context.Background())
	require.NoError(t, err)
	h := srv.Handler()

	t.Run("whole tree", func(t *testing.T) {
		code, body := get(t, h, "/v1/facts")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "Linux", body["kernel"])
		osFacts, ok := body["os"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Debian", osFacts["name"])
	})

	t.Run("leaf", func(t *testing.T) {
		code, body := get(t, h, "/v1/facts/networking.ip")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "networking.ip", body["path"])
		assert.Equal(t, "10.0.2.15", body["value"])
	})

	t.Run("branch", func(t *testing.T) {
		code, body := get(t, h, "/v1/facts/os.release")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]any{"full": "7.8", "major": "7", "minor": "8"}, body["value"])
	})

	t.Run("absent", func(t *testing.T) {
		code, body := get(t, h, "/v1/facts/networking.interfaces.eth9")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "absent", body["error"])
	})

	t.Run("invalid path", func(t *testing.T) {
		code, _ := get(t, h, "/v1/facts/os..name")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("subtree", func(t *testing.T) {
		code, body := get(t, h, "/v1/subtree/os.release")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "os.release", body["prefix"])

		entries, ok := body["facts"].([]any)
		require.True(t, ok)
		var paths []string
		for _, e := range entries {
			paths = append(paths, e.(map[string]any)["path"].(string))
		}
		assert.Equal(t, []string{"full", "major", "minor"}, paths)
	})

	t.Run("absent subtree", func(t *testing.T) {
		code, body := get(t, h, "/v1/subtree/virtual")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "absent", body["error"])
	})

	t.Run("health", func(t *testing.T) {
		code, body := get(t, h, "/healthz")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, srv.Latest().ID, body["pass_id"])
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveEndpoint(t *testing.T) {
	var calls int32
	srv := server.New(server.Config{}, wheezy(&calls))
	h := srv.Handler()

	code, body := do(t, h, http.MethodPost, "/v1/resolve")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["id"])
	assert.Greater(t, body["facts"].(float64), float64(20))
	assert.NotEmpty(t, body["outcomes"])

	first := srv.Latest().ID
	code, _ = do(t, h, http.MethodPost, "/v1/resolve")
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, first, srv.Latest().ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	code, _ = get(t, h, "/v1/resolve")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestFailedRefreshKeepsTree(t *testing.T) {
	var calls int32
	ok := wheezy(&calls)
	fail := false
	srv := server.New(server.Config{}, func(ctx context.Context) (*engine.Result, error) {
		if fail {
			return nil, errors.New("registry build failed")
		}
		return ok(ctx)
	})
	_, err := srv.Refresh(context.Background())
	require.NoError(t, err)
	served := srv.Latest().ID

	fail = true
	h := srv.Handler()
	code, body := do(t, h, http.MethodPost, "/v1/resolve")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "registry build failed")

	code, _ = get(t, h, "/v1/facts/kernel")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, served, srv.Latest().ID)
}

func TestCheckEndpoint(t *testing.T) {
	var calls int32
	policies, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	srv := server.New(server.Config{}, wheezy(&calls), server.WithPolicyEngine(policies))
	_, err = srv.Refresh(context.Background())
	require.NoError(t, err)

	code, body := get(t, srv.Handler(), "/v1/check")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["passed"])
	assert.Empty(t, body["violations"])
	assert.Contains(t, body["evaluated"], "consistency")
}

func TestCheckEndpointDisabled(t *testing.T) {
	var calls int32
	srv := server.New(server.Config{}, wheezy(&calls))
	code, _ := get(t, srv.Handler(), "/v1/check")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	require.NoError(t, err)

	var calls int32
	srv := server.New(server.Config{}, wheezy(&calls), server.WithMetrics(metrics))
	h := srv.Handler()

	get(t, h, "/healthz")
	get(t, h, "/v1/facts/kernel")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, `hostfacts_http_requests_total{code="503",route="/healthz"} 1`)
	assert.Contains(t, out, `route="/v1/facts/{path}"`)
}

func TestServeRefreshesOnFactsChange(t *testing.T) {
	dir := t.TempDir()

	var calls int32
	srv := server.New(server.Config{
		RefreshInterval: time.Hour,
		WatchDirs:       []string{dir, filepath.Join(dir, "missing")},
		WatchDelay:      20 * time.Millisecond,
	}, wheezy(&calls))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return srv.Latest() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/v1/facts/os.distro.codename")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"path":"os.distro.codename","value":"wheezy"}`, string(data))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.yaml"), []byte("role: web\n"), 0o644))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
