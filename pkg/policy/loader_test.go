package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const rackPolicy = `# Every host carries a rack fact.
# Set it in facts.d.
package site.rack

import rego.v1

deny contains "rack fact is missing" if not input.rack
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "rack.rego")
	writeFile(t, policyFile, rackPolicy)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "rack" {
		t.Errorf("Expected name 'rack', got '%s'", policy.Name)
	}
	if policy.Description != "Every host carries a rack fact. Set it in facts.d." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityWarning || !policy.Enabled {
		t.Errorf("Expected an enabled warning policy, got %+v", policy)
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "rack.json")
	data, err := json.Marshal(map[string]any{
		"description": "rack check",
		"rego":        rackPolicy,
		"severity":    "error",
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded.Name != "rack" {
		t.Errorf("Expected name from file stem, got '%s'", loaded.Name)
	}
	if loaded.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", loaded.Severity)
	}
	if !loaded.Enabled {
		t.Error("JSON policies are enabled unless stated otherwise")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := map[string]string{
		"policy.txt":   "package x",
		"invalid.json": "{ not json",
		"empty.json":   `{"name": "empty"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, content)
			if _, err := loader.loadFromFile(path); err == nil {
				t.Errorf("Expected an error for %s", name)
			}
		})
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "b.rego"), rackPolicy)
	writeFile(t, filepath.Join(dir, "nested", "a.rego"), rackPolicy)
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[0].Name != "a" || policies[1].Name != "b" {
		t.Errorf("Expected policies ordered by name, got %s, %s", policies[0].Name, policies[1].Name)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected an error for a missing path")
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "rack.rego")
	writeFile(t, path, rackPolicy)

	if _, err := loader.loadFromFile(path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	writeFile(t, path, "# changed\n"+rackPolicy)

	cached, _ := loader.loadFromFile(path)
	if cached.Description != "Every host carries a rack fact. Set it in facts.d." {
		t.Error("Expected the cached policy before ClearCache")
	}

	loader.ClearCache()
	fresh, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to reload policy: %v", err)
	}
	if fresh.Description != "changed Every host carries a rack fact. Set it in facts.d." {
		t.Errorf("Unexpected description after ClearCache: %q", fresh.Description)
	}
}

func TestWatchReloadsPolicies(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())
	loader.ReloadDelay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		reloaded []Policy
	)
	done := make(chan struct{}, 1)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		mu.Lock()
		reloaded = policies
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "rack.rego"), rackPolicy)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a reload")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reloaded) != 1 || reloaded[0].Name != "rack" {
		t.Errorf("Unexpected reloaded policies %+v", reloaded)
	}
}
