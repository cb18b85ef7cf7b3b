package stores

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/hostfacts/pkg/facts"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupTestStore creates a migrated in-memory store for host.
func setupTestStore(t *testing.T, host string) (*SQLiteStore, *clock) {
	t.Helper()

	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := Open(context.Background(), Config{
		Path: MemoryPath,
		Host: host,
		Now:  clk.Now,
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, clk
}

func sampleSet() *facts.Set {
	set := facts.NewSet()
	set.Put("processors.count", 2)
	set.Put("processors.models", []string{"Intel(R) Xeon(R)", "Intel(R) Xeon(R)"})
	set.Put("processors.isa", "x86_64")
	set.Put("identity.privileged", true)
	return set
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected an error without a path")
	}
}

func TestSaveLoad(t *testing.T) {
	store, _ := setupTestStore(t, "web1")
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "processors"); err != nil || ok {
		t.Fatalf("Load() on empty cache = %v, %v", ok, err)
	}

	want := sampleSet()
	if err := store.Save(ctx, "processors", want, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, ok, err := store.Load(ctx, "processors")
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}

	wantEntries, gotEntries := want.Entries(), got.Entries()
	if len(gotEntries) != len(wantEntries) {
		t.Fatalf("Load() returned %d facts, want %d", len(gotEntries), len(wantEntries))
	}
	for i := range wantEntries {
		if gotEntries[i].Path != wantEntries[i].Path || !gotEntries[i].Value.Equal(wantEntries[i].Value) {
			t.Errorf("fact %d = %s=%v, want %s=%v", i,
				gotEntries[i].Path, gotEntries[i].Value, wantEntries[i].Path, wantEntries[i].Value)
		}
	}
}

func TestSaveReplaces(t *testing.T) {
	store, _ := setupTestStore(t, "web1")
	ctx := context.Background()

	if err := store.Save(ctx, "processors", sampleSet(), time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	next := facts.NewSet()
	next.Put("processors.count", 4)
	if err := store.Save(ctx, "processors", next, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, ok, err := store.Load(ctx, "processors")
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if got.Len() != 1 {
		t.Fatalf("Load() returned %d facts, want 1", got.Len())
	}
	if v := got.Entries()[0].Value.String(); v != "4" {
		t.Errorf("processors.count = %s, want 4", v)
	}
}

func TestExpiry(t *testing.T) {
	store, clk := setupTestStore(t, "web1")
	ctx := context.Background()

	if err := store.Save(ctx, "kernel", sampleSet(), 10*time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clk.Advance(9 * time.Minute)
	if _, ok, _ := store.Load(ctx, "kernel"); !ok {
		t.Error("entry expired early")
	}

	clk.Advance(time.Minute)
	if _, ok, _ := store.Load(ctx, "kernel"); ok {
		t.Error("expired entry was served")
	}

	n, err := store.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d entries, want 1", n)
	}
	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() after prune = %v", entries)
	}
}

func TestZeroTTLIsNotCached(t *testing.T) {
	store, _ := setupTestStore(t, "web1")
	ctx := context.Background()

	if err := store.Save(ctx, "kernel", sampleSet(), 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, ok, _ := store.Load(ctx, "kernel"); ok {
		t.Error("zero TTL result was cached")
	}
}

func TestHostsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "facts.db")
	ctx := context.Background()

	open := func(host string) *SQLiteStore {
		store, err := Open(ctx, Config{Path: path, Host: host})
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	}
	web, db := open("web1"), open("db1")

	if err := web.Save(ctx, "processors", sampleSet(), time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, ok, _ := db.Load(ctx, "processors"); ok {
		t.Error("entry of web1 served to db1")
	}
	if err := db.Save(ctx, "processors", sampleSet(), time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := web.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	if entries[0].Host != "db1" || entries[1].Host != "web1" {
		t.Errorf("List() order = %s, %s", entries[0].Host, entries[1].Host)
	}
	if entries[0].Facts != sampleSet().Len() {
		t.Errorf("entry facts = %d, want %d", entries[0].Facts, sampleSet().Len())
	}

	n, err := web.Clear(ctx, "web1")
	if err != nil || n != 1 {
		t.Fatalf("Clear(web1) = %d, %v", n, err)
	}
	if _, ok, _ := db.Load(ctx, "processors"); !ok {
		t.Error("Clear(web1) removed db1 entries")
	}

	n, err = web.Clear(ctx, "")
	if err != nil || n != 1 {
		t.Fatalf("Clear(all) = %d, %v", n, err)
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		kind, raw string
		want      facts.Value
		wantErr   bool
	}{
		{kind: "string", raw: "wheezy", want: facts.String("wheezy")},
		{kind: "bool", raw: "true", want: facts.Bool(true)},
		{kind: "int", raw: "-3", want: facts.Int(-3)},
		{kind: "int", raw: "x", wantErr: true},
		{kind: "list", raw: "[]", wantErr: true},
	}

	for _, tt := range tests {
		got, err := decodeValue(tt.kind, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("decodeValue(%s, %s) error = %v", tt.kind, tt.raw, err)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("decodeValue(%s, %s) = %v, want %v", tt.kind, tt.raw, got, tt.want)
		}
	}
}
