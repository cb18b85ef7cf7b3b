package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ engine.FactCache = (*SQLiteStore)(nil)

// SQLiteStore is the fact cache. It keeps the last write-set of each
// resolver per host until its TTL runs out.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	lock   *flock.Flock
	logger zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &SQLiteStore{cfg: cfg, logger: cfg.Logger.With().Str("component", "cache").Logger()}
	if cfg.Path != MemoryPath {
		s.lock = flock.New(cfg.Path + ".lock")
	}
	return s, nil
}

// Open creates, initializes and migrates a store, then prunes expired
// entries.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if n, err := s.Prune(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to prune expired cache entries")
	} else if n > 0 {
		s.logger.Debug().Int64("entries", n).Msg("Pruned expired cache entries")
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
		dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if s.cfg.Path == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Load returns the unexpired write-set cached for resolver on the
// configured host.
func (s *SQLiteStore) Load(ctx context.Context, resolver string) (*facts.Set, bool, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM cache_entries WHERE host = ? AND resolver = ?`,
		s.cfg.Host, resolver,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	if s.cfg.Now().UnixMilli() >= expiresAt {
		return nil, false, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, kind, value
		FROM cached_facts
		WHERE host = ? AND resolver = ?
		ORDER BY position
	`, s.cfg.Host, resolver)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list cached facts: %w", err)
	}
	defer rows.Close()

	set := facts.NewSet()
	for rows.Next() {
		var path, kind, raw string
		if err := rows.Scan(&path, &kind, &raw); err != nil {
			return nil, false, fmt.Errorf("failed to scan cached fact: %w", err)
		}
		v, err := decodeValue(kind, raw)
		if err != nil {
			return nil, false, fmt.Errorf("cached fact %s: %w", path, err)
		}
		set.Put(path, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error iterating cached facts: %w", err)
	}
	if err := set.Err(); err != nil {
		return nil, false, fmt.Errorf("invalid cached facts for %s: %w", resolver, err)
	}
	return set, true, nil
}

// Save replaces the cached write-set of resolver.
func (s *SQLiteStore) Save(ctx context.Context, resolver string, set *facts.Set, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := s.cfg.Now()

	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cached_facts WHERE host = ? AND resolver = ?`, s.cfg.Host, resolver,
		); err != nil {
			return fmt.Errorf("failed to delete cached facts: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (host, resolver, created_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(host, resolver) DO UPDATE SET
				created_at = excluded.created_at,
				expires_at = excluded.expires_at
		`, s.cfg.Host, resolver, now.UnixMilli(), now.Add(ttl).UnixMilli()); err != nil {
			return fmt.Errorf("failed to upsert cache entry: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cached_facts (id, host, resolver, path, position, kind, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, f := range set.Entries() {
			if _, err := stmt.ExecContext(ctx,
				uuid.NewString(), s.cfg.Host, resolver, f.Path, i, f.Value.Kind().String(), f.Value.String(),
			); err != nil {
				return fmt.Errorf("failed to insert cached fact %s: %w", f.Path, err)
			}
		}
		return nil
	})
}

// List returns the cache entries of every host, expired ones included.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.host, e.resolver, e.created_at, e.expires_at, COUNT(f.id)
		FROM cache_entries e
		LEFT JOIN cached_facts f ON f.host = e.host AND f.resolver = e.resolver
		GROUP BY e.host, e.resolver
		ORDER BY e.host, e.resolver
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                  Entry
			created, expiresAt int64
		)
		if err := rows.Scan(&e.Host, &e.Resolver, &created, &expiresAt, &e.Facts); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		e.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}
	return entries, nil
}

// Clear removes the entries of host, or of every host when host is empty.
// It returns the number of entries removed.
func (s *SQLiteStore) Clear(ctx context.Context, host string) (int64, error) {
	var removed int64
	err := s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cached_facts WHERE (? = '' OR host = ?)`, host, host,
		); err != nil {
			return fmt.Errorf("failed to delete cached facts: %w", err)
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE (? = '' OR host = ?)`, host, host,
		)
		if err != nil {
			return fmt.Errorf("failed to delete cache entries: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}

// Prune deletes expired entries of every host.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	now := s.cfg.Now().UnixMilli()
	var removed int64
	err := s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cached_facts WHERE EXISTS (
				SELECT 1 FROM cache_entries e
				WHERE e.host = cached_facts.host AND e.resolver = cached_facts.resolver AND e.expires_at <= ?
			)
		`, now); err != nil {
			return fmt.Errorf("failed to delete expired facts: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now)
		if err != nil {
			return fmt.Errorf("failed to delete expired entries: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// write runs fn in a transaction while holding the file lock, so that
// concurrent hostfacts processes do not interleave their writes.
func (s *SQLiteStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if s.lock != nil {
		lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
		locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to lock cache: %w", err)
		}
		if !locked {
			return fmt.Errorf("cache is locked by another process")
		}
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to unlock cache")
			}
		}()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func decodeValue(kind, raw string) (facts.Value, error) {
	switch kind {
	case facts.KindString.String():
		return facts.String(raw), nil
	case facts.KindBool.String():
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return facts.Value{}, err
		}
		return facts.Bool(b), nil
	case facts.KindInt.String():
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return facts.Value{}, err
		}
		return facts.Int(i), nil
	default:
		return facts.Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}
