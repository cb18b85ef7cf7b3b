package stores

import (
	"time"

	"github.com/rs/zerolog"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config holds fact cache configuration.
type Config struct {
	// Path is the SQLite database file, or MemoryPath.
	Path string

	// Host scopes Load and Save. Results cached for one host are never
	// served to another.
	Host string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// LockTimeout bounds the wait for the cross-process write lock.
	LockTimeout time.Duration

	Logger zerolog.Logger

	// Now replaces the clock in tests.
	Now func() time.Time
}

// Entry describes one cached resolver result.
type Entry struct {
	Host      string    `json:"host" yaml:"host"`
	Resolver  string    `json:"resolver" yaml:"resolver"`
	Facts     int       `json:"facts" yaml:"facts"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// Expired reports whether the entry is past its lifetime at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
