// Package memory persists conversation histories and reads role memory samples.
//
// Stores never fail a load: a missing or unreadable record yields an empty
// history and the caller starts a fresh session. Writes replace the whole
// record for a key. There is no locking across processes, so two writers on
// the same key are last-write-wins.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"RoleChat/internal/session"
)

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalidKey is returned for keys that cannot address a record.
var ErrInvalidKey = errors.New("invalid memory key")

// Store loads and saves one session record per key.
type Store interface {
	// Load returns the stored history for key, or an empty history when the
	// record is missing or cannot be read.
	Load(ctx context.Context, key string) session.History

	// Save overwrites the record for key.
	Save(ctx context.Context, key string, history session.History, personaPrompt string) error

	Close() error
}

// Config selects and configures a store driver.
type Config struct {
	Driver      string
	Dir         string
	SQLitePath  string
	DatabaseURL string
}

// NewStore builds the store named by cfg.Driver.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFile:
		return NewFileStore(cfg.Dir, logger), nil
	case DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case DriverPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("postgres store requires a database url")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown memory store driver %q", cfg.Driver)
	}
}

// ValidateKey rejects keys that are empty or could escape the storage root.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
