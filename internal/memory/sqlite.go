package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"RoleChat/internal/session"
)

// SQLiteStore keeps records in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = "rolechat.db"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the save transaction and readers serialised.
	db.SetMaxOpenConns(1)

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		persona_prompt TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		session_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		PRIMARY KEY (session_key, seq),
		FOREIGN KEY(session_key) REFERENCES sessions(key)
	);`

	if _, err := db.Exec(createSessionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	if _, err := db.Exec(createMessagesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With(slog.String("component", "memory.sqlite")),
	}, nil
}

// Load reads the messages stored under key in sequence order.
func (s *SQLiteStore) Load(ctx context.Context, key string) session.History {
	if err := ValidateKey(key); err != nil {
		s.logger.WarnContext(ctx, "refusing to load memory", "error", err)
		return session.History{}
	}

	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM sessions WHERE key = ?", key).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.InfoContext(ctx, "no stored session, starting a new conversation", "key", key)
		return session.History{}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load session", "key", key, "error", err)
		return session.History{}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content FROM messages WHERE session_key = ? ORDER BY seq",
		key,
	)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load messages", "key", key, "error", err)
		return session.History{}
	}
	defer rows.Close()

	history := session.History{}
	for rows.Next() {
		var msg session.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			s.logger.WarnContext(ctx, "failed to scan message", "key", key, "error", err)
			return session.History{}
		}
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to iterate messages", "key", key, "error", err)
		return session.History{}
	}

	s.logger.InfoContext(ctx, "loaded session", "key", key, "message_count", len(history), "updated_at", updatedAt)
	return history
}

// Save replaces the session row and all of its messages in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, key string, history session.History, personaPrompt string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (key, persona_prompt, updated_at) VALUES (?, ?, ?)",
		key, personaPrompt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for i, msg := range history {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_key, seq, role, content) VALUES (?, ?, ?, ?)",
			key, i, string(msg.Role), msg.Content,
		)
		if err != nil {
			return fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "session saved", "key", key, "message_count", len(history))
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
