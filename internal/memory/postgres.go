package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"RoleChat/internal/session"
)

// PostgresStore keeps records in PostgreSQL, for deployments that share one
// database between several hosts.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "memory.postgres")),
	}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			key TEXT PRIMARY KEY,
			persona_prompt TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			session_key TEXT NOT NULL REFERENCES chat_sessions(key) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (session_key, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) session.History {
	if err := ValidateKey(key); err != nil {
		s.logger.WarnContext(ctx, "refusing to load memory", "error", err)
		return session.History{}
	}

	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT updated_at FROM chat_sessions WHERE key=$1`, key).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.InfoContext(ctx, "no stored session, starting a new conversation", "key", key)
		return session.History{}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "query session failed", "key", key, "error", err)
		return session.History{}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM chat_messages WHERE session_key=$1 ORDER BY seq`,
		key,
	)
	if err != nil {
		s.logger.WarnContext(ctx, "query messages failed", "key", key, "error", err)
		return session.History{}
	}
	defer rows.Close()

	history := session.History{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			s.logger.WarnContext(ctx, "scan message row failed", "key", key, "error", err)
			return session.History{}
		}
		history = append(history, session.Message{Role: session.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		s.logger.WarnContext(ctx, "iterate message rows failed", "key", key, "error", err)
		return session.History{}
	}

	return history
}

func (s *PostgresStore) Save(ctx context.Context, key string, history session.History, personaPrompt string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO chat_sessions (key, persona_prompt, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET persona_prompt = EXCLUDED.persona_prompt, updated_at = EXCLUDED.updated_at`,
		key, personaPrompt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE session_key=$1`, key); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	for i, msg := range history {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (session_key, seq, role, content) VALUES ($1, $2, $3, $4)`,
			key, i, string(msg.Role), msg.Content,
		)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
