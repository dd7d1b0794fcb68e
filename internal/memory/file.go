package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"RoleChat/internal/session"
)

// FileStore keeps one indented JSON document per key under a directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore creates a store rooted at dir. The directory is created on first save.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With(slog.String("component", "memory.file")),
		now:    time.Now,
	}
}

// Path returns the file that holds the record for key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Load reads the history stored under key.
func (s *FileStore) Load(ctx context.Context, key string) session.History {
	if err := ValidateKey(key); err != nil {
		s.logger.WarnContext(ctx, "refusing to load memory", "error", err)
		return session.History{}
	}

	path := s.Path(key)
	data, err := os.ReadFile(path) // #nosec G304 - key is validated and joined to the configured dir
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.InfoContext(ctx, "no memory file, starting a new conversation", "path", path)
		return session.History{}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read memory file", "path", path, "error", err)
		return session.History{}
	}

	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.WarnContext(ctx, "memory file is corrupt, starting a new conversation", "path", path, "error", err)
		return session.History{}
	}
	if rec.History == nil {
		return session.History{}
	}

	s.logger.InfoContext(ctx, "loaded memory", "path", path, "message_count", len(rec.History))
	return rec.History
}

// Save writes the record to a temp file and renames it over the previous one.
func (s *FileStore) Save(ctx context.Context, key string, history session.History, personaPrompt string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	rec := session.Record{PersonaPrompt: personaPrompt, History: history, UpdatedAt: s.now()}
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to marshal memory record: %w", err)
	}

	path := s.Path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp memory file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to save memory file: %w", err)
	}

	s.logger.InfoContext(ctx, "saved memory", "path", path, "message_count", len(history))
	return nil
}

// Close is a no-op for file stores.
func (s *FileStore) Close() error { return nil }
