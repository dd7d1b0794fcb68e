package syncbin

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often a Watcher reads the record.
const DefaultPollInterval = 2 * time.Second

// Peeker reads the record without consuming it.
type Peeker interface {
	Peek(ctx context.Context) (Record, error)
}

// Watcher polls a record and reports text changes.
type Watcher struct {
	source   Peeker
	interval time.Duration
	onChange func(Record)
	logger   *slog.Logger
}

// NewWatcher creates a watcher. A non-positive interval means DefaultPollInterval.
func NewWatcher(source Peeker, interval time.Duration, onChange func(Record), logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		source:   source,
		interval: interval,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "syncbin.watcher")),
	}
}

// Run polls until ctx is cancelled. The first successful read always counts as
// a change. Poll errors are logged and polling continues.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last string
	seen := false
	for {
		rec, err := w.source.Peek(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("poll failed", "error", err)
		case !seen || rec.Text != last:
			seen = true
			last = rec.Text
			w.onChange(rec)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
