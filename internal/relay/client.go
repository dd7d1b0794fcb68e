package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"

	"RoleChat/internal/syncbin"
)

// Subscribe connects to a relay's /ws endpoint and calls fn for every record
// until ctx is cancelled or the relay closes the connection.
func Subscribe(ctx context.Context, url string, fn func(syncbin.Record), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	defer conn.Close()
	logger.Info("subscribed to relay", "url", url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var rec syncbin.Record
		if err := conn.ReadJSON(&rec); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("relay closed connection: %w", err)
			}
			return fmt.Errorf("failed to read record: %w", err)
		}
		fn(rec)
	}
}
