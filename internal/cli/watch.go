package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"RoleChat/internal/relay"
	"RoleChat/internal/syncbin"
)

var relayURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the synced reply whenever it changes",
	Long: `watch polls the sync bin and prints the reply each time its text changes.
With --relay it subscribes to a running relay's WebSocket instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		show := func(rec syncbin.Record) {
			state := "未读"
			if rec.Read {
				state = "已读"
			}
			fmt.Fprintf(out, "[%s] %s (%s)\n", rec.Timestamp, rec.Text, state)
		}

		if relayURL != "" {
			return relay.Subscribe(ctx, relayURL, show, logger)
		}

		adapter, err := openSync()
		if err != nil {
			return err
		}
		if adapter == nil {
			return errors.New("sync is not configured: set JSONBIN_BIN_ID and JSONBIN_ACCESS_KEY")
		}
		fmt.Fprintf(out, "watching sync bin every %s, Ctrl+C to stop\n", cfg.Sync.PollInterval)
		return syncbin.NewWatcher(adapter, cfg.Sync.PollInterval, show, logger).Run(ctx)
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve synced replies over HTTP and WebSocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := openSync()
		if err != nil {
			return err
		}
		if adapter == nil {
			return errors.New("sync is not configured: set JSONBIN_BIN_ID and JSONBIN_ACCESS_KEY")
		}
		srv := relay.NewServer(adapter, relay.Options{
			PollInterval: cfg.Sync.PollInterval,
			Logger:       logger,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s\n", cfg.Relay.Addr)
		return srv.Run(cmd.Context(), cfg.Relay.Addr)
	},
}

func init() {
	watchCmd.Flags().StringVar(&relayURL, "relay", "", "relay WebSocket URL, e.g. ws://localhost:8080/ws")
}
