// Package cli provides the command-line interface for rolechat.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RoleChat/internal/config"
	"RoleChat/internal/memory"
	"RoleChat/internal/persona"
	"RoleChat/internal/syncbin"
	"RoleChat/internal/telemetry"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	// Global flags
	configPath  string
	roleFlag    string
	sessionFlag string
	backendFlag string
	verbose     bool

	cfg      *config.Config
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	cleanups []func()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rolechat",
	Short: "Role-playing chat with persistent memory",
	Long: `rolechat talks to a chat-completion service as one of a fixed set of
personas. The conversation is saved after every turn and restored on the next
run. Saying 再见 (or 退出, 结束, bye, exit) ends the conversation.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		return setup(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
	RunE: runChat,
}

func setup(ctx context.Context) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if roleFlag != "" {
		cfg.Role = roleFlag
	}
	if sessionFlag != "" {
		cfg.SessionID = sessionFlag
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Stderr = true
	}

	var closeLog func()
	logger, closeLog, err = telemetry.InitLogger(telemetry.LogOptions{
		Dir:    cfg.Log.Dir,
		Level:  cfg.Log.Level,
		Stderr: cfg.Log.Stderr,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	cleanups = append(cleanups, closeLog)

	if cfg.Telemetry {
		var closeTelemetry func()
		tracer, meter, closeTelemetry, err = telemetry.InitTelemetry(ctx, cfg.Log.Dir, Version)
		if err != nil {
			return fmt.Errorf("initialize telemetry: %w", err)
		}
		cleanups = append(cleanups, closeTelemetry)
	} else {
		tracer, meter = telemetry.Noop()
	}
	return nil
}

func teardown() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
}

// openStore opens the configured memory store and registers its Close.
func openStore(ctx context.Context) (memory.Store, error) {
	store, err := memory.NewStore(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close memory store", "error", err)
		}
	})
	return store, nil
}

// openSync returns the configured sync adapter, or nil when sync is disabled.
func openSync() (syncbin.Adapter, error) {
	if !cfg.Sync.Enabled() {
		return nil, nil
	}
	client, err := syncbin.NewJSONBinClient(syncbin.JSONBinConfig{
		BinID:     cfg.Sync.BinID,
		AccessKey: cfg.Sync.AccessKey,
		BaseURL:   cfg.Sync.BaseURL,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func registry() *persona.Registry {
	return persona.NewRegistry(cfg.SampleDir, logger)
}

// sessionKey is the configured session id, or the role's slug.
func sessionKey(profile persona.Profile) string {
	if cfg.SessionID != "" {
		return cfg.SessionID
	}
	return profile.Role.Slug()
}

// Execute adds all child commands to the root command and runs it.
func Execute(ctx context.Context) error {
	defer teardown()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().StringVarP(&roleFlag, "role", "r", "", "role name or slug (小丑, 人质, 小丸子, 衍)")
	rootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "session key (defaults to the role's slug)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "completion backend (openai|ollama|anthropic|mock)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(versionCmd)
}
