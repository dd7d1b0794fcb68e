package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"RoleChat/internal/backend"
	"RoleChat/internal/chatbot"
	"RoleChat/internal/dialogue"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation (default)",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	completer, err := backend.New(cfg.BackendOptions(), backend.Telemetry{
		Logger: logger,
		Tracer: tracer,
		Meter:  meter,
	})
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	adapter, err := openSync()
	if err != nil {
		return fmt.Errorf("create sync adapter: %w", err)
	}

	reg := registry()
	profile := reg.Profile(cfg.Role)
	opts := dialogue.Options{
		Key:            sessionKey(profile),
		Profile:        profile,
		Registry:       reg,
		Completer:      completer,
		Store:          store,
		Model:          cfg.Model,
		Temperature:    cfg.Temperature,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
		Tracer:         tracer,
		Meter:          meter,
	}
	if adapter != nil {
		opts.Publisher = adapter
	}
	engine, err := dialogue.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("start dialogue: %w", err)
	}

	bot := chatbot.New(chatbot.Options{
		Engine:      engine,
		Registry:    reg,
		Sync:        adapter,
		In:          cmd.InOrStdin(),
		Out:         cmd.OutOrStdout(),
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
		BackendName: cfg.Backend,
		Logger:      logger,
	})
	return bot.Run(ctx)
}
