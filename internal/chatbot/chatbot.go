package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"RoleChat/internal/dialogue"
	"RoleChat/internal/persona"
	"RoleChat/internal/session"
	"RoleChat/internal/syncbin"
)

// Options configures a ChatBot. Engine and Registry are required.
type Options struct {
	Engine      *dialogue.Engine
	Registry    *persona.Registry
	Sync        syncbin.Adapter
	In          io.Reader
	Out         io.Writer
	Interactive bool
	BackendName string
	Logger      *slog.Logger
}

// ChatBot represents the main application
type ChatBot struct {
	engine      *dialogue.Engine
	registry    *persona.Registry
	sync        syncbin.Adapter
	in          io.Reader
	out         io.Writer
	interactive bool
	backendName string
	logger      *slog.Logger

	userLabel   lipgloss.Style
	botLabel    lipgloss.Style
	noticeStyle lipgloss.Style
	errorStyle  lipgloss.Style
}

// New creates a ChatBot.
func New(opts Options) *ChatBot {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := lipgloss.NewRenderer(opts.Out)
	return &ChatBot{
		engine:      opts.Engine,
		registry:    opts.Registry,
		sync:        opts.Sync,
		in:          opts.In,
		out:         opts.Out,
		interactive: opts.Interactive,
		backendName: opts.BackendName,
		logger:      logger.With(slog.String("component", "chatbot")),
		userLabel:   r.NewStyle().Foreground(lipgloss.Color("#5FAFD7")).Bold(true),
		botLabel:    r.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true),
		noticeStyle: r.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true),
		errorStyle:  r.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true),
	}
}

func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.out, format, args...)
}

func (cb *ChatBot) notice(format string, args ...any) {
	fmt.Fprintln(cb.out, cb.noticeStyle.Render(fmt.Sprintf(format, args...)))
}

func (cb *ChatBot) printError(err error) {
	fmt.Fprintln(cb.out, cb.errorStyle.Render("Error: ")+err.Error())
}

func (cb *ChatBot) botName() string {
	name := cb.engine.Profile().RoleName
	if name == "" {
		return "Bot"
	}
	return name
}

// handleCommand runs a slash command and reports whether the loop should quit.
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/reset":
		if err := cb.engine.Reset(ctx); err != nil {
			cb.logger.Warn("failed to save reset session", "error", err)
		}
		cb.notice("对话已清空")
		return false, nil

	case "/role":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /role <name>")
		}
		profile := cb.registry.Profile(strings.Join(parts[1:], " "))
		if err := cb.engine.SwitchRole(ctx, profile, profile.Role.Slug()); err != nil {
			return false, fmt.Errorf("failed to switch role: %w", err)
		}
		cb.notice("已切换角色: %s (session %s)", profile.RoleName, cb.engine.Key())
		return false, nil

	case "/roles":
		current := cb.engine.Profile().Role
		cb.printf("\nAvailable roles:\n")
		for i, r := range persona.Roles() {
			marker := ""
			if r == current {
				marker = " (current)"
			}
			cb.printf("%d. %s [%s]%s\n", i+1, r.Name(), r.Slug(), marker)
		}
		cb.printf("\n")
		return false, nil

	case "/history":
		turns := cb.engine.History().Turns()
		if len(turns) == 0 {
			cb.notice("暂无对话记录")
			return false, nil
		}
		for _, msg := range turns {
			cb.printMessage(msg)
		}
		cb.printf("\n")
		return false, nil

	case "/sync":
		if cb.sync == nil {
			cb.notice("sync is not configured")
			return false, nil
		}
		latest, err := cb.sync.FetchLatest(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to fetch synced reply: %w", err)
		}
		if !latest.HasNew {
			cb.notice("no unread reply")
			return false, nil
		}
		cb.printf("%s %s\n", cb.noticeStyle.Render("[sync]"), latest.Text)
		return false, nil

	case "/help":
		cb.printf("Available commands:\n")
		cb.printf("  /quit, /exit   - Save and exit\n")
		cb.printf("  /reset         - Clear the conversation\n")
		cb.printf("  /role <name>   - Switch role (starts a new conversation)\n")
		cb.printf("  /roles         - List available roles\n")
		cb.printf("  /history       - Show the conversation so far\n")
		cb.printf("  /sync          - Fetch the latest synced reply\n")
		cb.printf("  /help          - Show this help message\n")
		cb.printf("Say 再见, 退出 or 结束 to end the conversation.\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

func (cb *ChatBot) printMessage(msg session.Message) {
	switch msg.Role {
	case session.RoleUser:
		cb.printf("%s %s\n", cb.userLabel.Render("You:"), msg.Content)
	case session.RoleAssistant:
		cb.printf("%s %s\n", cb.botLabel.Render(cb.botName()+":"), msg.Content)
	}
}

// readLines feeds lines from r into a channel until EOF or done is closed.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// Run reads input until the conversation ends, the input is exhausted or ctx
// is cancelled. The session is saved on every exit path, including a panic.
func (cb *ChatBot) Run(ctx context.Context) (err error) {
	saved := false
	persist := func() {
		if saved {
			return
		}
		saved = true
		saveCtx := context.WithoutCancel(ctx)
		if perr := cb.engine.Persist(saveCtx); perr != nil {
			cb.logger.Error("failed to save session on exit", "error", perr)
			if err == nil {
				err = perr
			}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			cb.logger.Error("chat loop panicked", "panic", r)
			persist()
			panic(r)
		}
	}()
	defer persist()

	profile := cb.engine.Profile()
	cb.printf("=== RoleChat ===\n")
	cb.printf("Role: %s\n", profile.RoleName)
	cb.printf("Session: %s\n", cb.engine.Key())
	cb.printf("Backend: %s\n", cb.backendName)
	cb.printf("Type /help for commands, /quit to exit\n\n")
	cb.logger.Info("chat started", "role", profile.RoleName, "key", cb.engine.Key(), "backend", cb.backendName)

	done := make(chan struct{})
	defer close(done)
	lines := readLines(cb.in, done)

	for {
		if cb.interactive {
			cb.printf("%s ", cb.userLabel.Render("You:"))
		}

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			cb.printf("\n")
			cb.notice("interrupted, saving session")
			cb.logger.Info("chat interrupted")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, cmdErr := cb.handleCommand(ctx, input)
			if cmdErr != nil {
				cb.printError(cmdErr)
				cb.logger.Error("command error", "error", cmdErr)
			}
			if shouldQuit {
				break
			}
			continue
		}

		result, turnErr := cb.engine.RunTurn(ctx, input)
		if turnErr != nil {
			cb.printError(turnErr)
			continue
		}
		if result.ExitedByUser {
			cb.printf("%s %s\n", cb.botLabel.Render(cb.botName()+":"), "再见！")
			break
		}

		cb.printf("%s %s\n\n", cb.botLabel.Render(cb.botName()+":"), result.Reply)
		if result.Ended {
			cb.notice("对话结束")
			break
		}
	}

	persist()
	if err == nil {
		cb.printf("Goodbye!\n")
	}
	return err
}
