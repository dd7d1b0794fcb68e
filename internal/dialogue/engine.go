// Package dialogue runs conversation turns for one session.
//
// An Engine owns the in-memory history of its session. Each turn appends the
// user message, asks the completer for a reply with the current system prompt
// in front of the history, appends the reply and writes the whole history back
// to the store. Storage and sync failures are logged and counted; only a
// failed completion fails the turn.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"RoleChat/internal/backend"
	"RoleChat/internal/memory"
	"RoleChat/internal/persona"
	"RoleChat/internal/session"
	"RoleChat/internal/syncbin"
	"RoleChat/internal/termination"
)

// DefaultRequestTimeout bounds one completion call.
const DefaultRequestTimeout = 60 * time.Second

// TurnResult is the outcome of RunTurn.
type TurnResult struct {
	Reply        string
	Ended        bool
	ExitedByUser bool
}

// Options configures an Engine. Completer and Store are required. With a
// Registry the profile is rebuilt from Profile.RoleName before every turn.
type Options struct {
	Key            string
	Profile        persona.Profile
	Registry       *persona.Registry
	Completer      backend.Completer
	Store          memory.Store
	Publisher      syncbin.Publisher
	Detector       *termination.Detector
	Model          string
	Temperature    float64
	RequestTimeout time.Duration

	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Engine drives one session. Its methods are safe for concurrent use; turns
// are applied one at a time in call order.
type Engine struct {
	mu       sync.Mutex
	key      string
	profile  persona.Profile
	registry *persona.Registry
	prompt   string
	history  session.History

	completer   backend.Completer
	store       memory.Store
	publisher   syncbin.Publisher
	detector    termination.Detector
	model       string
	temperature float64
	timeout     time.Duration

	logger        *slog.Logger
	tracer        trace.Tracer
	turns         metric.Int64Counter
	storeFailures metric.Int64Counter
	syncFailures  metric.Int64Counter
}

// New creates an engine and loads the stored history for opts.Key. A loaded
// history is rebuilt around the current system prompt.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Completer == nil {
		return nil, errors.New("dialogue: completer is required")
	}
	if opts.Store == nil {
		return nil, errors.New("dialogue: store is required")
	}
	if err := memory.ValidateKey(opts.Key); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("rolechat")
	}
	if opts.Meter == nil {
		opts.Meter = metricnoop.NewMeterProvider().Meter("rolechat")
	}
	detector := termination.Default()
	if opts.Detector != nil {
		detector = *opts.Detector
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	e := &Engine{
		key:         opts.Key,
		profile:     opts.Profile,
		registry:    opts.Registry,
		prompt:      opts.Profile.SystemPrompt(),
		completer:   opts.Completer,
		store:       opts.Store,
		publisher:   opts.Publisher,
		detector:    detector,
		model:       opts.Model,
		temperature: opts.Temperature,
		timeout:     timeout,
		logger:      opts.Logger.With(slog.String("component", "dialogue")),
		tracer:      opts.Tracer,
	}

	var err error
	if e.turns, err = opts.Meter.Int64Counter("rolechat.turns",
		metric.WithDescription("Dialogue turns by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}
	if e.storeFailures, err = opts.Meter.Int64Counter("rolechat.store.failures",
		metric.WithDescription("Failed history saves")); err != nil {
		return nil, fmt.Errorf("failed to create store failure counter: %w", err)
	}
	if e.syncFailures, err = opts.Meter.Int64Counter("rolechat.sync.failures",
		metric.WithDescription("Failed reply publications")); err != nil {
		return nil, fmt.Errorf("failed to create sync failure counter: %w", err)
	}

	e.history = e.load(ctx)
	return e, nil
}

func (e *Engine) load(ctx context.Context) session.History {
	stored := e.store.Load(ctx, e.key)
	if len(stored) == 0 {
		return session.New(e.prompt)
	}
	h := stored.Normalize(e.prompt)
	e.logger.Info("session restored", "key", e.key, "messages", len(h)-1)
	return h
}

// RunTurn processes one user input.
func (e *Engine) RunTurn(ctx context.Context, input string) (TurnResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	turnID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "dialogue.turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("session.key", e.key),
			attribute.String("persona.role", e.profile.RoleName),
		),
	)
	defer span.End()
	logger := e.logger.With("turn_id", turnID, "key", e.key)
	e.refreshProfile()

	if e.detector.UserRequestsExit(input) {
		logger.Info("user ended session")
		e.countTurn(ctx, "user_exit")
		return TurnResult{Ended: true, ExitedByUser: true}, nil
	}

	e.history = append(e.history, session.Message{Role: session.RoleUser, Content: input})

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	reply, err := e.completer.Complete(reqCtx, backend.Request{
		Model:       e.model,
		Temperature: e.temperature,
		Messages:    e.history.Outbound(e.prompt),
	})
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("completion failed", "error", err)
		e.countTurn(ctx, "error")
		return TurnResult{}, fmt.Errorf("completion failed: %w", err)
	}

	e.history = append(e.history, session.Message{Role: session.RoleAssistant, Content: reply})

	if err := e.save(ctx); err != nil {
		logger.Warn("failed to save history", "error", err)
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, reply); err != nil {
			e.syncFailures.Add(ctx, 1)
			logger.Warn("failed to publish reply", "error", err)
		}
	}

	ended := e.detector.AssistantSignalsExit(reply)
	outcome := "ok"
	if ended {
		outcome = "assistant_exit"
	}
	e.countTurn(ctx, outcome)
	span.SetAttributes(attribute.Bool("turn.ended", ended))
	logger.Info("turn completed", "messages", len(e.history)-1, "ended", ended)

	return TurnResult{Reply: reply, Ended: ended}, nil
}

// refreshProfile re-reads the persona so sample edits reach the next request.
// Caller holds e.mu.
func (e *Engine) refreshProfile() {
	if e.registry == nil {
		return
	}
	e.profile = e.registry.Profile(e.profile.RoleName)
	e.prompt = e.profile.SystemPrompt()
	e.history[0] = session.Message{Role: session.RoleSystem, Content: e.prompt}
}

func (e *Engine) countTurn(ctx context.Context, outcome string) {
	e.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// save writes the current history. Caller holds e.mu.
func (e *Engine) save(ctx context.Context) error {
	e.history[0] = session.Message{Role: session.RoleSystem, Content: e.prompt}
	if err := e.store.Save(ctx, e.key, e.history, e.prompt); err != nil {
		e.storeFailures.Add(ctx, 1)
		return err
	}
	return nil
}

// Persist saves the current history.
func (e *Engine) Persist(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save(ctx)
}

// Reset discards all turns and saves the empty session.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = session.New(e.prompt)
	e.logger.Info("session reset", "key", e.key)
	return e.save(ctx)
}

// SwitchRole saves the current session, then loads the stored history for key
// under profile. A key with no stored history starts empty and is not written
// until its first turn.
func (e *Engine) SwitchRole(ctx context.Context, profile persona.Profile, key string) error {
	if err := memory.ValidateKey(key); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.save(ctx); err != nil {
		e.logger.Warn("failed to save history before role switch", "key", e.key, "error", err)
	}
	e.key = key
	e.profile = profile
	e.prompt = profile.SystemPrompt()
	e.history = e.load(ctx)
	e.logger.Info("role switched", "key", key, "role", profile.RoleName, "messages", len(e.history)-1)
	return nil
}

// History returns a copy of the current history, system message included.
func (e *Engine) History() session.History {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Clone()
}

// Key returns the current session key.
func (e *Engine) Key() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key
}

// Profile returns the active persona.
func (e *Engine) Profile() persona.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}
