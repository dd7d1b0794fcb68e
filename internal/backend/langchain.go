package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RoleChat/internal/session"
)

// LangChainClient adapts a langchaingo model to Completer.
type LangChainClient struct {
	provider string
	llm      llms.Model
	logger   *slog.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// NewLangChainClient wraps llm. provider is only used for telemetry.
func NewLangChainClient(provider string, llm llms.Model, tel Telemetry) *LangChainClient {
	tel = tel.withDefaults()
	c := &LangChainClient{
		provider: provider,
		llm:      llm,
		logger:   tel.Logger.With(slog.String("component", "backend."+provider)),
		tracer:   tel.Tracer,
	}
	histogram, err := tel.Meter.Float64Histogram(
		"rolechat.completion.duration",
		metric.WithDescription("Completion duration in milliseconds"),
	)
	if err != nil {
		c.logger.Warn("failed to create duration histogram", "error", err)
	}
	c.duration = histogram
	return c
}

// NewOllamaClient talks to a local Ollama server. EndpointURL overrides the server URL.
func NewOllamaClient(cfg Config, tel Telemetry) (*LangChainClient, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.EndpointURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.EndpointURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewLangChainClient(BackendOllama, llm, tel), nil
}

// NewAnthropicClient talks to the Anthropic messages API.
func NewAnthropicClient(cfg Config, tel Telemetry) (*LangChainClient, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	}
	if cfg.EndpointURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.EndpointURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic client: %w", err)
	}
	return NewLangChainClient(BackendAnthropic, llm, tel), nil
}

// Complete converts the history to langchaingo messages and returns the first choice.
func (c *LangChainClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := c.tracer.Start(ctx, "completion.langchain",
		trace.WithAttributes(
			attribute.String("llm.provider", c.provider),
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()

	start := time.Now()
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	resp, err := c.llm.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%s completion failed: %w", c.provider, err)
	}

	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("llm.provider", c.provider)))
	}

	if resp == nil || len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func toMessageContent(messages []session.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		var role schema.ChatMessageType
		switch msg.Role {
		case session.RoleSystem:
			role = schema.ChatMessageTypeSystem
		case session.RoleAssistant:
			role = schema.ChatMessageTypeAI
		default:
			role = schema.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out
}
