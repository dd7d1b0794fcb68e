// Package backend talks to chat-completion services.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"RoleChat/internal/session"
)

const (
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendMock      = "mock"
)

// DefaultEndpoint is an OpenAI-compatible chat completions endpoint.
const DefaultEndpoint = "https://open.bigmodel.cn/api/paas/v4/chat/completions"

// ErrEmptyResponse is returned when the service answered without any choice.
var ErrEmptyResponse = errors.New("empty response from completion service")

// Request is one chat completion call.
type Request struct {
	Model       string
	Temperature float64
	Messages    []session.Message
}

// Completer returns the first candidate's text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// APIError reports a non-success HTTP status together with the response body.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Status, e.Body)
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	APIKey      string
	Model       string
	EndpointURL string
	Timeout     time.Duration
}

// Telemetry carries the instruments shared by all backends. Nil fields fall back to no-ops.
type Telemetry struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

func (t Telemetry) withDefaults() Telemetry {
	if t.Logger == nil {
		t.Logger = slog.Default()
	}
	if t.Tracer == nil {
		t.Tracer = tracenoop.NewTracerProvider().Tracer("rolechat")
	}
	if t.Meter == nil {
		t.Meter = metricnoop.NewMeterProvider().Meter("rolechat")
	}
	return t
}

// New builds the completer named by cfg.Backend.
func New(cfg Config, tel Telemetry) (Completer, error) {
	tel = tel.withDefaults()
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("api key required for the openai backend")
		}
		return NewOpenAIClient(cfg, tel), nil
	case BackendOllama:
		return NewOllamaClient(cfg, tel)
	case BackendAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("api key required for the anthropic backend")
		}
		return NewAnthropicClient(cfg, tel)
	case BackendMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}
