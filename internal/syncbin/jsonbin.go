package syncbin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the JSONBin v3 bins endpoint.
const DefaultBaseURL = "https://api.jsonbin.io/v3/b"

// ErrNotConfigured is returned by NewJSONBinClient without credentials.
var ErrNotConfigured = errors.New("jsonbin bin id and access key are required")

// StatusError reports a non-success response from the bin service.
type StatusError struct {
	Op     string
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jsonbin %s: %s - %s", e.Op, e.Status, e.Body)
}

// JSONBinClient stores the record in a JSONBin bin.
type JSONBinClient struct {
	binURL     string
	accessKey  string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// JSONBinConfig configures a JSONBinClient.
type JSONBinConfig struct {
	BinID     string
	AccessKey string
	BaseURL   string
	Timeout   time.Duration
}

// NewJSONBinClient creates a client for one bin.
func NewJSONBinClient(cfg JSONBinConfig, logger *slog.Logger) (*JSONBinClient, error) {
	if cfg.BinID == "" || cfg.AccessKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &JSONBinClient{
		binURL:     base + "/" + cfg.BinID,
		accessKey:  cfg.AccessKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "syncbin")),
		now:        time.Now,
	}, nil
}

// Publish overwrites the bin with an unread record holding text.
func (c *JSONBinClient) Publish(ctx context.Context, text string) error {
	return c.put(ctx, NewRecord(text, c.now()))
}

// Peek returns the current record without changing it.
func (c *JSONBinClient) Peek(ctx context.Context) (Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.binURL+"/latest", nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Access-Key", c.accessKey)

	body, err := c.do(req, "read")
	if err != nil {
		return Record{}, err
	}

	var envelope struct {
		Record Record `json:"record"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal bin: %w", err)
	}
	return envelope.Record, nil
}

// FetchLatest reports an unread record once. A failure to mark it read is
// logged and the text is still returned.
func (c *JSONBinClient) FetchLatest(ctx context.Context) (Latest, error) {
	rec, err := c.Peek(ctx)
	if err != nil {
		return Latest{}, err
	}
	if rec.Read {
		return Latest{}, nil
	}

	rec.Read = true
	if err := c.put(ctx, rec); err != nil {
		c.logger.Warn("failed to mark record read", "error", err)
	}
	return Latest{HasNew: true, Text: rec.Text}, nil
}

func (c *JSONBinClient) put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.binURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Access-Key", c.accessKey)
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, "write")
	return err
}

func (c *JSONBinClient) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: op, Status: resp.Status, Body: string(body)}
	}
	return body, nil
}
