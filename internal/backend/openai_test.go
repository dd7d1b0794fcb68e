package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RoleChat/internal/session"
)

func testRequest() Request {
	return Request{
		Model:       "glm-4-flash",
		Temperature: 0.5,
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: "【角色设定】"},
			{Role: session.RoleUser, Content: "你好"},
		},
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	var got OpenAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "1",
			"choices": [
				{"index": 0, "message": {"role": "assistant", "content": "哈哈哈哈"}},
				{"index": 1, "message": {"role": "assistant", "content": "ignored"}}
			],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "secret", EndpointURL: server.URL}, Telemetry{})

	text, err := client.Complete(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "哈哈哈哈", text)
	assert.Equal(t, "glm-4-flash", got.Model)
	assert.InDelta(t, 0.5, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, OpenAIMessage{Role: "system", Content: "【角色设定】"}, got.Messages[0])
	assert.Equal(t, OpenAIMessage{Role: "user", Content: "你好"}, got.Messages[1])
}

func TestOpenAIClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "k", EndpointURL: server.URL}, Telemetry{})

	_, err := client.Complete(context.Background(), testRequest())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate limited")
	assert.Contains(t, err.Error(), "API error: 429")
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "k", EndpointURL: server.URL}, Telemetry{})

	_, err := client.Complete(context.Background(), testRequest())

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClientMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "k", EndpointURL: server.URL}, Telemetry{})

	_, err := client.Complete(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal response")
}

func TestOpenAIClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewOpenAIClient(Config{APIKey: "k", EndpointURL: server.URL, Timeout: 50 * time.Millisecond}, Telemetry{})

	_, err := client.Complete(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send request")
}

func TestOpenAIClientHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "k", EndpointURL: server.URL}, Telemetry{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, testRequest())

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
