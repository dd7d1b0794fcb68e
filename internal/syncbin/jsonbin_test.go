package syncbin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBin imitates the subset of the JSONBin v3 API the client uses.
type fakeBin struct {
	mu        sync.Mutex
	rec       Record
	puts      int
	failPuts  bool
	wantKey   string
	lastPutCT string
}

func (f *fakeBin) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/b/bin123", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Access-Key") != f.wantKey {
			http.Error(w, `{"message":"Invalid key"}`, http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPut {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.puts++
		f.lastPutCT = r.Header.Get("Content-Type")
		if f.failPuts {
			http.Error(w, `{"message":"quota"}`, http.StatusForbidden)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.rec))
		_, _ = w.Write([]byte(`{"record":{},"metadata":{}}`))
	})
	mux.HandleFunc("/b/bin123/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Access-Key") != f.wantKey {
			http.Error(w, `{"message":"Invalid key"}`, http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"record":   f.rec,
			"metadata": map[string]any{"id": "bin123"},
		})
	})
	return mux
}

func newTestClient(t *testing.T, bin *fakeBin) *JSONBinClient {
	t.Helper()
	server := httptest.NewServer(bin.handler(t))
	t.Cleanup(server.Close)

	client, err := NewJSONBinClient(JSONBinConfig{
		BinID:     "bin123",
		AccessKey: bin.wantKey,
		BaseURL:   server.URL + "/b/",
	}, discardLogger())
	require.NoError(t, err)
	client.now = func() time.Time { return time.Date(2024, 12, 9, 21, 30, 0, 0, time.Local) }
	return client
}

func TestJSONBinRequiresCredentials(t *testing.T) {
	_, err := NewJSONBinClient(JSONBinConfig{BinID: "x"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewJSONBinClient(JSONBinConfig{AccessKey: "x"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestJSONBinPublishThenFetchOnce(t *testing.T) {
	ctx := context.Background()
	bin := &fakeBin{wantKey: "$2a$10$key"}
	client := newTestClient(t, bin)

	require.NoError(t, client.Publish(ctx, "哈哈哈哈"))
	assert.Equal(t, "application/json", bin.lastPutCT)
	assert.Equal(t, Record{Text: "哈哈哈哈", Timestamp: "2024-12-09T21:30:00.000000", Read: false}, bin.rec)

	latest, err := client.FetchLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, Latest{HasNew: true, Text: "哈哈哈哈"}, latest)
	assert.True(t, bin.rec.Read)

	latest, err = client.FetchLatest(ctx)
	require.NoError(t, err)
	assert.False(t, latest.HasNew)
	assert.Empty(t, latest.Text)
}

func TestJSONBinPeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	bin := &fakeBin{wantKey: "k"}
	client := newTestClient(t, bin)
	require.NoError(t, client.Publish(ctx, "再见"))

	rec, err := client.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "再见", rec.Text)
	assert.False(t, rec.Read)

	latest, err := client.FetchLatest(ctx)
	require.NoError(t, err)
	assert.True(t, latest.HasNew)
}

func TestJSONBinFetchReportsWhenMarkReadFails(t *testing.T) {
	ctx := context.Background()
	bin := &fakeBin{wantKey: "k", rec: Record{Text: "未读", Read: false}, failPuts: true}
	client := newTestClient(t, bin)

	latest, err := client.FetchLatest(ctx)

	require.NoError(t, err)
	assert.Equal(t, Latest{HasNew: true, Text: "未读"}, latest)
	assert.Equal(t, 1, bin.puts)
}

func TestJSONBinPublishError(t *testing.T) {
	bin := &fakeBin{wantKey: "k", failPuts: true}
	client := newTestClient(t, bin)

	err := client.Publish(context.Background(), "x")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "write", statusErr.Op)
	assert.Contains(t, statusErr.Body, "quota")
}

func TestJSONBinWrongKey(t *testing.T) {
	bin := &fakeBin{wantKey: "right"}
	server := httptest.NewServer(bin.handler(t))
	defer server.Close()
	client, err := NewJSONBinClient(JSONBinConfig{BinID: "bin123", AccessKey: "wrong", BaseURL: server.URL + "/b"}, discardLogger())
	require.NoError(t, err)

	_, err = client.FetchLatest(context.Background())

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "read", statusErr.Op)
}
