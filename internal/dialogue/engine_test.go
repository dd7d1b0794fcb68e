package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RoleChat/internal/backend"
	"RoleChat/internal/memory"
	"RoleChat/internal/persona"
	"RoleChat/internal/session"
	"RoleChat/internal/syncbin"
)

type scriptedCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []backend.Request
}

func (c *scriptedCompleter) Complete(ctx context.Context, req backend.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req.Messages = append([]session.Message(nil), req.Messages...)
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) == 0 {
		return "嗯", nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

func (c *scriptedCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type mapStore struct {
	mu      sync.Mutex
	records map[string]session.Record
	saves   int
	failErr error
}

func newMapStore() *mapStore {
	return &mapStore{records: map[string]session.Record{}}
}

func (s *mapStore) Load(ctx context.Context, key string) session.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return session.History{}
	}
	return rec.History.Clone()
}

func (s *mapStore) Save(ctx context.Context, key string, history session.History, personaPrompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failErr != nil {
		return s.failErr
	}
	s.records[key] = session.Record{PersonaPrompt: personaPrompt, History: history.Clone(), UpdatedAt: time.Now()}
	return nil
}

func (s *mapStore) Close() error { return nil }

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(ctx context.Context, text string) error {
	p.calls++
	return errors.New("bin unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() persona.Profile {
	return persona.NewRegistry("", discardLogger()).Profile("小丑")
}

func newEngine(t *testing.T, c backend.Completer, store memory.Store, pub syncbin.Publisher) *Engine {
	t.Helper()
	e, err := New(context.Background(), Options{
		Key:         "joker",
		Profile:     testProfile(),
		Completer:   c,
		Store:       store,
		Publisher:   pub,
		Model:       "glm-4-flash",
		Temperature: 0.5,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	return e
}

func TestRunTurnAppendsAndPersists(t *testing.T) {
	ctx := context.Background()
	c := &scriptedCompleter{replies: []string{"哈哈哈哈，为什么这么严肃？"}}
	store := newMapStore()
	e := newEngine(t, c, store, nil)

	res, err := e.RunTurn(ctx, "你好")
	require.NoError(t, err)

	assert.Equal(t, TurnResult{Reply: "哈哈哈哈，为什么这么严肃？"}, res)
	h := e.History()
	require.Len(t, h, 3)
	assert.Equal(t, session.RoleSystem, h[0].Role)
	assert.Equal(t, session.Message{Role: session.RoleUser, Content: "你好"}, h[1])
	assert.Equal(t, session.Message{Role: session.RoleAssistant, Content: "哈哈哈哈，为什么这么严肃？"}, h[2])
	assert.True(t, h.Valid())

	rec := store.records["joker"]
	assert.Equal(t, h, rec.History)
	assert.Equal(t, testProfile().SystemPrompt(), rec.PersonaPrompt)

	req := c.requests[0]
	assert.Equal(t, "glm-4-flash", req.Model)
	assert.InDelta(t, 0.5, req.Temperature, 1e-9)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, testProfile().SystemPrompt(), req.Messages[0].Content)
}

func TestUserExitPhraseSkipsCompletion(t *testing.T) {
	c := &scriptedCompleter{}
	store := newMapStore()
	e := newEngine(t, c, store, nil)

	res, err := e.RunTurn(context.Background(), " 再见 ")
	require.NoError(t, err)

	assert.True(t, res.Ended)
	assert.True(t, res.ExitedByUser)
	assert.Empty(t, res.Reply)
	assert.Zero(t, c.calls())
	assert.Len(t, e.History(), 1)
	assert.Zero(t, store.saves)
}

func TestSubstringOfExitPhraseIsNotExit(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"好的"}}
	e := newEngine(t, c, newMapStore(), nil)

	res, err := e.RunTurn(context.Background(), "我不想说再见")
	require.NoError(t, err)

	assert.False(t, res.Ended)
	assert.Equal(t, 1, c.calls())
}

func TestAssistantFarewellEndsSession(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"再见！"}}
	e := newEngine(t, c, newMapStore(), nil)

	res, err := e.RunTurn(context.Background(), "不想聊了")
	require.NoError(t, err)

	assert.True(t, res.Ended)
	assert.False(t, res.ExitedByUser)
	assert.Equal(t, "再见！", res.Reply)
	assert.Len(t, e.History(), 3)
}

func TestLongReplyContainingFarewellDoesNotEnd(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"再见是不可能的，我们还要继续玩"}}
	e := newEngine(t, c, newMapStore(), nil)

	res, err := e.RunTurn(context.Background(), "你好")
	require.NoError(t, err)

	assert.False(t, res.Ended)
}

func TestCompletionFailureKeepsUserMessage(t *testing.T) {
	boom := errors.New("503")
	c := &scriptedCompleter{err: boom}
	store := newMapStore()
	e := newEngine(t, c, store, nil)

	_, err := e.RunTurn(context.Background(), "你好")

	assert.ErrorIs(t, err, boom)
	h := e.History()
	require.Len(t, h, 2)
	assert.Equal(t, session.RoleUser, h[1].Role)
	assert.Zero(t, store.saves)
}

func TestStoreFailureDoesNotFailTurn(t *testing.T) {
	store := newMapStore()
	store.failErr = errors.New("disk full")
	e := newEngine(t, &scriptedCompleter{replies: []string{"呃……好"}}, store, nil)

	res, err := e.RunTurn(context.Background(), "你好")

	require.NoError(t, err)
	assert.Equal(t, "呃……好", res.Reply)
	assert.Len(t, e.History(), 3)
	assert.Equal(t, 1, store.saves)
}

func TestReplyIsPublished(t *testing.T) {
	ctx := context.Background()
	bin := syncbin.NewMemoryBin()
	e := newEngine(t, &scriptedCompleter{replies: []string{"哎呀"}}, newMapStore(), bin)

	_, err := e.RunTurn(ctx, "你好")
	require.NoError(t, err)

	latest, err := bin.FetchLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncbin.Latest{HasNew: true, Text: "哎呀"}, latest)
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	pub := &failingPublisher{}
	e := newEngine(t, &scriptedCompleter{}, newMapStore(), pub)

	_, err := e.RunTurn(context.Background(), "你好")

	require.NoError(t, err)
	assert.Equal(t, 1, pub.calls)
}

func TestHistoryRestoredAndNormalized(t *testing.T) {
	store := newMapStore()
	store.records["joker"] = session.Record{History: session.History{
		{Role: session.RoleSystem, Content: "旧的人设"},
		{Role: session.RoleUser, Content: "在吗"},
		{Role: session.RoleSystem, Content: "stray"},
		{Role: session.RoleAssistant, Content: "在"},
	}}
	c := &scriptedCompleter{}

	e := newEngine(t, c, store, nil)
	h := e.History()

	require.Len(t, h, 3)
	assert.True(t, h.Valid())
	assert.Equal(t, testProfile().SystemPrompt(), h[0].Content)

	_, err := e.RunTurn(context.Background(), "还记得我吗")
	require.NoError(t, err)
	msgs := c.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "在吗", msgs[1].Content)
	assert.Equal(t, "还记得我吗", msgs[3].Content)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	e := newEngine(t, &scriptedCompleter{}, store, nil)
	_, err := e.RunTurn(ctx, "你好")
	require.NoError(t, err)

	require.NoError(t, e.Reset(ctx))

	assert.Len(t, e.History(), 1)
	assert.Len(t, store.records["joker"].History, 1)
}

func TestSwitchRole(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	e := newEngine(t, &scriptedCompleter{}, store, nil)
	_, err := e.RunTurn(ctx, "你好")
	require.NoError(t, err)

	hostage := persona.NewRegistry("", discardLogger()).Profile("人质")
	require.NoError(t, e.SwitchRole(ctx, hostage, "hostage"))

	assert.Equal(t, "hostage", e.Key())
	assert.Equal(t, "人质", e.Profile().RoleName)
	h := e.History()
	require.Len(t, h, 1)
	assert.Equal(t, hostage.SystemPrompt(), h[0].Content)
	assert.Len(t, store.records["joker"].History, 3, "previous session saved before switching")
	_, written := store.records["hostage"]
	assert.False(t, written)

	assert.ErrorIs(t, e.SwitchRole(ctx, hostage, "../x"), memory.ErrInvalidKey)
}

func TestSwitchRoleResumesStoredHistory(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	reg := persona.NewRegistry("", discardLogger())
	yan := reg.Profile("衍")
	stored := session.New("旧的人设")
	for i := 0; i < 5; i++ {
		stored = append(stored,
			session.Message{Role: session.RoleUser, Content: "问"},
			session.Message{Role: session.RoleAssistant, Content: "答"})
	}
	store.records["yan"] = session.Record{History: stored}
	c := &scriptedCompleter{replies: []string{"嗯", "我记得"}}
	e := newEngine(t, c, store, nil)
	_, err := e.RunTurn(ctx, "你好")
	require.NoError(t, err)

	require.NoError(t, e.SwitchRole(ctx, yan, "yan"))

	h := e.History()
	require.Len(t, h, 11)
	assert.Equal(t, yan.SystemPrompt(), h[0].Content)

	_, err = e.RunTurn(ctx, "还记得吗")
	require.NoError(t, err)
	assert.Len(t, c.requests[1].Messages, 12)
	assert.Len(t, store.records["yan"].History, 13)
	assert.Len(t, store.records["joker"].History, 3)
}

func TestSampleWrittenMidSessionReachesNextTurn(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := persona.NewRegistry(dir, discardLogger())
	store := newMapStore()
	c := &scriptedCompleter{}
	e, err := New(ctx, Options{
		Key:       "joker",
		Profile:   reg.Profile("小丑"),
		Registry:  reg,
		Completer: c,
		Store:     store,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	_, err = e.RunTurn(ctx, "你好")
	require.NoError(t, err)
	assert.NotContains(t, c.requests[0].Messages[0].Content, "为什么这么严肃")

	sample := filepath.Join(dir, "joker_memory.json")
	require.NoError(t, os.WriteFile(sample, []byte(`{"content":"为什么这么严肃"}`), 0o600))

	_, err = e.RunTurn(ctx, "再讲一个")
	require.NoError(t, err)

	prompt := c.requests[1].Messages[0].Content
	assert.Contains(t, prompt, "为什么这么严肃")
	assert.Equal(t, reg.PersonaPrompt("小丑"), prompt)
	assert.Equal(t, prompt, e.History()[0].Content)
	assert.Equal(t, prompt, store.records["joker"].PersonaPrompt)
	assert.Contains(t, e.Profile().MemorySample, "为什么这么严肃")
}

func TestRequestTimeout(t *testing.T) {
	blocking := completerFunc(func(ctx context.Context, req backend.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e, err := New(context.Background(), Options{
		Key:            "joker",
		Profile:        testProfile(),
		Completer:      blocking,
		Store:          newMapStore(),
		RequestTimeout: 20 * time.Millisecond,
		Logger:         discardLogger(),
	})
	require.NoError(t, err)

	_, err = e.RunTurn(context.Background(), "你好")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	e := newEngine(t, &scriptedCompleter{}, newMapStore(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.RunTurn(context.Background(), "你好")
		}()
	}
	wg.Wait()

	h := e.History()
	require.Len(t, h, 17)
	for i := 1; i < len(h); i += 2 {
		assert.Equal(t, session.RoleUser, h[i].Role)
		assert.Equal(t, session.RoleAssistant, h[i+1].Role)
	}
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, Options{Key: "k", Store: newMapStore()})
	assert.Error(t, err)

	_, err = New(ctx, Options{Key: "k", Completer: &scriptedCompleter{}})
	assert.Error(t, err)

	_, err = New(ctx, Options{Key: "", Completer: &scriptedCompleter{}, Store: newMapStore()})
	assert.ErrorIs(t, err, memory.ErrInvalidKey)
}

type completerFunc func(ctx context.Context, req backend.Request) (string, error)

func (f completerFunc) Complete(ctx context.Context, req backend.Request) (string, error) {
	return f(ctx, req)
}
