package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"uiforge/internal/config"
	"uiforge/internal/models"
	"uiforge/internal/service/generator"
	"uiforge/internal/service/playground"
	"uiforge/internal/storage"
)

type generatorFunc func(ctx context.Context, prompt string, history []*models.Message) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string, history []*models.Message) (string, error) {
	return f(ctx, prompt, history)
}

func stubFactory(fn generatorFunc) generator.Factory {
	return func(provider, modelName, apiKey string) (generator.Generator, error) {
		return fn, nil
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// An in-memory sqlite database exists per connection.
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestPipeline seeds a user with one session and wires a manager around
// the stub generator.
func newTestPipeline(t *testing.T, fn generatorFunc, cfg Config) (*Manager, *playground.Service, int64, int64) {
	t.Helper()
	db := openTestDB(t)
	store, err := playground.NewService(db)
	if err != nil {
		t.Fatalf("new playground service: %v", err)
	}
	ctx := context.Background()
	user, err := store.RegisterUser(ctx, "tester", "secret")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	session, err := store.CreateSession(ctx, user.ID, "Test Session", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	m := NewManager(store, stubFactory(fn), nil, cfg)
	return m, store, user.ID, session.ID
}

func sendReq(userID, sessionID int64, content string) SendRequest {
	return SendRequest{
		Context:   context.Background(),
		UserID:    userID,
		SessionID: sessionID,
		Content:   content,
		Provider:  "openai",
		Model:     "gpt-test",
		APIKey:    "sk-test",
	}
}

func strPtr(s string) *string { return &s }

func TestSendMergesBothArtifacts(t *testing.T) {
	raw := "Here you go:\n```jsx\nconst Card = () => <div>card</div>;\n```\n```css\n.card { padding: 8px; }\n```"
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		return raw, nil
	})
	m, store, userID, sessionID := newTestPipeline(t, gen, Config{})

	result, err := m.Send(sendReq(userID, sessionID, "make a card"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Fallback {
		t.Fatalf("unexpected fallback")
	}
	if result.UserMessage.Content != "make a card" || result.UserMessage.Role != models.RoleUser {
		t.Fatalf("unexpected user message: %+v", result.UserMessage)
	}
	if result.AssistantMessage.Content != raw || result.AssistantMessage.Role != models.RoleAssistant {
		t.Fatalf("assistant message must hold the raw response: %+v", result.AssistantMessage)
	}
	if result.Session.GeneratedMarkup != "const Card = () => <div>card</div>;" {
		t.Fatalf("markup not merged: %q", result.Session.GeneratedMarkup)
	}
	if result.Session.GeneratedStyle != ".card { padding: 8px; }" {
		t.Fatalf("style not merged: %q", result.Session.GeneratedStyle)
	}

	messages, err := store.ListMessages(context.Background(), userID, sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(messages))
	}
}

func TestSendMarkupOnlyKeepsPriorStyle(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		return "```jsx\n<NewWidget />\n```", nil
	})
	m, store, userID, sessionID := newTestPipeline(t, gen, Config{})
	ctx := context.Background()

	if _, err := store.UpdateSession(ctx, userID, sessionID, models.SessionPatch{
		GeneratedMarkup: strPtr("<OldWidget />"),
		GeneratedStyle:  strPtr(".old { color: red; }"),
	}); err != nil {
		t.Fatalf("seed artifacts: %v", err)
	}

	result, err := m.Send(sendReq(userID, sessionID, "new widget please"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Session.GeneratedMarkup != "<NewWidget />" {
		t.Fatalf("markup not replaced: %q", result.Session.GeneratedMarkup)
	}
	if result.Session.GeneratedStyle != ".old { color: red; }" {
		t.Fatalf("style must survive a markup-only response: %q", result.Session.GeneratedStyle)
	}
}

func TestSendNoBlocksLeavesArtifactsUntouched(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		return "I can only answer in prose today.", nil
	})
	m, store, userID, sessionID := newTestPipeline(t, gen, Config{})
	ctx := context.Background()

	seeded, err := store.UpdateSession(ctx, userID, sessionID, models.SessionPatch{
		GeneratedMarkup: strPtr("<Kept />"),
		GeneratedStyle:  strPtr(".kept {}"),
	})
	if err != nil {
		t.Fatalf("seed artifacts: %v", err)
	}

	result, err := m.Send(sendReq(userID, sessionID, "hello"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Session.GeneratedMarkup != seeded.GeneratedMarkup || result.Session.GeneratedStyle != seeded.GeneratedStyle {
		t.Fatalf("artifacts changed without extraction: %+v", result.Session)
	}
}

func TestSendGenerationFailureAppendsFallback(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		return "", errors.New("upstream exploded")
	})
	m, store, userID, sessionID := newTestPipeline(t, gen, Config{})
	ctx := context.Background()

	seeded, err := store.UpdateSession(ctx, userID, sessionID, models.SessionPatch{
		GeneratedMarkup: strPtr("<Kept />"),
		GeneratedStyle:  strPtr(".kept {}"),
	})
	if err != nil {
		t.Fatalf("seed artifacts: %v", err)
	}

	result, err := m.Send(sendReq(userID, sessionID, "make something"))
	if err != nil {
		t.Fatalf("a generation failure must not surface as an error: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("expected fallback result")
	}
	if result.AssistantMessage.Content != FallbackAssistantContent {
		t.Fatalf("unexpected fallback content: %q", result.AssistantMessage.Content)
	}
	if result.Session.GeneratedMarkup != seeded.GeneratedMarkup || result.Session.GeneratedStyle != seeded.GeneratedStyle {
		t.Fatalf("artifacts must be untouched on failure: %+v", result.Session)
	}

	messages, err := store.ListMessages(ctx, userID, sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user turn plus exactly one fallback, got %d messages", len(messages))
	}
	if messages[1].Role != models.RoleAssistant || messages[1].Content != FallbackAssistantContent {
		t.Fatalf("fallback turn missing: %+v", messages[1])
	}
}

func TestSendValidation(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		t.Error("generator must not be called")
		return "", nil
	})
	m, store, userID, sessionID := newTestPipeline(t, gen, Config{})
	ctx := context.Background()

	if _, err := m.Send(sendReq(userID, 0, "hello")); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := m.Send(sendReq(userID, sessionID, "   ")); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := m.Send(sendReq(userID, 9999, "hello")); !errors.Is(err, playground.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	messages, err := store.ListMessages(ctx, userID, sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("rejected sends must not persist messages, got %d", len(messages))
	}
}

func TestSendHistoryWindow(t *testing.T) {
	var (
		mu      sync.Mutex
		gotHist []*models.Message
	)
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		mu.Lock()
		gotHist = history
		mu.Unlock()
		return "ok", nil
	})
	m, store, userID, sessionID := newTestPipeline(t, gen, Config{})
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		role := models.RoleUser
		if i%2 == 0 {
			role = models.RoleAssistant
		}
		if _, err := store.AppendMessage(ctx, userID, sessionID, role, fmt.Sprintf("m%02d", i), ""); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	if _, err := m.Send(sendReq(userID, sessionID, "the-prompt")); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotHist) != 10 {
		t.Fatalf("expected a 10 message window, got %d", len(gotHist))
	}
	if gotHist[0].Content != "m06" || gotHist[9].Content != "m15" {
		t.Fatalf("window not the trailing slice: first=%q last=%q", gotHist[0].Content, gotHist[9].Content)
	}
	for _, msg := range gotHist {
		if msg.Content == "the-prompt" {
			t.Fatalf("prompt must not ride along in the history window")
		}
	}
}

func TestSendSerializesPerSession(t *testing.T) {
	var inFlight, maxInFlight int32
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "```jsx\n<A />\n```", nil
	})
	m, store, userID, sessionID := newTestPipeline(t, gen, Config{QueueSize: 16})

	const sends = 5
	var wg sync.WaitGroup
	errs := make([]error, sends)
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Send(sendReq(userID, sessionID, fmt.Sprintf("prompt %d", i)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("sends overlapped: max in flight %d", got)
	}

	messages, err := store.ListMessages(context.Background(), userID, sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2*sends {
		t.Fatalf("expected %d turns, got %d", 2*sends, len(messages))
	}
	// Serial execution interleaves turns strictly user, assistant, user, ...
	for i, msg := range messages {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		if msg.Role != want {
			t.Fatalf("turn %d has role %s, want %s", i, msg.Role, want)
		}
	}
}

func TestSendQueueFull(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
		return "ok", nil
	})
	m, _, userID, sessionID := newTestPipeline(t, gen, Config{QueueSize: 1})

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, results[0] = m.Send(sendReq(userID, sessionID, "first"))
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, results[1] = m.Send(sendReq(userID, sessionID, "second"))
	}()
	// Give the second send time to occupy the single queue slot.
	time.Sleep(100 * time.Millisecond)

	if _, err := m.Send(sendReq(userID, sessionID, "third")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(gate)
	wg.Wait()
	for i, err := range results {
		if err != nil {
			t.Fatalf("queued send %d failed: %v", i, err)
		}
	}
}

func TestGeneratorReusedUntilConfigChanges(t *testing.T) {
	var builds int32
	factory := func(provider, modelName, apiKey string) (generator.Generator, error) {
		atomic.AddInt32(&builds, 1)
		return generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
			return "ok", nil
		}), nil
	}

	db := openTestDB(t)
	store, err := playground.NewService(db)
	if err != nil {
		t.Fatalf("new playground service: %v", err)
	}
	ctx := context.Background()
	user, err := store.RegisterUser(ctx, "tester", "secret")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	session, err := store.CreateSession(ctx, user.ID, "S", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	m := NewManager(store, factory, nil, Config{})

	req := sendReq(user.ID, session.ID, "one")
	if _, err := m.Send(req); err != nil {
		t.Fatalf("send: %v", err)
	}
	req.Content = "two"
	if _, err := m.Send(req); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("generator rebuilt needlessly: %d builds", got)
	}

	req.Content = "three"
	req.Model = "other-model"
	if _, err := m.Send(req); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := atomic.LoadInt32(&builds); got != 2 {
		t.Fatalf("expected rebuild on model change, got %d builds", got)
	}

	m.Purge(session.ID)
	req.Content = "four"
	if _, err := m.Send(req); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := atomic.LoadInt32(&builds); got != 3 {
		t.Fatalf("expected rebuild after purge, got %d builds", got)
	}
}

func TestRunnerRetiresWhenIdle(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, prompt string, history []*models.Message) (string, error) {
		return "ok", nil
	})
	m, _, userID, sessionID := newTestPipeline(t, gen, Config{IdleTimeout: 50 * time.Millisecond})

	if _, err := m.Send(sendReq(userID, sessionID, "hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		n := len(m.runners)
		m.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("runner still alive after idle timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A retired session accepts new sends on a fresh runner.
	if _, err := m.Send(sendReq(userID, sessionID, "again")); err != nil {
		t.Fatalf("send after retirement: %v", err)
	}
}

func TestStateStrings(t *testing.T) {
	states := map[State]string{
		StateIdle:               "idle",
		StateSubmitting:         "submitting",
		StateAwaitingGeneration: "awaiting_generation",
		StateMerging:            "merging",
		StateFailed:             "failed",
		State(99):               "unknown",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
