package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"uiforge/internal/models"
	"uiforge/internal/redis"
	"uiforge/internal/service/generator"
)

// ErrQueueFull is returned when a session already has the maximum number of
// sends waiting. Handlers map it to 429.
var ErrQueueFull = errors.New("send queue full")

const (
	defaultQueueSize   = 8
	defaultIdleTimeout = 5 * time.Minute
)

// Store is the persistence surface the pipeline needs. *playground.Service
// satisfies it; tests substitute fakes.
type Store interface {
	AppendMessage(ctx context.Context, userID, sessionID int64, role models.Role, content, imageURL string) (*models.Message, error)
	GetSession(ctx context.Context, userID, sessionID int64) (*models.Session, error)
	UpdateSession(ctx context.Context, userID, sessionID int64, patch models.SessionPatch) (*models.Session, error)
	RecentMessages(ctx context.Context, userID, sessionID int64, limit int) ([]*models.Message, error)
}

// Config sizes the per-session send queues.
type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
}

type sendTask struct {
	req      SendRequest
	resultCh chan sendReturn
}

type sendReturn struct {
	result *SendResult
	err    error
}

type sessionRunner struct {
	tasks  chan sendTask
	closed bool
}

type sessionResources struct {
	gen      generator.Generator
	provider string
	model    string
	apiKey   string
}

// Manager serializes sends per session. Overlapping sends to one session
// queue behind each other and run strictly in arrival order; a full queue is
// rejected with ErrQueueFull rather than dropped. Idle session runners shut
// down after the configured timeout.
type Manager struct {
	store   Store
	factory generator.Factory
	cache   *artifactCache

	queueSize   int
	idleTimeout time.Duration

	mu        sync.Mutex
	runners   map[int64]*sessionRunner
	resources map[int64]*sessionResources
}

// NewManager wires the pipeline against its store, generator factory, and
// optional redis cache (nil disables caching).
func NewManager(store Store, factory generator.Factory, cacheClient *redis.Client, cfg Config) *Manager {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Manager{
		store:       store,
		factory:     factory,
		cache:       newArtifactCache(cacheClient),
		queueSize:   queueSize,
		idleTimeout: idle,
		runners:     make(map[int64]*sessionRunner),
		resources:   make(map[int64]*sessionResources),
	}
}

// Send runs one send action to completion and returns both persisted turns
// plus the post-merge session. Invalid input is rejected before anything is
// queued, so no message and no session mutation occurs.
func (m *Manager) Send(req SendRequest) (*SendResult, error) {
	if req.SessionID <= 0 {
		return nil, ErrNoSession
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyPrompt
	}

	resultCh := make(chan sendReturn, 1)

	m.mu.Lock()
	runner := m.runners[req.SessionID]
	if runner == nil || runner.closed {
		runner = &sessionRunner{tasks: make(chan sendTask, m.queueSize)}
		m.runners[req.SessionID] = runner
		go m.runLoop(req.SessionID, runner)
	}
	select {
	case runner.tasks <- sendTask{req: req, resultCh: resultCh}:
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		return nil, ErrQueueFull
	}

	ret := <-resultCh
	return ret.result, ret.err
}

// Purge drops any cached state for a session. Pending sends still in the
// queue run to completion against the store.
func (m *Manager) Purge(sessionID int64) {
	m.mu.Lock()
	delete(m.resources, sessionID)
	m.mu.Unlock()
	m.cache.invalidateSession(sessionID)
}

func (m *Manager) runLoop(sessionID int64, runner *sessionRunner) {
	idle := time.NewTimer(m.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case task := <-runner.tasks:
			result, err := m.runSend(task.req)
			task.resultCh <- sendReturn{result: result, err: err}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(m.idleTimeout)
		case <-idle.C:
			m.mu.Lock()
			if len(runner.tasks) > 0 {
				// A send slipped in while the timer fired; keep running.
				m.mu.Unlock()
				idle.Reset(m.idleTimeout)
				continue
			}
			runner.closed = true
			if m.runners[sessionID] == runner {
				delete(m.runners, sessionID)
			}
			delete(m.resources, sessionID)
			m.mu.Unlock()
			debugLog("[pipeline] session %d runner idle, stopped", sessionID)
			return
		}
	}
}

// ensureGenerator reuses the session's generator while the provider, model,
// and key stay the same, rebuilding it when any of them change.
func (m *Manager) ensureGenerator(req SendRequest) (generator.Generator, error) {
	m.mu.Lock()
	res := m.resources[req.SessionID]
	m.mu.Unlock()
	if res != nil && res.provider == req.Provider && res.model == req.Model && res.apiKey == req.APIKey {
		return res.gen, nil
	}
	if m.factory == nil {
		return nil, errors.New("generation service unavailable")
	}
	gen, err := m.factory(req.Provider, req.Model, req.APIKey)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.resources[req.SessionID] = &sessionResources{
		gen:      gen,
		provider: req.Provider,
		model:    req.Model,
		apiKey:   req.APIKey,
	}
	m.mu.Unlock()
	return gen, nil
}
