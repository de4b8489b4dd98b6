// Package pipeline orchestrates one send action: persist the user turn, call
// the generation service, persist the assistant turn, extract fenced code,
// and merge the artifacts into the session record.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"uiforge/internal/extract"
	"uiforge/internal/models"
)

// State tracks where a send currently is. Every send starts and ends at
// StateIdle no matter which path it takes, so a caller's loading indicator
// can never stick.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateAwaitingGeneration
	StateMerging
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingGeneration:
		return "awaiting_generation"
	case StateMerging:
		return "merging"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FallbackAssistantContent is appended as the assistant turn whenever the
// generation service fails, so the user sees something instead of silence.
const FallbackAssistantContent = "Sorry, I couldn't generate a component for that request. Please try again."

// historyWindowSize bounds how many prior messages travel with the prompt.
const historyWindowSize = 10

var (
	ErrNoSession   = errors.New("no session selected")
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)

// SendRequest describes one user-initiated send.
type SendRequest struct {
	Context   context.Context
	UserID    int64
	SessionID int64
	Content   string
	ImageURL  string
	Provider  string
	Model     string
	APIKey    string
}

// SendResult reports both persisted turns and the post-merge session. When
// the generation service failed, Fallback is true and AssistantMessage holds
// the fixed fallback turn; the session artifacts are untouched in that case.
type SendResult struct {
	UserMessage      *models.Message
	AssistantMessage *models.Message
	Session          *models.Session
	Fallback         bool
}

// runSend walks the send state machine on the calling goroutine. The manager
// guarantees at most one runSend is in flight per session.
func (m *Manager) runSend(req SendRequest) (*SendResult, error) {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if req.SessionID <= 0 {
		return nil, ErrNoSession
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyPrompt
	}

	state := StateSubmitting
	debugLog("[pipeline] session %d: %s", req.SessionID, state)
	userMsg, err := m.store.AppendMessage(ctx, req.UserID, req.SessionID, models.RoleUser, content, req.ImageURL)
	if err != nil {
		state = StateFailed
		debugLog("[pipeline] session %d: %s (%v)", req.SessionID, state, err)
		m.cache.invalidateSession(req.SessionID)
		return nil, err
	}
	m.cache.appendHistory(req.SessionID, userMsg)

	state = StateAwaitingGeneration
	debugLog("[pipeline] session %d: %s", req.SessionID, state)
	history, err := m.historyWindow(ctx, req.UserID, req.SessionID, userMsg)
	if err != nil {
		// History is best effort context; a read failure degrades to a bare
		// prompt rather than aborting the send.
		history = nil
	}

	gen, err := m.ensureGenerator(req)
	if err != nil {
		return m.failSend(ctx, req, userMsg, err)
	}
	rawText, err := gen.Generate(ctx, content, history)
	if err != nil {
		return m.failSend(ctx, req, userMsg, err)
	}

	state = StateMerging
	debugLog("[pipeline] session %d: %s", req.SessionID, state)
	assistantMsg, err := m.store.AppendMessage(ctx, req.UserID, req.SessionID, models.RoleAssistant, rawText, "")
	if err != nil {
		m.cache.invalidateSession(req.SessionID)
		return nil, err
	}
	m.cache.appendHistory(req.SessionID, assistantMsg)

	session, err := m.mergeArtifacts(ctx, req.UserID, req.SessionID, rawText)
	if err != nil {
		return nil, err
	}
	m.cache.cacheSession(session)

	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Session:          session,
	}, nil
}

// failSend handles a generation-service failure: the fixed fallback turn is
// appended and the session record is left byte-identical to its pre-call
// state. The generation error itself is not returned to the caller.
func (m *Manager) failSend(ctx context.Context, req SendRequest, userMsg *models.Message, genErr error) (*SendResult, error) {
	debugLog("[pipeline] session %d: generation failed: %v", req.SessionID, genErr)
	fallbackMsg, err := m.store.AppendMessage(ctx, req.UserID, req.SessionID, models.RoleAssistant, FallbackAssistantContent, "")
	if err != nil {
		m.cache.invalidateSession(req.SessionID)
		return nil, err
	}
	m.cache.appendHistory(req.SessionID, fallbackMsg)
	session, err := m.store.GetSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: fallbackMsg,
		Session:          session,
		Fallback:         true,
	}, nil
}

// mergeArtifacts runs the extractor and writes back only the fields it
// produced. A miss on both languages skips the update entirely, leaving
// prior artifacts untouched.
func (m *Manager) mergeArtifacts(ctx context.Context, userID, sessionID int64, rawText string) (*models.Session, error) {
	res := extract.Extract(rawText)
	var patch models.SessionPatch
	if res.HasMarkup() {
		patch.GeneratedMarkup = &res.Markup
	}
	if res.HasStyle() {
		patch.GeneratedStyle = &res.Style
	}
	if patch.IsEmpty() {
		return m.store.GetSession(ctx, userID, sessionID)
	}
	return m.store.UpdateSession(ctx, userID, sessionID, patch)
}

// historyWindow assembles the trailing conversation context, excluding the
// just-appended user message (it travels separately as the prompt).
func (m *Manager) historyWindow(ctx context.Context, userID, sessionID int64, userMsg *models.Message) ([]*models.Message, error) {
	if history, ok := m.cache.loadHistory(userID, sessionID); ok {
		return trimWindow(history, userMsg), nil
	}
	messages, err := m.store.RecentMessages(ctx, userID, sessionID, historyWindowSize+1)
	if err != nil {
		return nil, err
	}
	m.cache.cacheHistory(sessionID, messages)
	return trimWindow(messages, userMsg), nil
}

func trimWindow(messages []*models.Message, exclude *models.Message) []*models.Message {
	window := make([]*models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || (exclude != nil && msg.ID == exclude.ID) {
			continue
		}
		window = append(window, msg)
	}
	if len(window) > historyWindowSize {
		window = window[len(window)-historyWindowSize:]
	}
	return window
}
