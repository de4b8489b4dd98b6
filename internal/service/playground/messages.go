package playground

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"uiforge/internal/models"
)

// AppendMessage stores a new chat turn and touches the session's updated_at.
// The owning session must exist and belong to the user; message history is
// append-only so this is the only write path for messages.
func (s *Service) AppendMessage(ctx context.Context, userID, sessionID int64, role models.Role, content, imageURL string) (*models.Message, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if sessionID <= 0 {
		return nil, errors.New("session_id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ? AND user_id = ?)`,
		sessionID, userID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, session_id, role, content, image_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, sessionID, role, content, imageURL, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return &models.Message{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		ImageURL:  imageURL,
		CreatedAt: now,
	}, nil
}

// ListMessages returns a session's full message log ordered by created_at
// ascending, ties broken by insertion order so repeated reads are stable.
func (s *Service) ListMessages(ctx context.Context, userID, sessionID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.user_id, m.session_id, m.role, m.content, m.image_url, m.created_at
		 FROM messages m
		 JOIN sessions s ON s.id = m.session_id
		 WHERE m.session_id = ? AND s.user_id = ?
		 ORDER BY m.created_at ASC, m.id ASC`,
		sessionID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &m.Role, &m.Content, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecentMessages returns at most limit of the newest messages for a session
// in chronological order, used as the generation context window.
func (s *Service) RecentMessages(ctx context.Context, userID, sessionID int64, limit int) ([]*models.Message, error) {
	messages, err := s.ListMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}
