package playground

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"uiforge/internal/models"
)

// CreateSession inserts a new session for the user and returns the record.
// Artifacts start empty; they are only filled by extraction or code-pane edits.
func (s *Service) CreateSession(ctx context.Context, userID int64, name, description string) (*models.Session, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, name, description, generated_markup, generated_style, created_at, updated_at)
		 VALUES (?, ?, ?, '', '', ?, ?)`,
		userID, name, description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.Session{
		ID:          id,
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ListSessions returns all sessions for a user ordered by last activity.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, description, generated_markup, generated_style, created_at, updated_at
		 FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var se models.Session
		if err := rows.Scan(&se.ID, &se.UserID, &se.Name, &se.Description,
			&se.GeneratedMarkup, &se.GeneratedStyle, &se.CreatedAt, &se.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, se)
	}
	return sessions, rows.Err()
}

// GetSession returns one session owned by the user.
func (s *Service) GetSession(ctx context.Context, userID, sessionID int64) (*models.Session, error) {
	var se models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, generated_markup, generated_style, created_at, updated_at
		 FROM sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID,
	).Scan(&se.ID, &se.UserID, &se.Name, &se.Description,
		&se.GeneratedMarkup, &se.GeneratedStyle, &se.CreatedAt, &se.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &se, nil
}

// GetSessionWithMessages returns one session and its ordered messages.
func (s *Service) GetSessionWithMessages(ctx context.Context, userID, sessionID int64) (*models.Session, []*models.Message, error) {
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.ListMessages(ctx, userID, sessionID)
	if err != nil {
		return session, nil, err
	}
	return session, messages, nil
}

// UpdateSession merges the given fields into the session and bumps
// updated_at. Nil patch fields are left unchanged; there is no implicit
// nulling. Setting a name validates it non-empty.
func (s *Service) UpdateSession(ctx context.Context, userID, sessionID int64, patch models.SessionPatch) (*models.Session, error) {
	if sessionID <= 0 {
		return nil, errors.New("invalid session id")
	}
	if patch.IsEmpty() {
		return s.GetSession(ctx, userID, sessionID)
	}

	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 7)
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errors.New("name cannot be empty")
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.GeneratedMarkup != nil {
		sets = append(sets, "generated_markup = ?")
		args = append(args, *patch.GeneratedMarkup)
	}
	if patch.GeneratedStyle != nil {
		sets = append(sets, "generated_style = ?")
		args = append(args, *patch.GeneratedStyle)
	}
	now := time.Now().UTC()
	sets = append(sets, "updated_at = ?")
	args = append(args, now, sessionID, userID)

	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = ? AND user_id = ?`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return s.GetSession(ctx, userID, sessionID)
}

// SearchSessions filters sessions by a case-insensitive substring match over
// name and description. An empty query returns the input unchanged.
func SearchSessions(sessions []models.Session, query string) []models.Session {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return sessions
	}
	filtered := make([]models.Session, 0, len(sessions))
	for _, se := range sessions {
		if strings.Contains(strings.ToLower(se.Name), query) ||
			strings.Contains(strings.ToLower(se.Description), query) {
			filtered = append(filtered, se)
		}
	}
	return filtered
}
