package models

import "time"

// Session is a named unit of playground work: its chat history plus the most
// recently extracted component markup/stylesheet pair. GeneratedMarkup and
// GeneratedStyle stay empty until an extraction succeeds and are only ever
// replaced field-by-field (merge, not wholesale overwrite).
type Session struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	GeneratedMarkup string    `json:"generated_markup,omitempty"`
	GeneratedStyle  string    `json:"generated_style,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SessionPatch carries a partial session update. Nil fields are left
// untouched by UpdateSession.
type SessionPatch struct {
	Name            *string `json:"name,omitempty"`
	Description     *string `json:"description,omitempty"`
	GeneratedMarkup *string `json:"generated_markup,omitempty"`
	GeneratedStyle  *string `json:"generated_style,omitempty"`
}

// IsEmpty reports whether the patch carries no changes at all.
func (p SessionPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.GeneratedMarkup == nil && p.GeneratedStyle == nil
}
