// Package playground persists sessions, their chat history, and the user
// accounts and provider API keys that own them.
package playground

import (
	"database/sql"
	"errors"
	"os"
)

// ErrSessionNotFound is returned when an operation targets a session that
// does not exist or belongs to another user.
var ErrSessionNotFound = errors.New("session not found")

// Service handles session, message, and user persistence.
type Service struct {
	db     *sql.DB
	cipher *tokenCipher
}

// NewService builds a playground service. Provider API keys are encrypted at
// rest when UIFORGE_APIKEY_KEY is set; without it stored keys stay plaintext.
func NewService(db *sql.DB) (*Service, error) {
	svc := &Service{db: db}
	if os.Getenv(apiTokenKeyEnv) != "" {
		cipher, err := newTokenCipherFromEnv()
		if err != nil {
			return nil, err
		}
		svc.cipher = cipher
	}
	return svc, nil
}
