// internal/models/organizer.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Organizer is an account that can create and run competitions.
type Organizer struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"` // argon2id hash, never returned to clients

	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}
