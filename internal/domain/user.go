package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that owns jobs. The password is stored only as a
// bcrypt hash.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
