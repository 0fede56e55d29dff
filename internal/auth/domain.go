package auth

import (
	"context"
	"time"

	"github.com/abrechnung/console/internal/shared"
)

// User is an account row of the local postgres backend.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Authenticator verifies credentials and returns the principal to store in the session.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (shared.Principal, error)
}
