package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/abrechnung/console/internal/account"
	"github.com/abrechnung/console/internal/shared"
)

// LocalBackend authenticates and changes passwords against the postgres users table.
type LocalBackend struct {
	repo Repository
	cost int
}

// NewLocalBackend constructs a LocalBackend hashing with bcrypt.DefaultCost.
func NewLocalBackend(repo Repository) *LocalBackend {
	return &LocalBackend{repo: repo, cost: bcrypt.DefaultCost}
}

// Authenticate validates username/password credentials.
func (b *LocalBackend) Authenticate(ctx context.Context, username, password string) (shared.Principal, error) {
	user, err := b.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Principal{}, shared.ErrInvalidCredentials
		}
		return shared.Principal{}, err
	}
	if !user.IsActive {
		return shared.Principal{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return shared.Principal{}, shared.ErrInvalidCredentials
	}
	return shared.Principal{ID: formatID(user.ID), Username: user.Username, Email: user.Email}, nil
}

// ChangePassword implements account.PasswordChanger.
func (b *LocalBackend) ChangePassword(ctx context.Context, req account.ChangeRequest) error {
	id, err := strconv.ParseInt(req.Principal.ID, 10, 64)
	if err != nil {
		return shared.ErrUnauthenticated
	}
	user, err := b.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrUnauthenticated
		}
		return err
	}
	if !user.IsActive {
		return shared.ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) != nil {
		return account.ErrCurrentPasswordInvalid
	}
	hash, err := HashPassword(req.NewPassword, b.cost)
	if err != nil {
		return err
	}
	if err := b.repo.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	return nil
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

var (
	_ Authenticator           = (*LocalBackend)(nil)
	_ account.PasswordChanger = (*LocalBackend)(nil)
)
