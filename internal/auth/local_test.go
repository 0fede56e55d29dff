package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/abrechnung/console/internal/account"
	"github.com/abrechnung/console/internal/shared"
)

type memRepo struct {
	users   map[int64]*User
	updates int
}

func (m *memRepo) FindByUsername(ctx context.Context, username string) (*User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	m.updates++
	return nil
}

func newTestBackend(t *testing.T, password string) (*LocalBackend, *memRepo) {
	t.Helper()
	hash, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	repo := &memRepo{users: map[int64]*User{
		1: {ID: 1, Username: "alice", Email: "alice@example.test", PasswordHash: hash, IsActive: true},
		2: {ID: 2, Username: "bob", PasswordHash: hash, IsActive: false},
	}}
	backend := NewLocalBackend(repo)
	backend.cost = bcrypt.MinCost
	return backend, repo
}

func TestLocalAuthenticate(t *testing.T) {
	backend, _ := newTestBackend(t, "old1")
	ctx := context.Background()

	p, err := backend.Authenticate(ctx, "alice", "old1")
	require.NoError(t, err)
	assert.Equal(t, shared.Principal{ID: "1", Username: "alice", Email: "alice@example.test"}, p)

	_, err = backend.Authenticate(ctx, "alice", "nope")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = backend.Authenticate(ctx, "carol", "old1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = backend.Authenticate(ctx, "bob", "old1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLocalChangePassword(t *testing.T) {
	backend, repo := newTestBackend(t, "old1")
	ctx := context.Background()
	alice := shared.Principal{ID: "1", Username: "alice"}

	err := backend.ChangePassword(ctx, account.ChangeRequest{Principal: alice, OldPassword: "old1", NewPassword: "new1"})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.updates)

	_, err = backend.Authenticate(ctx, "alice", "new1")
	assert.NoError(t, err)
	_, err = backend.Authenticate(ctx, "alice", "old1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLocalChangePasswordRejections(t *testing.T) {
	backend, repo := newTestBackend(t, "old1")
	ctx := context.Background()

	err := backend.ChangePassword(ctx, account.ChangeRequest{Principal: shared.Principal{ID: "1"}, OldPassword: "wrong", NewPassword: "new1"})
	assert.ErrorIs(t, err, account.ErrCurrentPasswordInvalid)

	err = backend.ChangePassword(ctx, account.ChangeRequest{Principal: shared.Principal{ID: "2"}, OldPassword: "old1", NewPassword: "new1"})
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	err = backend.ChangePassword(ctx, account.ChangeRequest{Principal: shared.Principal{ID: "99"}, OldPassword: "old1", NewPassword: "new1"})
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	err = backend.ChangePassword(ctx, account.ChangeRequest{Principal: shared.Principal{ID: "remote-uuid"}, OldPassword: "old1", NewPassword: "new1"})
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	assert.Zero(t, repo.updates)
}
