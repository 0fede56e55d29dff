package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrechnung/console/internal/shared"
)

func TestCSRFTokens(t *testing.T) {
	sm, _ := newSessionManager(t)
	csrf := shared.NewCSRFManager("csrfsecret")
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, "forged"), shared.ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), shared.ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, nil, token), shared.ErrCSRFTokenMissing)

	rotated, err := csrf.Rotate(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, token, rotated)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, token), shared.ErrCSRFTokenMismatch)
}

func TestUserSafeMessage(t *testing.T) {
	assert.Equal(t, "", shared.UserSafeMessage(nil))
	assert.Equal(t, "Invalid username or password", shared.UserSafeMessage(shared.ErrInvalidCredentials))
	assert.Contains(t, shared.UserSafeMessage(shared.ErrUnauthenticated), "log in again")
	assert.Equal(t, "Something went wrong, please try again", shared.UserSafeMessage(context.DeadlineExceeded))
}

func TestPrincipalExpired(t *testing.T) {
	now := mustParse(t, "2026-01-01T12:00:00Z")
	assert.False(t, shared.Principal{}.Expired(now))
	assert.True(t, shared.Principal{ExpiresAt: now.Add(-1)}.Expired(now))
	assert.False(t, shared.Principal{ExpiresAt: now.Add(1)}.Expired(now))
}

func TestPasswordChangeLockKey(t *testing.T) {
	assert.Equal(t, "account:password:abc:inflight", shared.PasswordChangeLockKey("abc"))
}
