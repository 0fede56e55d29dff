package account_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrechnung/console/internal/account"
	"github.com/abrechnung/console/internal/shared"
	"github.com/abrechnung/console/internal/view"
	_ "github.com/abrechnung/console/testing"
)

type handlerEnv struct {
	router   http.Handler
	sessions *shared.SessionManager
	changer  *fakeChanger
	cookie   *http.Cookie
}

func newHandlerEnv(t *testing.T, changer *fakeChanger) *handlerEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	submitter := account.NewSubmitter(account.SubmitterConfig{Changer: changer, Guard: account.NewRedisGuard(client, time.Minute)})
	h := account.NewHandler(nil, submitter, templates, csrf)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(req.Context(), sess)
			// Commit before the handler writes so cookies land in the response headers.
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, req.WithContext(ctx))
			require.NoError(t, sessions.Commit(ctx, w, req, sess))
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	})
	r.Route("/account", h.MountRoutes)
	r.Route("/api/account", h.MountAPIRoutes)

	env := &handlerEnv{router: r, sessions: sessions, changer: changer}
	env.login(t)
	return env
}

// login seeds a session holding a principal and remembers its cookie.
func (e *handlerEnv) login(t *testing.T) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := e.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	sess.SetPrincipal(shared.Principal{ID: "1", Username: "alice"})
	res := httptest.NewRecorder()
	require.NoError(t, e.sessions.Commit(context.Background(), res, req, sess))
	e.cookie = &http.Cookie{Name: e.sessions.CookieName(), Value: sess.ID}
}

func (e *handlerEnv) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	res := httptest.NewRecorder()
	e.router.ServeHTTP(res, req)
	return res
}

func (e *handlerEnv) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, path, "application/x-www-form-urlencoded", values.Encode())
}

func passwordValues(old, newPassword, confirmation string) url.Values {
	return url.Values{
		account.FieldCurrentPassword:         {old},
		account.FieldNewPassword:             {newPassword},
		account.FieldNewPasswordConfirmation: {confirmation},
	}
}

func TestShowPasswordForm(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{})

	res := env.do(http.MethodGet, "/account/password", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	for _, want := range []string{`name="password"`, `name="newPassword"`, `name="newPassword2"`, "Repeat Password", `type="password"`, "Save"} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, "disabled")
}

func TestShowPasswordFormRequiresLogin(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{})
	env.cookie = nil

	res := env.do(http.MethodGet, "/account/password", "", "")
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/auth/login", res.Header().Get("Location"))
}

func TestSubmitFormMismatch(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{})

	res := env.postForm("/account/password", passwordValues("old1", "abc", "abd"))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Passwords do not match")
	assert.NotContains(t, res.Body.String(), "old1")
	assert.Zero(t, env.changer.callCount())
}

func TestSubmitFormSuccessShowsToast(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{})

	res := env.postForm("/account/password", passwordValues("old1", "new1", "new1"))
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/account/password", res.Header().Get("Location"))
	require.Equal(t, 1, env.changer.callCount())
	assert.Equal(t, "new1", env.changer.calls[0].NewPassword)

	follow := env.do(http.MethodGet, "/account/password", "", "")
	assert.Contains(t, follow.Body.String(), "toast-success")
	assert.Contains(t, follow.Body.String(), "Successfully changed password")

	again := env.do(http.MethodGet, "/account/password", "", "")
	assert.NotContains(t, again.Body.String(), "Successfully changed password")
}

func TestSubmitFormFailureShowsError(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{err: errors.New("current password is incorrect")})

	res := env.postForm("/account/password", passwordValues("bad", "new1", "new1"))
	require.Equal(t, http.StatusSeeOther, res.Code)

	follow := env.do(http.MethodGet, "/account/password", "", "")
	assert.Contains(t, follow.Body.String(), "toast-error")
	assert.Contains(t, follow.Body.String(), "current password is incorrect")
}

func TestValidateAPI(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{})

	res := env.postForm("/api/account/password/validate", passwordValues("", "abc", "abd"))
	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"newPassword": "Passwords do not match"}, body.Errors)

	res = env.postForm("/api/account/password/validate", passwordValues("", "abc", "abc"))
	require.Equal(t, http.StatusOK, res.Code)
	var matching struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &matching))
	assert.NotNil(t, matching.Errors)
	assert.Empty(t, matching.Errors)
	assert.Zero(t, env.changer.callCount())
}

func TestSubmitAPI(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{})

	res := env.do(http.MethodPost, "/api/account/password", "application/json", `{"password":"old1","newPassword":"new1","newPassword2":"new1"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"ok":true,"message":"Successfully changed password"}`, res.Body.String())

	res = env.do(http.MethodPost, "/api/account/password", "application/json", `{"password":"old1","newPassword":"a","newPassword2":"b"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.JSONEq(t, `{"errors":{"newPassword":"Passwords do not match"}}`, res.Body.String())

	res = env.do(http.MethodPost, "/api/account/password", "application/json", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, 1, env.changer.callCount())
}

func TestSubmitAPIRejections(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{err: account.ErrCurrentPasswordInvalid})
	res := env.do(http.MethodPost, "/api/account/password", "application/json", `{"password":"x","newPassword":"n","newPassword2":"n"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "current password is incorrect")

	env = newHandlerEnv(t, &fakeChanger{err: errors.New("account service unreachable")})
	res = env.do(http.MethodPost, "/api/account/password", "application/json", `{"password":"x","newPassword":"n","newPassword2":"n"}`)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))

	env = newHandlerEnv(t, &fakeChanger{err: shared.ErrUnauthenticated})
	res = env.do(http.MethodPost, "/api/account/password", "application/json", `{"password":"x","newPassword":"n","newPassword2":"n"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))
}

func TestSubmitAPIRequiresLogin(t *testing.T) {
	env := newHandlerEnv(t, &fakeChanger{})
	env.cookie = nil
	res := env.do(http.MethodPost, "/api/account/password", "application/json", `{}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}
