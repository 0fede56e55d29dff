// Package accountapi talks to the remote account service that owns user
// credentials.
package accountapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abrechnung/console/internal/account"
	"github.com/abrechnung/console/internal/shared"
)

const (
	loginPath          = "/api/v1/auth/login"
	profilePath        = "/api/v1/profile"
	changePasswordPath = "/api/v1/profile/change_password"

	sessionName = "abrechnung-console"
	maxBodySize = 64 << 10
)

// Error is a non-2xx answer from the account service.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus exposes the upstream status code.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// Profile is the account service view of the logged in user.
type Profile struct {
	ID       json.Number `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
}

// Client wraps interactions with the account service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client. A zero timeout leaves requests unbounded.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	SessionName string `json:"session_name"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	UserID      json.Number `json:"user_id"`
}

// Authenticate logs in and returns the principal carrying the access token.
func (c *Client) Authenticate(ctx context.Context, username, password string) (shared.Principal, error) {
	var out loginResponse
	err := c.do(ctx, http.MethodPost, loginPath, "", loginRequest{Username: username, Password: password, SessionName: sessionName}, &out)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest) {
			return shared.Principal{}, shared.ErrInvalidCredentials
		}
		return shared.Principal{}, err
	}
	if out.AccessToken == "" {
		return shared.Principal{}, errors.New("account service: login response without access token")
	}

	p := shared.Principal{ID: out.UserID.String(), Username: username, AccessToken: out.AccessToken}
	applyClaims(&p, out.AccessToken)

	profile, err := c.Profile(ctx, out.AccessToken)
	if err != nil {
		return shared.Principal{}, err
	}
	if profile.Username != "" {
		p.Username = profile.Username
	}
	if id := profile.ID.String(); id != "" {
		p.ID = id
	}
	p.Email = profile.Email
	return p, nil
}

// Profile fetches the profile of the token owner.
func (c *Client) Profile(ctx context.Context, token string) (Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, profilePath, token, nil, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword implements account.PasswordChanger.
func (c *Client) ChangePassword(ctx context.Context, req account.ChangeRequest) error {
	if req.Principal.AccessToken == "" {
		return shared.ErrUnauthenticated
	}
	return c.do(ctx, http.MethodPost, changePasswordPath, req.Principal.AccessToken,
		changePasswordRequest{OldPassword: req.OldPassword, NewPassword: req.NewPassword}, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account service unreachable: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("account service: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &Error{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("account service: decode response: %w", err)
	}
	return nil
}

// errorMessage pulls the human readable reason out of an error body.
func errorMessage(status int, data []byte) string {
	var body struct {
		Msg    string          `json:"msg"`
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Msg != "" {
			return body.Msg
		}
		var detail string
		if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && !strings.HasPrefix(text, "{") && len(text) <= 200 {
		return text
	}
	return fmt.Sprintf("account service returned %d %s", status, http.StatusText(status))
}

// applyClaims reads subject, username and expiry from the access token. The
// account service owns the signing key, so the signature is not checked here.
func applyClaims(p *shared.Principal, token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" && p.ID == "" {
		p.ID = sub
	}
	if name, ok := claims["username"].(string); ok && name != "" {
		p.Username = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
}

var _ account.PasswordChanger = (*Client)(nil)
