// Package authclient talks to the hosted, GoTrue-compatible auth service that
// owns user accounts, passwords and refresh tokens.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

var (
	// ErrInvalidCredentials is returned when email/password do not match.
	ErrInvalidCredentials = errors.New("authclient: invalid credentials")
	// ErrInvalidRefreshToken is returned when a refresh token is unknown, used or expired.
	ErrInvalidRefreshToken = errors.New("authclient: invalid refresh token")
	// ErrUnauthorized is returned when an access token is rejected.
	ErrUnauthorized = errors.New("authclient: unauthorized")
	// ErrSignUpRejected is returned when the service refuses a registration.
	ErrSignUpRejected = errors.New("authclient: sign up rejected")
)

// Tokens is the token pair issued on sign-in and refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         domain.User
}

// Client defines the operations the application needs from the auth service.
type Client interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Tokens, error)
	SignUp(ctx context.Context, email, password string) (*Tokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error)
	GetUser(ctx context.Context, accessToken string) (*domain.User, error)
	SignOut(ctx context.Context, accessToken string) error
	RecoverPassword(ctx context.Context, email string) error
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewHTTPClient constructs a new HTTP-backed auth client. baseURL is the
// service root, e.g. https://project.example.co/auth/v1.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse auth url: %q is not absolute", baseURL)
	}
	return &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger.Named("authclient"),
		now:    time.Now,
	}, nil
}

// SignInWithPassword exchanges email and password for a token pair.
func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Tokens, error) {
	body := map[string]string{"email": email, "password": password}
	var payload tokenResponse
	status, err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {"password"}}, "", body, &payload)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return c.convertTokens(payload)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
		return nil, ErrInvalidCredentials
	default:
		return nil, c.unexpected("sign in", status)
	}
}

// SignUp registers a new account. When the service requires email
// confirmation no session is returned and Tokens.AccessToken is empty.
func (c *HTTPClient) SignUp(ctx context.Context, email, password string) (*Tokens, error) {
	body := map[string]string{"email": email, "password": password}
	var payload tokenResponse
	status, err := c.do(ctx, http.MethodPost, "signup", nil, "", body, &payload)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		if payload.AccessToken == "" {
			return &Tokens{User: payload.userOrSelf()}, nil
		}
		return c.convertTokens(payload)
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrSignUpRejected, payload.message())
	default:
		return nil, c.unexpected("sign up", status)
	}
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *HTTPClient) RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var payload tokenResponse
	status, err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {"refresh_token"}}, "", body, &payload)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return c.convertTokens(payload)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidRefreshToken
	default:
		return nil, c.unexpected("refresh", status)
	}
}

// GetUser resolves the user behind an access token.
func (c *HTTPClient) GetUser(ctx context.Context, accessToken string) (*domain.User, error) {
	var payload userPayload
	status, err := c.do(ctx, http.MethodGet, "user", nil, accessToken, nil, &payload)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		if payload.ID == "" {
			return nil, fmt.Errorf("authclient: user payload without id")
		}
		return &domain.User{ID: payload.ID, Email: payload.Email}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, c.unexpected("get user", status)
	}
}

// SignOut revokes the refresh tokens of the session behind accessToken.
func (c *HTTPClient) SignOut(ctx context.Context, accessToken string) error {
	status, err := c.do(ctx, http.MethodPost, "logout", nil, accessToken, nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		// Session already gone.
		return nil
	default:
		return c.unexpected("sign out", status)
	}
}

// RecoverPassword asks the service to send a password-reset email.
func (c *HTTPClient) RecoverPassword(ctx context.Context, email string) error {
	status, err := c.do(ctx, http.MethodPost, "recover", nil, "", map[string]string{"email": email}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return c.unexpected("recover", status)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out interface{}) (int, error) {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("authclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read %s response: %w", path, err)
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode < 300 {
				return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
			}
		}
	}
	return resp.StatusCode, nil
}

func (c *HTTPClient) unexpected(op string, status int) error {
	c.logger.Warn("unexpected auth service status", zap.String("op", op), zap.Int("status", status))
	return fmt.Errorf("authclient: %s: upstream returned %d", op, status)
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         *userPayload `json:"user"`

	// Sign-up without confirmation returns the user object at the top level.
	ID    string `json:"id"`
	Email string `json:"email"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (p tokenResponse) userOrSelf() domain.User {
	if p.User != nil {
		return domain.User{ID: p.User.ID, Email: p.User.Email}
	}
	return domain.User{ID: p.ID, Email: p.Email}
}

func (p tokenResponse) message() string {
	switch {
	case p.Msg != "":
		return p.Msg
	case p.ErrorDescription != "":
		return p.ErrorDescription
	case p.Error != "":
		return p.Error
	default:
		return "request rejected"
	}
}

func (c *HTTPClient) convertTokens(p tokenResponse) (*Tokens, error) {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return nil, fmt.Errorf("authclient: token response missing tokens")
	}
	user := p.userOrSelf()
	if user.ID == "" {
		return nil, fmt.Errorf("authclient: token response missing user")
	}

	var expiresAt time.Time
	switch {
	case p.ExpiresAt > 0:
		expiresAt = time.Unix(p.ExpiresAt, 0).UTC()
	case p.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(p.ExpiresIn) * time.Second).UTC()
	default:
		expiresAt = c.now().Add(time.Hour).UTC()
	}

	return &Tokens{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}
