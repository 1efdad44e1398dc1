package authclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/authmock"
)

func newMockedClient(t *testing.T) (*HTTPClient, *authmock.Server) {
	t.Helper()
	mock := authmock.New("secret", "anon", time.Hour, zap.NewNop())
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL+"/", "anon", 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	return client, mock
}

func TestSignInAndRefresh(t *testing.T) {
	client, mock := newMockedClient(t)
	user, err := mock.AddUser("ana@example.com", "hunter22")
	require.NoError(t, err)
	ctx := context.Background()

	tokens, err := client.SignInWithPassword(ctx, "ana@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, tokens.User.ID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.True(t, tokens.ExpiresAt.After(time.Now()))

	_, err = client.SignInWithPassword(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	refreshed, err := client.RefreshToken(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, refreshed.RefreshToken)

	// Rotated tokens cannot be reused.
	_, err = client.RefreshToken(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	got, err := client.GetUser(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.Email)

	require.NoError(t, client.SignOut(ctx, refreshed.AccessToken))
	_, err = client.RefreshToken(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestSignUpAndRecover(t *testing.T) {
	client, mock := newMockedClient(t)
	ctx := context.Background()

	tokens, err := client.SignUp(ctx, "new@example.com", "longenough")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)

	_, err = client.SignUp(ctx, "new@example.com", "longenough")
	assert.ErrorIs(t, err, ErrSignUpRejected)
	assert.Contains(t, err.Error(), "already registered")

	require.NoError(t, client.RecoverPassword(ctx, "new@example.com"))
	assert.Equal(t, []string{"new@example.com"}, mock.Recoveries())
}

func TestSignUpRejectsOverlongPassword(t *testing.T) {
	client, _ := newMockedClient(t)

	_, err := client.SignUp(context.Background(), "long@example.com", strings.Repeat("p", 73))
	assert.ErrorIs(t, err, ErrSignUpRejected)
	assert.Contains(t, err.Error(), "72")
}

func TestGetUserUnauthorized(t *testing.T) {
	client, _ := newMockedClient(t)
	_, err := client.GetUser(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, "k", time.Second, nil)
	require.NoError(t, err)

	_, err = client.RefreshToken(context.Background(), "r")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Contains(t, err.Error(), "502")
}

func TestNewHTTPClientRejectsRelativeURL(t *testing.T) {
	_, err := NewHTTPClient("/auth/v1", "k", time.Second, nil)
	assert.Error(t, err)
}

func TestConvertTokens(t *testing.T) {
	c := &HTTPClient{now: func() time.Time { return time.Unix(1000, 0) }}

	tokens, err := c.convertTokens(tokenResponse{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresIn:    60,
		User:         &userPayload{ID: "u1", Email: "e"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1060), tokens.ExpiresAt.Unix())

	_, err = c.convertTokens(tokenResponse{AccessToken: "a"})
	assert.Error(t, err)
}
