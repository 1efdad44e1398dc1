package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/domain"
	"github.com/Clark-Hu/bitebox/internal/metrics"
	"github.com/Clark-Hu/bitebox/internal/role"
	"github.com/Clark-Hu/bitebox/internal/session"
)

type fakeSessions struct {
	out   session.Refreshed
	err   error
	calls int
}

func (f *fakeSessions) Refresh(context.Context, *http.Request) (session.Refreshed, error) {
	f.calls++
	return f.out, f.err
}

func (f *fakeSessions) CurrentUser(context.Context, *http.Request) *domain.User {
	return f.out.User
}

type countingRoles struct {
	admins map[string]bool
	calls  int
}

func (c *countingRoles) IsAdmin(_ context.Context, userID string) bool {
	c.calls++
	return c.admins[userID]
}

var renewed = &http.Cookie{Name: session.AccessCookie, Value: "renewed", Path: "/"}

func serve(t *testing.T, g *Gate, path, ua string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	var seen *http.Request
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("User-Agent", ua)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func hasCookie(rec *httptest.ResponseRecorder, name, value string) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.Value == value {
			return true
		}
	}
	return false
}

func TestMiddlewareRedirectCarriesCookies(t *testing.T) {
	sessions := &fakeSessions{out: session.Refreshed{Cookies: []*http.Cookie{renewed}}}
	g := New(DefaultRules(), sessions, &countingRoles{}, zap.NewNop(), nil)

	rec, seen := serve(t, g, "/admin/restaurants", desktopUA)
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/login?next=%2Fadmin%2Frestaurants", rec.Header().Get("Location"))
	assert.True(t, hasCookie(rec, session.AccessCookie, "renewed"))
	assert.Equal(t, 1, sessions.calls)
}

func TestMiddlewareRefreshesOnExemptPaths(t *testing.T) {
	sessions := &fakeSessions{out: session.Refreshed{Cookies: []*http.Cookie{renewed}}}
	roles := &countingRoles{}
	g := New(DefaultRules(), sessions, roles, zap.NewNop(), nil)

	rec, seen := serve(t, g, "/api/restaurants", desktopUA)
	require.NotNil(t, seen)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, hasCookie(rec, session.AccessCookie, "renewed"))
	assert.Equal(t, 1, sessions.calls)
	assert.Zero(t, roles.calls)
}

func TestMiddlewareAdmin(t *testing.T) {
	user := &domain.User{ID: "boss"}
	roles := &countingRoles{admins: map[string]bool{"boss": true}}
	g := New(DefaultRules(), &fakeSessions{out: session.Refreshed{User: user}}, roles, zap.NewNop(), nil)

	rec, seen := serve(t, g, "/admin/restaurants", iphoneUA)
	require.NotNil(t, seen)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, roles.calls)
	assert.True(t, IsAdmin(seen.Context()))
	assert.Same(t, user, session.UserFromContext(seen.Context()))
}

func TestMiddlewareAdminAssetSkipsRoleLookup(t *testing.T) {
	user := &domain.User{ID: "boss"}
	roles := &countingRoles{admins: map[string]bool{"boss": true}}
	sessions := &fakeSessions{out: session.Refreshed{User: user, AccessToken: "tok"}}
	g := New(DefaultRules(), sessions, roles, zap.NewNop(), nil)

	rec, seen := serve(t, g, "/admin/logo.png", desktopUA)
	require.NotNil(t, seen)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, roles.calls)
	assert.False(t, IsAdmin(seen.Context()))
	assert.Equal(t, "tok", session.AccessTokenFromContext(seen.Context()))
}

func TestMiddlewareRoleFailureIsNonAdmin(t *testing.T) {
	user := &domain.User{ID: "boss"}
	failing := role.NewChecker(resolverFunc(func(context.Context, string) (bool, error) {
		return true, errors.New("timeout")
	}), 0, zap.NewNop(), nil)
	g := New(DefaultRules(), &fakeSessions{out: session.Refreshed{User: user}}, failing, zap.NewNop(), nil)

	rec, seen := serve(t, g, "/admin/restaurants", desktopUA)
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestMiddlewareDeviceRules(t *testing.T) {
	g := New(DefaultRules(), &fakeSessions{}, &countingRoles{}, zap.NewNop(), nil)

	rec, _ := serve(t, g, "/home", desktopUA)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/desktop-notice", rec.Header().Get("Location"))

	rec, seen := serve(t, g, "/home", iphoneUA)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Nil(t, session.UserFromContext(seen.Context()))

	rec, _ = serve(t, g, "/login", desktopUA)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = serve(t, g, "/desktop-notice", androidUA)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestMiddlewareSessionFailure(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("auth service unreachable")}
	g := New(DefaultRules(), sessions, &countingRoles{}, zap.NewNop(), nil)

	rec, seen := serve(t, g, "/home", iphoneUA)
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiddlewareMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	g := New(DefaultRules(), &fakeSessions{}, &countingRoles{}, zap.NewNop(), m)

	serve(t, g, "/home", desktopUA)
	serve(t, g, "/home", desktopUA)
	serve(t, g, "/api/me", desktopUA)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("redirect", ReasonDesktop)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("continue", ReasonExempt)))
}

type resolverFunc func(ctx context.Context, userID string) (bool, error)

func (f resolverFunc) IsAdmin(ctx context.Context, userID string) (bool, error) { return f(ctx, userID) }

func TestDeviceLabel(t *testing.T) {
	assert.Equal(t, "unknown", deviceLabel(""))
	assert.NotEqual(t, "unknown", deviceLabel(iphoneUA))
}
