// Package session refreshes the caller's session from request cookies. The
// access token is a JWT signed by the hosted auth service and is verified
// locally; expired or nearly expired tokens are exchanged using the refresh
// token cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/authclient"
	"github.com/Clark-Hu/bitebox/internal/domain"
	"github.com/Clark-Hu/bitebox/internal/events"
	"github.com/Clark-Hu/bitebox/internal/metrics"
)

const (
	AccessCookie  = "bb-access-token"
	RefreshCookie = "bb-refresh-token"

	cookieMaxAge = 30 * 24 * time.Hour
)

// Refreshed is the outcome of a session refresh. Cookies must be written to
// the response whatever the request's final decision is; User is nil for
// anonymous callers. AccessToken is the token in effect after the refresh.
type Refreshed struct {
	Cookies     []*http.Cookie
	User        *domain.User
	AccessToken string
}

// Provider exposes the session carried by a request.
type Provider interface {
	// Refresh renews the session if needed and returns the cookies to write.
	Refresh(ctx context.Context, r *http.Request) (Refreshed, error)
	// CurrentUser returns the user of a still valid access token without
	// contacting the auth service, or nil.
	CurrentUser(ctx context.Context, r *http.Request) *domain.User
}

// Options configures a CookieProvider.
type Options struct {
	JWTSecret     string
	Leeway        time.Duration
	SecureCookies bool
	Events        events.Publisher
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// CookieProvider implements Provider on top of the hosted auth service.
type CookieProvider struct {
	auth    authclient.Client
	secret  []byte
	leeway  time.Duration
	secure  bool
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewCookieProvider builds a provider.
func NewCookieProvider(auth authclient.Client, opts Options) *CookieProvider {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CookieProvider{
		auth:    auth,
		secret:  []byte(opts.JWTSecret),
		leeway:  opts.Leeway,
		secure:  opts.SecureCookies,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  logger.Named("session"),
		now:     time.Now,
	}
}

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Refresh implements Provider.
func (p *CookieProvider) Refresh(ctx context.Context, r *http.Request) (Refreshed, error) {
	start := p.now()
	result, out, err := p.refresh(ctx, r)
	if err != nil {
		result = "error"
	}
	p.metrics.ObserveSessionRefresh(result, p.now().Sub(start))
	return out, err
}

func (p *CookieProvider) refresh(ctx context.Context, r *http.Request) (string, Refreshed, error) {
	access := cookieValue(r, AccessCookie)
	refresh := cookieValue(r, RefreshCookie)
	if access == "" && refresh == "" {
		return "anonymous", Refreshed{}, nil
	}

	var current *domain.User
	if access != "" {
		user, exp, err := p.verify(access)
		switch {
		case err == nil && exp.Sub(p.now()) > p.leeway:
			return "valid", Refreshed{User: user, AccessToken: access}, nil
		case err == nil:
			// Valid but about to expire: renew, keep it as a fallback.
			current = user
		case errors.Is(err, jwt.ErrTokenExpired):
		default:
			p.logger.Info("discarding unverifiable access token", zap.Error(err))
			if refresh == "" {
				return "cleared", Refreshed{Cookies: p.ClearCookies()}, nil
			}
		}
	}

	if refresh == "" {
		if current != nil {
			return "valid", Refreshed{User: current, AccessToken: access}, nil
		}
		return "cleared", Refreshed{Cookies: p.ClearCookies()}, nil
	}

	tokens, err := p.auth.RefreshToken(ctx, refresh)
	if err != nil {
		if errors.Is(err, authclient.ErrInvalidRefreshToken) {
			return "cleared", Refreshed{Cookies: p.ClearCookies()}, nil
		}
		if current != nil {
			p.logger.Warn("session refresh failed, keeping unexpired token", zap.Error(err))
			return "valid", Refreshed{User: current, AccessToken: access}, nil
		}
		return "", Refreshed{}, fmt.Errorf("refresh session: %w", err)
	}

	if p.events != nil {
		p.events.Publish(events.Event{Kind: events.TokenRefreshed, UserID: tokens.User.ID})
	}
	user := tokens.User
	return "refreshed", Refreshed{Cookies: p.SessionCookies(tokens), User: &user, AccessToken: tokens.AccessToken}, nil
}

// CurrentUser implements Provider.
func (p *CookieProvider) CurrentUser(_ context.Context, r *http.Request) *domain.User {
	access := cookieValue(r, AccessCookie)
	if access == "" {
		return nil
	}
	user, _, err := p.verify(access)
	if err != nil {
		return nil
	}
	return user
}

// verify checks the signature of an access token and returns its identity
// and expiry. Expired tokens yield jwt.ErrTokenExpired.
func (p *CookieProvider) verify(raw string) (*domain.User, time.Time, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, time.Time{}, err
	}
	if claims.Subject == "" {
		return nil, time.Time{}, fmt.Errorf("access token without subject")
	}
	return &domain.User{ID: claims.Subject, Email: claims.Email}, claims.ExpiresAt.Time, nil
}

// SessionCookies returns the cookies that store a freshly issued token pair.
func (p *CookieProvider) SessionCookies(tokens *authclient.Tokens) []*http.Cookie {
	return []*http.Cookie{
		p.cookie(AccessCookie, tokens.AccessToken, cookieMaxAge),
		p.cookie(RefreshCookie, tokens.RefreshToken, cookieMaxAge),
	}
}

// ClearCookies returns cookies that delete the session on the client.
func (p *CookieProvider) ClearCookies() []*http.Cookie {
	return []*http.Cookie{
		p.cookie(AccessCookie, "", -1),
		p.cookie(RefreshCookie, "", -1),
	}
}

func (p *CookieProvider) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(maxAge.Seconds())
	}
	return c
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
