package session

import (
	"context"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

type (
	contextKeyUser        struct{}
	contextKeyAccessToken struct{}
)

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, contextKeyUser{}, user)
}

// UserFromContext returns the authenticated user, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *domain.User {
	if user, ok := ctx.Value(contextKeyUser{}).(*domain.User); ok {
		return user
	}
	return nil
}

// WithAccessToken stores the access token in effect for the request. After
// a refresh it differs from the one in the request cookies.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKeyAccessToken{}, token)
}

// AccessTokenFromContext returns the access token stored by WithAccessToken.
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextKeyAccessToken{}).(string)
	return token
}
