// Package role answers whether a user holds the administrator role.
package role

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/metrics"
)

// Resolver reports whether userID is an administrator. Implementations
// return an error when the answer is unknown.
type Resolver interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Static is an in-memory Resolver keyed by user id.
type Static map[string]bool

// IsAdmin implements Resolver.
func (s Static) IsAdmin(_ context.Context, userID string) (bool, error) {
	return s[userID], nil
}

// Checker wraps a Resolver and never fails: an unknown answer is treated
// as "not an administrator".
type Checker struct {
	resolver Resolver
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewChecker builds a Checker. A zero timeout leaves the caller's deadline
// untouched.
func NewChecker(resolver Resolver, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{resolver: resolver, timeout: timeout, logger: logger.Named("role"), metrics: m}
}

// IsAdmin resolves the role of userID. Lookup errors are logged and
// reported as false.
func (c *Checker) IsAdmin(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	admin, err := c.resolver.IsAdmin(ctx, userID)
	if err != nil {
		c.metrics.IncRoleLookupFailure()
		c.logger.Warn("admin lookup failed, treating as non-admin",
			zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return admin
}
