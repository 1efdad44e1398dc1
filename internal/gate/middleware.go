package gate

import (
	"context"
	"net/http"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/metrics"
	"github.com/Clark-Hu/bitebox/internal/session"
)

// AdminChecker resolves the admin role without failing.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) bool
}

// Gate runs the session refresh and role lookup for each request and
// applies Rules to the result.
type Gate struct {
	rules    Rules
	sessions session.Provider
	roles    AdminChecker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer

	// OnError writes the response when the session refresh fails.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// New builds a Gate.
func New(rules Rules, sessions session.Provider, roles AdminChecker, logger *zap.Logger, m *metrics.Metrics) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		rules:    rules,
		sessions: sessions,
		roles:    roles,
		metrics:  m,
		logger:   logger.Named("gate"),
		tracer:   otel.Tracer("github.com/Clark-Hu/bitebox/internal/gate"),
		OnError: func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		},
	}
}

type contextKeyAdmin struct{}

// IsAdmin reports whether the gate resolved the caller as an administrator.
// Only admin paths trigger the lookup, elsewhere it is always false.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(contextKeyAdmin{}).(bool)
	return admin
}

// Middleware applies the gate in front of next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := g.tracer.Start(r.Context(), "gate.decide")
		defer span.End()

		refreshed, err := g.sessions.Refresh(ctx, r)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session refresh failed")
			g.logger.Error("session refresh failed",
				zap.String("path", r.URL.Path), zap.Error(err))
			g.OnError(w, r, err)
			return
		}
		for _, c := range refreshed.Cookies {
			http.SetCookie(w, c)
		}

		s := Session{User: refreshed.User}
		if s.User != nil && g.rules.RequiresAdmin(r.URL.Path) {
			s.IsAdmin = g.roles.IsAdmin(ctx, s.User.ID)
		}

		d := g.rules.Decide(Request{Path: r.URL.Path, UserAgent: r.UserAgent()}, s)
		span.SetAttributes(
			attribute.String("gate.decision", d.Kind.String()),
			attribute.String("gate.reason", d.Reason),
			attribute.Bool("gate.authenticated", s.User != nil),
		)
		g.metrics.ObserveGateDecision(d.Kind.String(), d.Reason)

		switch d.Kind {
		case Redirect:
			if ce := g.logger.Check(zap.DebugLevel, "redirecting"); ce != nil {
				ce.Write(
					zap.String("path", r.URL.Path),
					zap.String("location", d.Location),
					zap.String("reason", d.Reason),
					zap.String("device", deviceLabel(r.UserAgent())),
				)
			}
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
		case Block:
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			ctx = session.WithUser(ctx, s.User)
			ctx = session.WithAccessToken(ctx, refreshed.AccessToken)
			ctx = context.WithValue(ctx, contextKeyAdmin{}, s.IsAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// deviceLabel summarises a User-Agent for logs. Classification itself is
// done by Rules.IsMobile.
func deviceLabel(ua string) string {
	if ua == "" {
		return "unknown"
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return "bot"
	}
	browser, _ := parsed.Browser()
	return parsed.OS() + "/" + browser
}
