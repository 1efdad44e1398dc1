// Package gate decides, for every inbound request, whether it continues to
// the page handlers or is redirected. Decide is pure; Middleware performs
// the session refresh and role lookup it needs.
package gate

import (
	"net/url"
	"path"
	"strings"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

// Kind is the outcome class of a gate decision.
type Kind int

const (
	Continue Kind = iota
	Redirect
	// Block serves a substitute response. No current rule produces it.
	Block
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Redirect:
		return "redirect"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Reasons label decisions in logs and metrics.
const (
	ReasonExempt         = "exempt"
	ReasonOperational    = "operational"
	ReasonAdmin          = "admin"
	ReasonAnonymousAdmin = "admin_anonymous"
	ReasonNotAdmin       = "admin_forbidden"
	ReasonAllowListed    = "allow_listed"
	ReasonDesktop        = "desktop"
	ReasonMobileNotice   = "mobile_on_notice"
	ReasonDevice         = "device_ok"
)

// Decision is the single outcome of the gate for one request.
type Decision struct {
	Kind     Kind
	Location string
	Reason   string
}

// Request is the part of an HTTP request the rules look at.
type Request struct {
	Path      string
	UserAgent string
}

// Session is the caller's identity after the session refresh.
type Session struct {
	User    *domain.User
	IsAdmin bool
}

// Rules holds the path tables and device tokens the gate works from.
type Rules struct {
	// OperationalPaths are health and metrics endpoints; they skip every rule.
	OperationalPaths  []string
	AdminPrefix       string
	APIPrefix         string
	StaticPrefixes    []string
	StaticExtensions  []string
	AuthPaths         []string
	AuthPrefix        string
	LoginPath         string
	HomePath          string
	DesktopNoticePath string
	MobileTokens      []string
}

// DefaultMobileTokens are the User-Agent fragments treated as mobile or
// tablet devices.
var DefaultMobileTokens = []string{"Android", "iPhone", "iPad", "iPod", "Mobile"}

// DefaultRules returns the route tables of the application.
func DefaultRules() Rules {
	return Rules{
		OperationalPaths:  []string{"/healthz", "/metrics"},
		AdminPrefix:       "/admin",
		APIPrefix:         "/api/",
		StaticPrefixes:    []string{"/static/", "/_next/", "/favicon.ico", "/robots.txt", "/manifest.json"},
		StaticExtensions:  []string{".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp", ".woff", ".woff2", ".map", ".txt"},
		AuthPaths:         []string{"/login", "/signup", "/reset-password", "/confirm", "/forgot-password"},
		AuthPrefix:        "/auth/",
		LoginPath:         "/login",
		HomePath:          "/",
		DesktopNoticePath: "/desktop-notice",
		MobileTokens:      DefaultMobileTokens,
	}
}

// Decide applies the default rules.
func Decide(req Request, s Session) Decision {
	return DefaultRules().Decide(req, s)
}

// Decide returns the outcome for req given the refreshed session.
func (r Rules) Decide(req Request, s Session) Decision {
	p := req.Path
	if p == "" {
		p = "/"
	}

	if r.IsOperational(p) {
		return Decision{Kind: Continue, Reason: ReasonOperational}
	}

	if r.RequiresAdmin(p) {
		switch {
		case s.User == nil:
			return Decision{Kind: Redirect, Location: r.loginLocation(p), Reason: ReasonAnonymousAdmin}
		case !s.IsAdmin:
			return Decision{Kind: Redirect, Location: r.HomePath, Reason: ReasonNotAdmin}
		default:
			return Decision{Kind: Continue, Reason: ReasonAdmin}
		}
	}

	if r.IsExempt(p) {
		return Decision{Kind: Continue, Reason: ReasonExempt}
	}

	mobile := r.IsMobile(req.UserAgent)
	if mobile {
		if p == r.DesktopNoticePath {
			return Decision{Kind: Redirect, Location: r.HomePath, Reason: ReasonMobileNotice}
		}
		return Decision{Kind: Continue, Reason: ReasonDevice}
	}
	if r.IsAllowListed(p) {
		return Decision{Kind: Continue, Reason: ReasonAllowListed}
	}
	if p != r.DesktopNoticePath {
		return Decision{Kind: Redirect, Location: r.DesktopNoticePath, Reason: ReasonDesktop}
	}
	return Decision{Kind: Continue, Reason: ReasonDevice}
}

// IsAdminPath reports whether p falls under the administrative prefix.
func (r Rules) IsAdminPath(p string) bool {
	return p == r.AdminPrefix || strings.HasPrefix(p, strings.TrimSuffix(r.AdminPrefix, "/")+"/")
}

// RequiresAdmin reports whether p is subject to the admin role check.
// Static assets under the admin prefix are not, the admin API always is.
func (r Rules) RequiresAdmin(p string) bool {
	if !r.IsAdminPath(p) || r.IsOperational(p) {
		return false
	}
	if r.APIPrefix != "" && strings.HasPrefix(p, strings.TrimSuffix(r.AdminPrefix, "/")+r.APIPrefix) {
		return true
	}
	return !r.IsStatic(p)
}

// IsOperational reports whether p is a health or metrics endpoint.
func (r Rules) IsOperational(p string) bool {
	for _, o := range r.OperationalPaths {
		if p == o {
			return true
		}
	}
	return false
}

// IsExempt reports whether p is an API route or a static asset.
func (r Rules) IsExempt(p string) bool {
	if r.APIPrefix != "" && strings.HasPrefix(p, r.APIPrefix) {
		return true
	}
	return r.IsStatic(p)
}

// IsStatic reports whether p names a static asset by prefix or extension.
func (r Rules) IsStatic(p string) bool {
	for _, prefix := range r.StaticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range r.StaticExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsAllowListed reports whether p belongs to the authentication flow.
func (r Rules) IsAllowListed(p string) bool {
	for _, a := range r.AuthPaths {
		if p == a {
			return true
		}
	}
	return r.AuthPrefix != "" && strings.HasPrefix(p, r.AuthPrefix)
}

// IsMobile classifies a User-Agent by case-insensitive token match.
func (r Rules) IsMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, token := range r.MobileTokens {
		if token != "" && strings.Contains(ua, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

func (r Rules) loginLocation(original string) string {
	return r.LoginPath + "?" + url.Values{"next": {original}}.Encode()
}
