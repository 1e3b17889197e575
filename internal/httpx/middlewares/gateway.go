package middlewares

import (
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/mfa"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/session"
)

// GatewayDeps wires the authentication gateway.
type GatewayDeps struct {
	Sessions *session.Store
	Marker   *session.StepUpMarker
	Gate     *mfa.Gate

	LoginPath     string
	DashboardPath string
	StepUpPath    string
}

// Gateway is the single chokepoint for inbound requests: it classifies
// the path, requires a live session on protected ones (with one refresh
// attempt), enforces step-up, and forwards with the session in context.
type Gateway struct {
	deps GatewayDeps

	publicExact    map[string]struct{}
	publicPrefixes []string
}

func NewGateway(deps GatewayDeps) *Gateway {
	if deps.LoginPath == "" {
		deps.LoginPath = "/login"
	}
	if deps.DashboardPath == "" {
		deps.DashboardPath = "/dashboard"
	}
	if deps.StepUpPath == "" {
		deps.StepUpPath = "/auth/2fa-verify"
	}
	return &Gateway{
		deps: deps,
		publicExact: map[string]struct{}{
			"/":                {},
			deps.LoginPath:     {},
			"/signup":          {},
			"/forgot-password": {},
			"/reset-password":  {},
			deps.StepUpPath:    {},
			"/favicon.ico":     {},
			"/healthz":         {},
			"/metrics":         {},
		},
		publicPrefixes: []string{"/api/auth/", "/static/", "/assets/"},
	}
}

// Public reports whether the path skips authentication.
func (g *Gateway) Public(path string) bool {
	if _, ok := g.publicExact[path]; ok {
		return true
	}
	for _, p := range g.publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Middleware returns the gateway as a chain element.
func (g *Gateway) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	path := r.URL.Path
	sess, ok := g.deps.Sessions.Current(r)

	if g.Public(path) {
		// A live session on the login or signup page loops straight
		// back to the dashboard.
		if ok && !sess.Expired() && (path == g.deps.LoginPath || path == "/signup") {
			http.Redirect(w, r, g.deps.DashboardPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
		return
	}

	if !ok {
		http.Redirect(w, r, g.deps.LoginPath, http.StatusFound)
		return
	}

	if sess.Expired() {
		refreshed, err := g.deps.Sessions.Refresh(r.Context(), w, sess.RefreshToken)
		switch {
		case err == nil:
			sess = refreshed
		case errors.Is(err, provider.ErrUnreachable):
			// Infrastructure fault: retryable, never a login redirect.
			httperrors.WriteError(w, httperrors.ErrProviderUnreachable)
			return
		default:
			g.deps.Sessions.Clear(w)
			http.Redirect(w, r, g.deps.LoginPath, http.StatusFound)
			return
		}
	}

	if sess.Subject != "" && g.deps.Gate != nil {
		need, err := g.deps.Gate.Require(r.Context(), sess.Subject)
		if err != nil {
			httperrors.WriteError(w, httperrors.ErrInternal)
			return
		}
		if need && g.deps.Marker.Verify(r, sess.Subject) != nil {
			logger.From(r.Context()).Debug("step-up required",
				logger.Component("gateway"),
				logger.Subject(sess.Subject))
			// A fetch against an API route cannot follow a page
			// redirect; it gets the error body instead.
			if strings.HasPrefix(path, "/api/") {
				httperrors.WriteError(w, httperrors.ErrStepUpRequired)
				return
			}
			http.Redirect(w, r, g.deps.StepUpPath, http.StatusFound)
			return
		}
	}

	next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
}
