// Package router assembles the HTTP surface: the middleware chain, the
// authentication gateway and the endpoint table.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pehchan-id/pehchan/internal/cache"
	"github.com/pehchan-id/pehchan/internal/config"
	"github.com/pehchan-id/pehchan/internal/httpx/controllers/authn"
	mfactrl "github.com/pehchan-id/pehchan/internal/httpx/controllers/mfa"
	"github.com/pehchan-id/pehchan/internal/httpx/controllers/passkey"
	"github.com/pehchan-id/pehchan/internal/httpx/controllers/sso"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	mw "github.com/pehchan-id/pehchan/internal/httpx/middlewares"
)

// Deps are the assembled controllers plus the cross-cutting pieces the
// router wires in front of them.
type Deps struct {
	Config  *config.Config
	Cache   cache.Client
	Gateway *mw.Gateway

	Authn   *authn.Controller
	MFA     *mfactrl.Controller
	Passkey *passkey.Controller
	SSO     *sso.Controller
}

// New builds the handler tree. Order matters: the request id must exist
// before logging can tag with it, recovery sits inside logging so a
// panic still produces a log line, and the gateway runs last so every
// response it issues carries the ambient headers.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithMetrics(),
		mw.WithRecover(),
		mw.WithSecurityHeaders(),
		mw.WithCORS(deps.Config.Server.CORSAllowedOrigins),
		deps.Gateway.Middleware(),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})

	r.Get("/healthz", healthHandler)

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/authorize", deps.Authn.Authorize)
		r.Get("/callback", deps.Authn.Callback)
		r.With(loginLimiter(deps)).Post("/login", deps.Authn.Login)
		r.Post("/logout", deps.Authn.Logout)
		r.Get("/check", deps.Authn.Check)
		r.Get("/refresh", deps.Authn.Refresh)
		r.Post("/signup", deps.Authn.Signup)
		r.Get("/userinfo", deps.Authn.UserInfo)
		r.Get("/sessions", deps.Authn.Sessions)
		r.Post("/forgot-password", deps.Authn.ForgotPassword)
		r.Post("/reset-password", deps.Authn.ResetPassword)
		r.Post("/change-password", deps.Authn.ChangePassword)

		r.Post("/passkey", deps.Passkey.Handle)

		r.Route("/2fa", func(r chi.Router) {
			r.Post("/setup", deps.MFA.Setup)
			r.With(mfaLimiter(deps)).Post("/verify", deps.MFA.Confirm)
			r.With(mfaLimiter(deps)).Post("/verify-login", deps.MFA.VerifyLogin)
			r.Get("/status", deps.MFA.Status)
			r.Delete("/", deps.MFA.Disable)
		})
	})

	r.Post("/api/sso/register", deps.SSO.Register)
	r.Post("/api/internal/sso/token", deps.SSO.Token)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loginLimiter throttles credential guessing per source IP.
func loginLimiter(deps Deps) func(http.Handler) http.Handler {
	if !deps.Config.Rate.Enabled {
		return passThrough
	}
	return mw.WithRateLimit(deps.Cache, mw.Limit{
		Requests: deps.Config.Rate.Login.Limit,
		Window:   parseWindow(deps.Config.Rate.Login.Window),
	}, mw.IPRateKey)
}

// mfaLimiter throttles code guessing per source IP.
func mfaLimiter(deps Deps) func(http.Handler) http.Handler {
	if !deps.Config.Rate.Enabled {
		return passThrough
	}
	return mw.WithRateLimit(deps.Cache, mw.Limit{
		Requests: deps.Config.Rate.MFAVerify.Limit,
		Window:   parseWindow(deps.Config.Rate.MFAVerify.Window),
	}, mw.IPRateKey)
}

func passThrough(next http.Handler) http.Handler { return next }

func parseWindow(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}
