package authn

import (
	"errors"
	"net/http"

	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/authz"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/provider/admin"
)

// Authorize handles GET /api/auth/authorize. It opens an authorization
// attempt and bounces the browser to the login page.
func (c *Controller) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.Authorize"))

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	req := authz.BeginRequest{
		ClientID:      q.Get("client_id"),
		RedirectURI:   q.Get("redirect_uri"),
		ServiceName:   q.Get("service_name"),
		State:         q.Get("state"),
		ProviderLogin: q.Get("provider_login") == "true",
	}

	// Third-party callbacks must be registered upstream before an
	// attempt is opened for them.
	if req.ClientID != "" && req.ClientID != c.deps.Provider.ClientID && req.RedirectURI != "" {
		if err := c.deps.Registry.ValidateRedirectURI(ctx, req.ClientID, req.RedirectURI); err != nil {
			if errors.Is(err, provider.ErrUnreachable) {
				httperrors.WriteError(w, httperrors.ErrProviderUnreachable)
				return
			}
			if errors.Is(err, admin.ErrClientNotFound) {
				log.Warn("authorize for unknown client", logger.ClientID(req.ClientID))
				httperrors.WriteError(w, httperrors.ErrClientConfiguration)
				return
			}
			log.Warn("redirect_uri not registered",
				logger.ClientID(req.ClientID), logger.RedirectURI(req.RedirectURI), logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrInvalidRedirectURI)
			return
		}
	}

	dest, err := c.deps.Coordinator.Begin(ctx, w, req)
	if err != nil {
		log.Warn("authorize rejected", logger.Err(err))
		writeAuthError(w, err)
		return
	}

	http.Redirect(w, r, dest, http.StatusFound)
}
