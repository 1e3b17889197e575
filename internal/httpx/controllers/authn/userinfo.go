package authn

import (
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/profile"
	"github.com/pehchan-id/pehchan/internal/provider"
)

// UserInfo handles GET /api/auth/userinfo. Unlike the cookie-based
// endpoints this one authenticates with a bearer token so relying
// parties can call it with tokens obtained over SSO.
func (c *Controller) UserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.UserInfo"))

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		httperrors.WriteError(w, httperrors.ErrUnauthorized.WithDetail("missing or invalid token"))
		return
	}
	token := strings.TrimPrefix(auth, "Bearer ")

	info, err := c.deps.Provider.FetchUserInfo(ctx, token)
	if err != nil {
		if errors.Is(err, provider.ErrUnreachable) {
			httperrors.WriteError(w, httperrors.ErrProviderUnreachable)
			return
		}
		log.Debug("userinfo rejected", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrUnauthorized.WithDetail("invalid token"))
		return
	}

	user := userFromClaims(info)
	if p, err := c.deps.Profiles.GetProfile(ctx, info.Sub); err == nil {
		user.Profile = profileDTO(p)
	} else if !errors.Is(err, profile.ErrNotFound) {
		log.Error("profile lookup failed", logger.Subject(info.Sub), logger.Err(err))
	}

	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, user)
}
