package authn

import (
	"errors"
	"net/http"

	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/authn"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/metrics"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/profile"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/session"
)

// Refresh handles GET /api/auth/refresh. It rotates the token set and
// revalidates the citizen through userinfo; a refusal anywhere along
// the way demotes the caller to unauthenticated instead of erroring.
// Only an unreachable provider is surfaced, so a network blip is never
// mistaken for a dead session.
func (c *Controller) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.Refresh"))

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	ck, err := r.Cookie(session.CookieRefreshToken)
	if err != nil || ck.Value == "" {
		helpers.WriteJSON(w, http.StatusOK, dto.RefreshResponse{})
		return
	}

	sess, err := c.deps.Sessions.Refresh(ctx, w, ck.Value)
	if err != nil {
		if errors.Is(err, provider.ErrUnreachable) {
			metrics.CountRefresh("unreachable")
			log.Error("provider unreachable during refresh", logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrProviderUnreachable)
			return
		}
		metrics.CountRefresh("rejected")
		log.Info("refresh rejected, clearing session", logger.Err(err))
		c.deps.Sessions.Clear(w)
		helpers.WriteJSON(w, http.StatusOK, dto.RefreshResponse{})
		return
	}

	info, err := c.deps.Provider.FetchUserInfo(ctx, sess.AccessToken)
	if err != nil {
		metrics.CountRefresh("rejected")
		log.Warn("userinfo after refresh failed", logger.Err(err))
		c.deps.Sessions.Clear(w)
		helpers.WriteJSON(w, http.StatusOK, dto.RefreshResponse{})
		return
	}

	metrics.CountRefresh("success")
	user := userFromClaims(info)
	if p, err := c.deps.Profiles.GetProfile(ctx, info.Sub); err == nil {
		user.Profile = profileDTO(p)
	} else if !errors.Is(err, profile.ErrNotFound) {
		// A missing profile row is normal; a store failure is not,
		// but it does not invalidate the refreshed session.
		log.Error("profile lookup failed", logger.Subject(info.Sub), logger.Err(err))
	}

	helpers.WriteJSON(w, http.StatusOK, dto.RefreshResponse{
		IsAuthenticated: true,
		User:            user,
	})
}

func userFromClaims(info *provider.UserInfo) *dto.User {
	return &dto.User{
		Sub:               info.Sub,
		Email:             info.Email,
		EmailVerified:     info.EmailVerified,
		Name:              info.Name,
		PreferredUsername: info.PreferredUsername,
		GivenName:         info.GivenName,
		FamilyName:        info.FamilyName,
	}
}

func profileDTO(p *profile.Profile) *dto.Profile {
	return &dto.Profile{
		Email:     p.Email,
		FullName:  p.FullName,
		Phone:     p.Phone,
		CNIC:      p.CNIC,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
