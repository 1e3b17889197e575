package authn

import (
	"net/http"
	"time"

	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/authn"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// Sessions handles GET /api/auth/sessions: the citizen's active SSO
// sessions across all relying parties, read from the provider's admin
// API.
func (c *Controller) Sessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.Sessions"))

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	sess, ok := c.deps.Sessions.Current(r)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	// The cookie's sub claim is unverified; let the provider confirm
	// the token before admin data is read on its behalf.
	info, err := c.deps.Provider.FetchUserInfo(ctx, sess.AccessToken)
	if err != nil {
		log.Debug("userinfo rejected", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrUnauthorized.WithDetail("invalid token"))
		return
	}

	upstream, err := c.deps.Registry.ListSessions(ctx, info.Sub)
	if err != nil {
		log.Error("session listing failed", logger.Subject(info.Sub), logger.Err(err))
		writeAuthError(w, err)
		return
	}

	out := make([]dto.SessionInfo, 0, len(upstream))
	for _, s := range upstream {
		item := dto.SessionInfo{
			Active:     true,
			Started:    time.UnixMilli(s.Start),
			LastAccess: time.UnixMilli(s.LastAccess),
			IPAddress:  s.IPAddress,
		}
		for id, name := range s.Clients {
			item.ClientID = id
			item.ClientName = name
			break
		}
		out = append(out, item)
	}

	helpers.WriteJSON(w, http.StatusOK, dto.SessionsResponse{Sessions: out})
}
