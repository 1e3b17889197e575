package authn

import (
	"net/http"

	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/authn"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// Logout handles POST /api/auth/logout. The upstream end-session call
// is best effort; the cookies are gone either way.
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.Logout"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	c.deps.Sessions.Logout(ctx, w, r)
	log.Info("logged out")

	helpers.WriteJSON(w, http.StatusOK, dto.LogoutResponse{Message: "Logged out successfully"})
}
