package authn

import (
	"net/http"

	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/metrics"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// Callback handles GET /api/auth/callback, the provider's return leg.
// The attempt is consumed no matter how the exchange ends.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.Callback"))

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	out, err := c.deps.Coordinator.Complete(ctx, w, r, q.Get("code"), q.Get("state"))
	if err != nil {
		metrics.CountLogin("code", "failure")
		log.Warn("callback failed", logger.Err(err))
		writeAuthError(w, err)
		return
	}

	metrics.CountLogin("code", "success")
	if out.FirstParty {
		log.Info("first-party session established", logger.Subject(out.Session.Subject))
	} else {
		log.Info("relying-party redirect issued")
	}
	http.Redirect(w, r, out.RedirectURL, http.StatusFound)
}
