// Package authn contains the controllers of the authentication surface:
// authorize, callback, login, logout, session check/refresh, signup,
// userinfo and the active-session listing.
package authn

import (
	"errors"
	"net/http"

	"github.com/pehchan-id/pehchan/internal/authz"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/profile"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/provider/admin"
	"github.com/pehchan-id/pehchan/internal/session"
)

const (
	maxBodySize     = 64 * 1024 // 64KB
	contentTypeJSON = "application/json; charset=utf-8"
)

// Deps wires the controller to the broker services.
type Deps struct {
	Coordinator *authz.Coordinator
	Sessions    *session.Store
	Provider    *provider.Client
	Registry    *admin.Registry
	Profiles    profile.Store
	Mailer      Mailer

	// ResetSecret signs password-reset tokens; ResetURL is the page the
	// emailed link points at.
	ResetSecret string
	ResetURL    string
}

// Controller serves the /api/auth endpoints.
type Controller struct {
	deps Deps
}

// NewController creates the authentication controller.
func NewController(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// writeAuthError maps coordinator and provider errors onto the stable
// HTTP error surface. Raw provider text never reaches the client.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrMissingParams):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("client_id and redirect_uri are required"))

	case errors.Is(err, authz.ErrNoAttempt), errors.Is(err, authz.ErrStateMismatch):
		httperrors.WriteError(w, httperrors.ErrStateMismatch)

	case errors.Is(err, authz.ErrMissingCode):
		httperrors.WriteError(w, httperrors.ErrMissingCode)

	case errors.Is(err, authz.ErrClientNoSecret):
		httperrors.WriteError(w, httperrors.ErrClientConfiguration)

	case errors.Is(err, authz.ErrRedirectNotRegistered):
		httperrors.WriteError(w, httperrors.ErrInvalidRedirectURI)

	case errors.Is(err, provider.ErrUnreachable):
		httperrors.WriteError(w, httperrors.ErrProviderUnreachable)

	case provider.IsMalformed(err):
		httperrors.WriteError(w, httperrors.ErrMalformedProviderResponse)

	default:
		if rejected, ok := provider.AsRejected(err); ok {
			writeRejected(w, rejected)
			return
		}
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
	}
}

// writeRejected translates the provider's OAuth error codes into the
// portal's friendlier equivalents.
func writeRejected(w http.ResponseWriter, rejected *provider.RejectedError) {
	switch rejected.Code {
	case "invalid_grant":
		httperrors.WriteError(w, httperrors.ErrInvalidCredentials)
	case "invalid_client", "unauthorized_client":
		httperrors.WriteError(w, httperrors.ErrClientAuthFailed)
	default:
		httperrors.WriteError(w, httperrors.ErrProviderRejected.WithDetail(rejected.Code))
	}
}
