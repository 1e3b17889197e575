// Package passkey contains the WebAuthn ceremony controller. The
// broker never validates authenticator material itself; every phase is
// relayed to the provider and only the session side effects happen
// here.
package passkey

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/passkey"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/metrics"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/session"
	"github.com/pehchan-id/pehchan/internal/webauthn"
)

const maxBodySize = 256 * 1024 // attestation payloads are large

// Deps wires the controller.
type Deps struct {
	Broker   *webauthn.Broker
	Sessions *session.Store
}

// Controller serves POST /api/auth/passkey, multiplexing the four
// ceremony phases on the action field.
type Controller struct {
	deps Deps
}

// NewController creates the passkey controller.
func NewController(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// Handle dispatches one ceremony phase.
func (c *Controller) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("passkey.Handle"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}

	log = log.With(logger.String("action", req.Action))

	switch req.Action {
	case dto.ActionRegister:
		if !c.requireSession(w, r) {
			return
		}
		relay, err := c.deps.Broker.BeginRegistration(ctx, req.Username)
		if err != nil {
			c.writeCeremonyError(w, log, err)
			return
		}
		helpers.WriteJSON(w, http.StatusOK, relay)

	case dto.ActionRegisterFinish:
		if !c.requireSession(w, r) {
			return
		}
		relay, err := c.deps.Broker.FinishRegistration(ctx, req.Username, req.Credential)
		if err != nil {
			c.writeCeremonyError(w, log, err)
			return
		}
		log.Info("passkey registered")
		helpers.WriteJSON(w, http.StatusOK, relay)

	case dto.ActionAuthenticate:
		ch, err := c.deps.Broker.BeginAuthentication(ctx, req.Username, r.Header.Get("Origin"))
		if err != nil {
			c.writeCeremonyError(w, log, err)
			return
		}
		helpers.WriteJSON(w, http.StatusOK, dto.ChallengeResponse{
			Challenge:        ch.Challenge,
			RPID:             ch.RPID,
			Type:             ch.Type,
			UserVerification: ch.UserVerification,
		})

	case dto.ActionAuthenticateFinish:
		tr, err := c.deps.Broker.FinishAuthentication(ctx, req.Username, req.Credential)
		if err != nil {
			metrics.CountLogin("passkey", "failure")
			c.writeCeremonyError(w, log, err)
			return
		}
		sess := c.deps.Sessions.Write(w, tr)
		metrics.CountLogin("passkey", "success")
		log.Info("passkey login completed", logger.Subject(sess.Subject))
		w.Header().Set("Cache-Control", "no-store")
		helpers.WriteJSON(w, http.StatusOK, dto.AuthenticatedResponse{
			IsAuthenticated: true,
			Message:         "Login successful",
		})

	default:
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("unknown action"))
	}
}

// requireSession gates the registration phases. Adding a passkey binds
// a credential to an account, so only an authenticated citizen may do
// it; the authentication phases stay open because they are the login.
func (c *Controller) requireSession(w http.ResponseWriter, r *http.Request) bool {
	sess, ok := c.deps.Sessions.Current(r)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return false
	}
	if sess.Expired() {
		httperrors.WriteError(w, httperrors.ErrSessionExpired)
		return false
	}
	return true
}

func (c *Controller) writeCeremonyError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, webauthn.ErrMissingUsername),
		errors.Is(err, webauthn.ErrIncompleteCredential):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail(err.Error()))

	case errors.Is(err, webauthn.ErrCeremonyRejected):
		log.Warn("ceremony rejected upstream", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrProviderRejected)

	case errors.Is(err, webauthn.ErrChallengeNotFound), provider.IsMalformed(err):
		log.Error("provider response unusable", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrMalformedProviderResponse)

	case errors.Is(err, provider.ErrUnreachable):
		httperrors.WriteError(w, httperrors.ErrProviderUnreachable)

	default:
		if rejected, ok := provider.AsRejected(err); ok {
			log.Warn("token issuance rejected", logger.String("code", rejected.Code))
			httperrors.WriteError(w, httperrors.ErrProviderRejected.WithDetail(rejected.Code))
			return
		}
		log.Error("ceremony failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
	}
}
