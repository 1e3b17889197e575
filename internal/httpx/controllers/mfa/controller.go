// Package mfa contains the second-factor controllers: enrollment,
// confirmation, step-up verification and status.
package mfa

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	dtomfa "github.com/pehchan-id/pehchan/internal/httpx/dto/mfa"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/metrics"
	"github.com/pehchan-id/pehchan/internal/mfa"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/session"
)

const maxBodySize = 8 * 1024 // 8KB, the payloads here are a single code

// Deps wires the controller.
type Deps struct {
	Service  mfa.Service
	Sessions *session.Store
	Marker   *session.StepUpMarker
}

// Controller serves the /api/auth/2fa endpoints.
type Controller struct {
	deps Deps
}

// NewController creates the second-factor controller.
func NewController(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// subject resolves the calling citizen from the session cookies. The
// 2fa endpoints sit under the public /api/auth prefix, so they
// authenticate themselves instead of relying on the gateway.
func (c *Controller) subject(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := c.deps.Sessions.Current(r)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return nil, false
	}
	if sess.Expired() {
		httperrors.WriteError(w, httperrors.ErrSessionExpired)
		return nil, false
	}
	return sess, true
}

func readCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dtomfa.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return "", false
	}
	if req.Code == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("code is required"))
		return "", false
	}
	return req.Code, true
}

// Setup handles POST /api/auth/2fa/setup: provisions a fresh secret
// and returns it with the otpauth URL for the QR code.
func (c *Controller) Setup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.Setup"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}
	sess, ok := c.subject(w, r)
	if !ok {
		return
	}

	enr, err := c.deps.Service.Setup(ctx, sess.Subject, sess.Email)
	if err != nil {
		log.Error("enrollment setup failed", logger.Subject(sess.Subject), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
		return
	}

	log.Info("second factor provisioned", logger.Subject(sess.Subject))
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, dtomfa.SetupResponse{
		Secret:    enr.Secret,
		QRCodeURL: enr.OTPAuthURL,
	})
}

// Confirm handles POST /api/auth/2fa/verify: the first code after
// setup. On success the enrollment is enabled and the backup codes are
// returned, this once.
func (c *Controller) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.Confirm"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}
	sess, ok := c.subject(w, r)
	if !ok {
		return
	}
	code, ok := readCode(w, r)
	if !ok {
		return
	}

	conf, err := c.deps.Service.Confirm(ctx, sess.Subject, code)
	if err != nil {
		c.writeVerifyError(w, log, sess.Subject, err)
		return
	}

	log.Info("second factor enabled", logger.Subject(sess.Subject))
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, dtomfa.ConfirmResponse{
		Success:     true,
		BackupCodes: conf.BackupCodes,
	})
}

// VerifyLogin handles POST /api/auth/2fa/verify-login, the step-up
// challenge. A good code (TOTP or backup) mints the step-up marker
// cookie the gateway looks for.
func (c *Controller) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.VerifyLogin"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}
	sess, ok := c.subject(w, r)
	if !ok {
		return
	}
	code, ok := readCode(w, r)
	if !ok {
		return
	}

	if err := c.deps.Service.Verify(ctx, sess.Subject, code); err != nil {
		metrics.CountStepUp("failure")
		c.writeVerifyError(w, log, sess.Subject, err)
		return
	}
	if err := c.deps.Marker.Issue(w, sess.Subject); err != nil {
		log.Error("marker issuance failed", logger.Subject(sess.Subject), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
		return
	}

	metrics.CountStepUp("success")
	log.Info("step-up verified", logger.Subject(sess.Subject))
	helpers.WriteJSON(w, http.StatusOK, dtomfa.VerifyResponse{Success: true})
}

// Status handles GET /api/auth/2fa/status.
func (c *Controller) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}
	sess, ok := c.subject(w, r)
	if !ok {
		return
	}

	enabled, err := c.deps.Service.Enabled(r.Context(), sess.Subject)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dtomfa.StatusResponse{Enabled: enabled})
}

// Disable handles DELETE /api/auth/2fa: drops the enrollment and all
// backup codes.
func (c *Controller) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("mfa.Disable"))

	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}
	sess, ok := c.subject(w, r)
	if !ok {
		return
	}

	if err := c.deps.Service.Disable(ctx, sess.Subject); err != nil {
		log.Error("disable failed", logger.Subject(sess.Subject), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
		return
	}

	log.Info("second factor disabled", logger.Subject(sess.Subject))
	helpers.WriteJSON(w, http.StatusOK, dtomfa.VerifyResponse{Success: true})
}

func (c *Controller) writeVerifyError(w http.ResponseWriter, log *zap.Logger, subject string, err error) {
	switch {
	case errors.Is(err, mfa.ErrNotEnrolled):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("second factor is not set up"))
	case errors.Is(err, mfa.ErrBadCode):
		log.Info("bad verification code", logger.Subject(subject))
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("invalid code"))
	default:
		log.Error("verification failed", logger.Subject(subject), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
	}
}
