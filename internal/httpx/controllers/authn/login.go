package authn

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pehchan-id/pehchan/internal/authz"
	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/authn"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/metrics"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// Login handles POST /api/auth/login. Without a clientId the portal
// itself logs the citizen in and tokens land in cookies; with a
// clientId and redirectUri the grant runs for that relying party and
// the tokens leave via redirect.
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.Login"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.LoginRequest
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "application/json"):
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httperrors.WriteError(w, httperrors.ErrInvalidJSON)
			return
		}
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("invalid form"))
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
		req.ClientID = r.FormValue("clientId")
		req.RedirectURI = r.FormValue("redirectUri")
		req.State = r.FormValue("state")
	default:
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("unsupported content type"))
		return
	}

	if req.Username == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("username and password are required"))
		return
	}

	flow := "password"
	if req.ClientID != "" {
		flow = "sso"
		log = log.With(logger.ClientID(req.ClientID))
	}

	result, err := c.deps.Coordinator.PasswordLogin(ctx, w, authz.LoginRequest{
		Username:    req.Username,
		Password:    req.Password,
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		State:       req.State,
	})
	if err != nil {
		metrics.CountLogin(flow, "failure")
		log.Warn("login failed", logger.Err(err))
		writeAuthError(w, err)
		return
	}

	metrics.CountLogin(flow, "success")
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if !result.FirstParty {
		log.Info("sso login redirect issued")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(dto.SSORedirectResponse{Redirect: result.RedirectURL})
		return
	}

	log.Info("login successful", logger.Subject(result.Session.Subject))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(dto.LoginResponse{
		IsAuthenticated: true,
		Message:         "Login successful",
	})
}
