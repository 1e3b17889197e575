// Package sso contains partner onboarding and the internal token
// delegation endpoint.
package sso

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/pehchan-id/pehchan/internal/authz"
	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/sso"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/provider/admin"
	"github.com/pehchan-id/pehchan/internal/session"
)

const maxBodySize = 64 * 1024

// requiredScopes and grantTypes are fixed portal policy, returned to
// partners as part of the integration sheet.
var (
	requiredScopes = []string{"openid", "profile", "email"}
	grantTypes     = []string{"authorization_code", "refresh_token"}
)

// Deps wires the controller.
type Deps struct {
	Coordinator *authz.Coordinator
	Registry    *admin.Registry
	Provider    *provider.Client
	Sessions    *session.Store
}

// Controller serves /api/sso/register and /api/internal/sso/token.
type Controller struct {
	deps Deps
}

// NewController creates the SSO controller.
func NewController(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// Register handles POST /api/sso/register: creates a confidential
// client upstream and hands the generated secret back, exactly once.
func (c *Controller) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("sso.Register"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}

	if req.ClientID == "" || len(req.RedirectURIs) == 0 {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("clientId and redirectUris are required"))
		return
	}
	for _, raw := range req.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			httperrors.WriteError(w, httperrors.ErrInvalidRedirectURI.WithDetail(raw))
			return
		}
	}

	log = log.With(logger.ClientID(req.ClientID))

	if _, err := c.deps.Registry.FindClient(ctx, req.ClientID); err == nil {
		httperrors.WriteError(w, httperrors.ErrAlreadyExists.WithDetail("client id already exists"))
		return
	} else if !errors.Is(err, admin.ErrClientNotFound) {
		log.Error("client lookup failed", logger.Err(err))
		writeAdminError(w, err)
		return
	}

	_, secret, err := c.deps.Registry.CreateClient(ctx, req.ClientID, req.RedirectURIs, req.AllowedOrigins, req.Scopes)
	if err != nil {
		log.Error("client creation failed", logger.Err(err))
		writeAdminError(w, err)
		return
	}

	log.Info("relying party registered")
	ep := c.deps.Provider.Endpoints
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusCreated, dto.RegisterResponse{
		Success:      true,
		ClientID:     req.ClientID,
		ClientSecret: secret,
		Message:      "Client registered successfully",
		Config: dto.ClientConfig{
			AuthorizationEndpoint: ep.Authorize(),
			TokenEndpoint:         ep.Token(),
			UserinfoEndpoint:      ep.UserInfo(),
			EndSessionEndpoint:    ep.Logout(),
			RequiredScopes:        requiredScopes,
			GrantTypes:            grantTypes,
		},
	})
}

// Token handles POST /api/internal/sso/token. A first-party backend
// service presents the portal's own client credentials plus the
// browser's cookies, and receives a token set delegated from the
// citizen's session (RFC 8693 token exchange).
func (c *Controller) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("sso.Token"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}

	sess, ok := c.deps.Sessions.Current(r)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrUnauthorized.WithDetail("no active session"))
		return
	}

	if !credentialsMatch(req, c.deps.Provider) {
		log.Warn("delegation with bad client credentials", logger.ClientID(req.ClientID))
		httperrors.WriteError(w, httperrors.ErrClientAuthFailed)
		return
	}

	tr, err := c.deps.Coordinator.Delegate(ctx, sess.AccessToken, "")
	if err != nil {
		log.Warn("token exchange failed", logger.Err(err))
		writeAdminError(w, err)
		return
	}

	log.Info("session token delegated", logger.Subject(sess.Subject))
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, dto.TokenResponse{
		AccessToken:  tr.AccessToken,
		ExpiresIn:    tr.ExpiresIn,
		RefreshToken: tr.RefreshToken,
	})
}

func credentialsMatch(req dto.TokenRequest, pc *provider.Client) bool {
	idOK := subtle.ConstantTimeCompare([]byte(req.ClientID), []byte(pc.ClientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(pc.ClientSecret)) == 1
	return idOK && secretOK
}

// writeAdminError maps provider and admin-API failures.
func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrUnreachable):
		httperrors.WriteError(w, httperrors.ErrProviderUnreachable)
	case provider.IsMalformed(err):
		httperrors.WriteError(w, httperrors.ErrMalformedProviderResponse)
	default:
		if rejected, ok := provider.AsRejected(err); ok {
			httperrors.WriteError(w, httperrors.ErrProviderRejected.WithDetail(rejected.Code))
			return
		}
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
	}
}
