// Package authz drives the authorization-code pipeline: attempt
// creation at /authorize, completion at /callback, the password-grant
// SSO variant, and subject-token delegation. It owns no storage; the
// attempt lives in short-lived cookies and tokens come back as session
// cookies or redirect parameters.
package authz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/provider/admin"
	"github.com/pehchan-id/pehchan/internal/session"
)

// Coordinator errors. Controllers translate these into the HTTP error
// taxonomy; none of them ever carries raw provider text.
var (
	ErrMissingParams         = errors.New("authz: client_id and redirect_uri are required")
	ErrStateMismatch         = errors.New("authz: state mismatch")
	ErrMissingCode           = errors.New("authz: authorization code missing")
	ErrNoAttempt             = errors.New("authz: no authorization attempt in flight")
	ErrClientNoSecret        = errors.New("authz: relying party has no secret configured")
	ErrRedirectNotRegistered = errors.New("authz: redirect_uri is not registered for the client")
)

// Deps wires the coordinator.
type Deps struct {
	Provider *provider.Client
	Registry *admin.Registry
	Sessions *session.Store
	Attempts *session.AttemptStore

	// PortalClientID marks first-party flows; any other client_id is
	// a third-party relying party resolved through the registry.
	PortalClientID string
	// CallbackURL is the broker's own callback, the redirect_uri the
	// provider saw at authorization time and expects back at exchange.
	CallbackURL string
	// LoginPath is where Begin redirects the browser (portal login UI).
	LoginPath string
	// DashboardPath is the first-party landing page after callback.
	DashboardPath string
}

// Coordinator implements the authorize → login → callback pipeline.
type Coordinator struct {
	deps Deps
}

func NewCoordinator(deps Deps) *Coordinator {
	if deps.LoginPath == "" {
		deps.LoginPath = "/login"
	}
	if deps.DashboardPath == "" {
		deps.DashboardPath = "/dashboard"
	}
	return &Coordinator{deps: deps}
}

// BeginRequest are the /authorize query parameters. State is the
// relying party's own CSRF value, echoed back on the final redirect.
// ProviderLogin sends the browser to the provider's hosted login
// instead of the portal's credential form.
type BeginRequest struct {
	ClientID      string
	RedirectURI   string
	ServiceName   string
	State         string
	ProviderLogin bool
}

// Begin validates the request, creates a single-use attempt in cookies
// and returns the login-page URL the browser is sent to. ServiceName
// is carried for display only.
func (c *Coordinator) Begin(ctx context.Context, w http.ResponseWriter, req BeginRequest) (string, error) {
	if req.ClientID == "" || req.RedirectURI == "" {
		return "", ErrMissingParams
	}

	state, err := randToken(32)
	if err != nil {
		return "", err
	}
	nonce, err := randToken(32)
	if err != nil {
		return "", err
	}

	att := session.Attempt{
		State:       state,
		Nonce:       nonce,
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		ClientState: req.State,
	}

	// PKCE binds the code for relying parties whose callback leaves
	// the portal's own origin.
	if req.ClientID != c.deps.PortalClientID {
		verifier, err := randToken(48)
		if err != nil {
			return "", err
		}
		att.CodeVerifier = verifier
	}

	c.deps.Attempts.Save(w, att)

	var dest string
	if req.ProviderLogin {
		dest = c.ProviderAuthorizeURL(att, c.deps.CallbackURL)
	} else {
		q := url.Values{}
		if req.ServiceName != "" {
			q.Set("service_name", req.ServiceName)
		}
		dest = c.deps.LoginPath
		if len(q) > 0 {
			dest += "?" + q.Encode()
		}
	}

	logger.From(ctx).Info("authorization attempt created",
		logger.Layer("service"),
		logger.Component("authz"),
		logger.ClientID(req.ClientID),
		logger.RedirectURI(req.RedirectURI))
	return dest, nil
}

// Outcome is a completed callback: either a relying-party redirect
// carrying tokens, or first-party cookies plus a dashboard redirect.
type Outcome struct {
	RedirectURL string
	FirstParty  bool
	Session     *session.Session
}

// Complete consumes the attempt at /callback. The attempt cookies are
// deleted before anything else so a replayed callback always fails.
func (c *Coordinator) Complete(ctx context.Context, w http.ResponseWriter, r *http.Request, code, returnedState string) (*Outcome, error) {
	att, ok := c.deps.Attempts.Load(r)
	c.deps.Attempts.Delete(w)
	if !ok {
		return nil, ErrNoAttempt
	}

	if subtle.ConstantTimeCompare([]byte(att.State), []byte(returnedState)) != 1 {
		logger.From(ctx).Warn("state mismatch at callback",
			logger.Layer("service"),
			logger.Component("authz"),
			logger.ClientID(att.ClientID))
		return nil, ErrStateMismatch
	}
	if code == "" {
		return nil, ErrMissingCode
	}

	params := provider.ExchangeParams{
		GrantType:    provider.GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  c.deps.CallbackURL,
		CodeVerifier: att.CodeVerifier,
		Scope:        provider.DefaultScope,
	}

	firstParty := att.ClientID == c.deps.PortalClientID
	if !firstParty {
		// The attempt travels in client-writable cookies, so the URI
		// redeemed here must be checked against the registered set even
		// though /authorize already validated what it saw.
		if err := c.validateRedirect(ctx, att.ClientID, att.RedirectURI); err != nil {
			return nil, err
		}
		secret, err := c.resolveSecret(ctx, att.ClientID)
		if err != nil {
			return nil, err
		}
		params.ClientID = att.ClientID
		params.ClientSecret = secret
	}

	tr, err := c.deps.Provider.Exchange(ctx, params)
	if err != nil {
		return nil, err
	}

	if firstParty {
		sess := c.deps.Sessions.Write(w, tr)
		logger.From(ctx).Info("first-party login completed",
			logger.Layer("service"),
			logger.Component("authz"),
			logger.Subject(sess.Subject))
		return &Outcome{RedirectURL: c.deps.DashboardPath, FirstParty: true, Session: sess}, nil
	}

	dest, err := appendTokens(att.RedirectURI, tr, att.ClientState)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("relying-party login completed",
		logger.Layer("service"),
		logger.Component("authz"),
		logger.ClientID(att.ClientID))
	return &Outcome{RedirectURL: dest}, nil
}

// LoginRequest is the credential-form login, optionally on behalf of a
// relying party.
type LoginRequest struct {
	Username    string
	Password    string
	ClientID    string
	RedirectURI string
	State       string
}

// LoginResult reports either an established first-party session or the
// relying-party redirect to send the browser to.
type LoginResult struct {
	RedirectURL string
	FirstParty  bool
	Session     *session.Session
}

// PasswordLogin performs a password grant. With a ClientID the call
// acts for that relying party: its secret is resolved through the
// registry and tokens leave via redirect instead of cookies.
func (c *Coordinator) PasswordLogin(ctx context.Context, w http.ResponseWriter, req LoginRequest) (*LoginResult, error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrMissingParams
	}

	params := provider.ExchangeParams{
		GrantType: provider.GrantPassword,
		Username:  req.Username,
		Password:  req.Password,
		Scope:     provider.DefaultScope,
	}

	// A relying-party client_id always means its own credentials at
	// the token endpoint. Tokens leave via redirect only when the
	// relying party also named a destination.
	thirdParty := req.ClientID != "" && req.ClientID != c.deps.PortalClientID
	if thirdParty {
		secret, err := c.resolveSecret(ctx, req.ClientID)
		if err != nil {
			return nil, err
		}
		params.ClientID = req.ClientID
		params.ClientSecret = secret
	}
	sso := thirdParty && req.RedirectURI != ""

	tr, err := c.deps.Provider.Exchange(ctx, params)
	if err != nil {
		return nil, err
	}

	if sso {
		dest, err := appendTokens(req.RedirectURI, tr, req.State)
		if err != nil {
			return nil, err
		}
		return &LoginResult{RedirectURL: dest}, nil
	}

	sess := c.deps.Sessions.Write(w, tr)
	logger.From(ctx).Info("password login completed",
		logger.Layer("service"),
		logger.Component("authz"),
		logger.Subject(sess.Subject))
	return &LoginResult{FirstParty: true, Session: sess}, nil
}

// Delegate trades a subject token for one scoped to another audience
// (RFC 8693). Used by trusted internal services only.
func (c *Coordinator) Delegate(ctx context.Context, subjectToken, audience string) (*provider.TokenResponse, error) {
	if subjectToken == "" {
		return nil, ErrMissingParams
	}
	return c.deps.Provider.Exchange(ctx, provider.ExchangeParams{
		GrantType:    provider.GrantTokenExchange,
		SubjectToken: subjectToken,
		Audience:     audience,
	})
}

// validateRedirect checks the attempt's redirect URI against the
// relying party's registered set.
func (c *Coordinator) validateRedirect(ctx context.Context, clientID, redirectURI string) error {
	err := c.deps.Registry.ValidateRedirectURI(ctx, clientID, redirectURI)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, provider.ErrUnreachable):
		return err
	case errors.Is(err, admin.ErrClientNotFound):
		return ErrClientNoSecret
	default:
		return ErrRedirectNotRegistered
	}
}

// resolveSecret looks up a relying party's secret. A registered but
// secret-less (public) client is a configuration error for the flows
// that need one.
func (c *Coordinator) resolveSecret(ctx context.Context, clientID string) (string, error) {
	secret, err := c.deps.Registry.GetClientSecret(ctx, clientID)
	if err != nil {
		if errors.Is(err, admin.ErrNoSecret) || errors.Is(err, admin.ErrClientNotFound) {
			return "", ErrClientNoSecret
		}
		return "", err
	}
	return secret, nil
}

// appendTokens adds access_token, id_token and optional state to the
// relying party's redirect URI. Tokens are never persisted broker-side
// for third-party completions.
func appendTokens(redirectURI string, tr *provider.TokenResponse, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme == "" {
		return "", ErrMissingParams
	}
	q := u.Query()
	q.Set("access_token", tr.AccessToken)
	q.Set("id_token", tr.IDToken)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// randToken returns n random bytes, base64url without padding.
func randToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CodeChallenge derives the S256 challenge sent on the authorize
// redirect for PKCE-bound attempts.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ProviderAuthorizeURL builds the upstream authorization URL for
// attempts that continue at the provider's own login UI. The client_id
// on the authorize leg must match whoever redeems the code at callback.
func (c *Coordinator) ProviderAuthorizeURL(att session.Attempt, callbackURL string) string {
	clientID := att.ClientID
	if clientID == "" {
		clientID = c.deps.PortalClientID
	}
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "code")
	q.Set("scope", provider.DefaultScope)
	q.Set("redirect_uri", callbackURL)
	q.Set("state", att.State)
	if att.Nonce != "" {
		q.Set("nonce", att.Nonce)
	}
	if att.CodeVerifier != "" {
		q.Set("code_challenge", CodeChallenge(att.CodeVerifier))
		q.Set("code_challenge_method", "S256")
	}
	base := c.deps.Provider.Endpoints.Authorize()
	if strings.Contains(base, "?") {
		return base + "&" + q.Encode()
	}
	return base + "?" + q.Encode()
}
