package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pehchan-id/pehchan/internal/metrics"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// Grant types the broker uses against the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantTokenExchange     = "urn:ietf:params:oauth:grant-type:token-exchange"

	// RFC 8693 token type identifiers used by the token-exchange grant.
	TokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	DefaultScope = "openid profile email"
)

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
}

// ExchangeParams describes one token-endpoint call. ClientID/ClientSecret
// override the broker's own credentials when a third-party relying party
// is the acting client.
type ExchangeParams struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// password
	Username string
	Password string

	// refresh_token
	RefreshToken string

	// token-exchange
	SubjectToken string
	Audience     string
}

// UserInfo is the subset of userinfo claims the portal consumes.
type UserInfo struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
}

// Client talks to the upstream provider. It is stateless and safe for
// concurrent use; construct one at startup and share it.
type Client struct {
	Endpoints    Endpoints
	ClientID     string
	ClientSecret string

	http *http.Client
}

// NewClient builds a provider client with a bounded-timeout transport.
func NewClient(endpoints Endpoints, clientID, clientSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		Endpoints:    endpoints,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		http:         &http.Client{Timeout: timeout},
	}
}

// HTTP exposes the underlying http.Client for collaborators that post to
// non-token realm endpoints (the WebAuthn broker).
func (c *Client) HTTP() *http.Client {
	return c.http
}

// Exchange posts a form-encoded grant to the token endpoint.
//
// The body is read as text first and JSON-decoded afterwards so a broken
// provider (HTML error page, truncated body) is reported as
// MalformedResponseError instead of being confused with a rejection.
func (c *Client) Exchange(ctx context.Context, p ExchangeParams) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", p.GrantType)
	form.Set("client_id", orDefault(p.ClientID, c.ClientID))
	if secret := orDefault(p.ClientSecret, c.ClientSecret); secret != "" {
		form.Set("client_secret", secret)
	}
	if p.Scope != "" {
		form.Set("scope", p.Scope)
	}

	switch p.GrantType {
	case GrantAuthorizationCode:
		form.Set("code", p.Code)
		form.Set("redirect_uri", p.RedirectURI)
		if p.CodeVerifier != "" {
			form.Set("code_verifier", p.CodeVerifier)
		}
	case GrantPassword:
		form.Set("username", p.Username)
		// Passkey issuance is password-grant-shaped with no password;
		// the field is omitted entirely in that case.
		if p.Password != "" {
			form.Set("password", p.Password)
		}
	case GrantRefreshToken:
		form.Set("refresh_token", p.RefreshToken)
	case GrantTokenExchange:
		form.Set("subject_token", p.SubjectToken)
		form.Set("subject_token_type", TokenTypeAccessToken)
		form.Set("requested_token_type", TokenTypeAccessToken)
		if p.Audience != "" {
			form.Set("audience", p.Audience)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoints.Token(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.CountProviderRequest("token", "unreachable")
		return nil, &transportError{cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.CountProviderRequest("token", "unreachable")
		return nil, &transportError{cause: err}
	}

	if resp.StatusCode/100 != 2 {
		var eb struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &eb) != nil || eb.Error == "" {
			metrics.CountProviderRequest("token", "malformed")
			return nil, &MalformedResponseError{Status: resp.StatusCode, Body: truncate(string(body), 256)}
		}
		logger.From(ctx).Debug("token endpoint rejection",
			logger.Layer("client"),
			logger.GrantType(p.GrantType),
			logger.String("provider_error", eb.Error))
		metrics.CountProviderRequest("token", "rejected")
		return nil, &RejectedError{Status: resp.StatusCode, Code: eb.Error, Description: eb.ErrorDescription}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		metrics.CountProviderRequest("token", "malformed")
		return nil, &MalformedResponseError{Status: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	metrics.CountProviderRequest("token", "success")
	return &tr, nil
}

// FetchUserInfo resolves the subject behind an access token. A 401 from
// the provider means the token is no longer valid.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoints.UserInfo(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.CountProviderRequest("userinfo", "unreachable")
		return nil, &transportError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		metrics.CountProviderRequest("userinfo", "rejected")
		return nil, &RejectedError{Status: resp.StatusCode, Code: "invalid_token"}
	}

	var ui UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		metrics.CountProviderRequest("userinfo", "malformed")
		return nil, &MalformedResponseError{Status: resp.StatusCode}
	}
	if ui.Sub == "" {
		metrics.CountProviderRequest("userinfo", "malformed")
		return nil, &MalformedResponseError{Status: resp.StatusCode}
	}
	metrics.CountProviderRequest("userinfo", "success")
	return &ui, nil
}

// EndSession tells the provider to terminate the session behind the
// access token. Best effort: callers log failures and clear cookies
// anyway.
func (c *Client) EndSession(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoints.Logout(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.CountProviderRequest("logout", "unreachable")
		return &transportError{cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode/100 != 2 {
		metrics.CountProviderRequest("logout", "rejected")
		return &RejectedError{Status: resp.StatusCode, Code: "logout_failed"}
	}
	metrics.CountProviderRequest("logout", "success")
	return nil
}

// transportError tags network faults so errors.Is(err, ErrUnreachable)
// holds for every transport-level failure.
type transportError struct {
	cause error
}

func (e *transportError) Error() string { return "provider unreachable: " + e.cause.Error() }
func (e *transportError) Unwrap() error { return ErrUnreachable }

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
