// Package webauthn brokers passkey ceremonies against the provider's
// WebAuthn endpoints. The broker performs no credential cryptography
// itself; it relays ceremonies, rewrites the relying-party id to the
// portal's own origin, and turns a finished assertion into tokens.
package webauthn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
)

// Broker errors. Every ceremony fails closed: a missing field or an
// unparseable provider response aborts with nothing registered.
var (
	ErrMissingUsername      = errors.New("webauthn: username required")
	ErrIncompleteCredential = errors.New("webauthn: credential is missing required fields")
	ErrChallengeNotFound    = errors.New("webauthn: provider response carries no challenge")
	ErrCeremonyRejected     = errors.New("webauthn: provider rejected the ceremony")
)

// challengePattern extracts the challenge the provider embeds in the
// login page script block.
var challengePattern = regexp.MustCompile(`challenge\s*:\s*'([^']+)'`)

// Credential is the browser-produced public-key credential, relayed
// verbatim. Registration requires ID, ClientDataJSON,
// AttestationObject and AuthenticatorData; authentication assertions
// carry their own fields inside Response.
type Credential struct {
	ID       string          `json:"id"`
	RawID    string          `json:"rawId,omitempty"`
	Type     string          `json:"type,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`

	// Flattened registration fields, checked before relay.
	ClientDataJSON    string `json:"clientDataJSON,omitempty"`
	AttestationObject string `json:"attestationObject,omitempty"`
	AuthenticatorData string `json:"authenticatorData,omitempty"`
}

// Challenge is what the browser needs to run navigator.credentials.get.
type Challenge struct {
	Challenge        string `json:"challenge"`
	RPID             string `json:"rpId"`
	Type             string `json:"type"`
	UserVerification string `json:"userVerification"`
}

// Broker drives the four ceremony phases.
type Broker struct {
	provider *provider.Client
}

func NewBroker(pc *provider.Client) *Broker {
	return &Broker{provider: pc}
}

// BeginRegistration asks the provider to start a passkey registration
// for the username and relays the provider's options verbatim.
func (b *Broker) BeginRegistration(ctx context.Context, username string) (json.RawMessage, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrMissingUsername
	}
	body := map[string]any{
		"username":                username,
		"authenticatorAttachment": "platform",
		"requireResidentKey":      true,
		"userVerification":        "preferred",
		"attestation":             "none",
	}
	return b.postJSON(ctx, b.provider.Endpoints.WebAuthnRegister(), body)
}

// FinishRegistration relays the attestation. The credential must be
// complete; a partial one aborts before anything reaches the provider.
func (b *Broker) FinishRegistration(ctx context.Context, username string, cred *Credential) (json.RawMessage, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrMissingUsername
	}
	if cred == nil || cred.ID == "" || !cred.hasRegistrationFields() {
		return nil, ErrIncompleteCredential
	}
	body := map[string]any{
		"username":   username,
		"credential": cred,
	}
	return b.postJSON(ctx, b.provider.Endpoints.WebAuthnRegisterFinish(), body)
}

// BeginAuthentication initiates a passwordless authentication and
// scrapes the challenge out of the provider's HTML login page. The
// relying-party id comes from the portal origin the browser reported,
// never from the provider's own host.
func (b *Broker) BeginAuthentication(ctx context.Context, username, origin string) (*Challenge, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrMissingUsername
	}
	rpID, err := rpIDFromOrigin(origin)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("client_id", b.provider.ClientID)
	form.Set("response_type", "code")
	form.Set("scope", "openid")
	form.Set("redirect_uri", origin)
	form.Set("acr_values", "webauthn-passwordless")
	form.Set("username", username)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.provider.Endpoints.Authorize(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.provider.HTTP().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	html, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnreachable, err)
	}

	m := challengePattern.FindSubmatch(html)
	if m == nil {
		logger.From(ctx).Warn("challenge extraction failed",
			logger.Layer("client"),
			logger.Component("webauthn"),
			logger.Int("status", resp.StatusCode))
		return nil, ErrChallengeNotFound
	}

	return &Challenge{
		Challenge:        string(m[1]),
		RPID:             rpID,
		Type:             "webauthn.get",
		UserVerification: "preferred",
	}, nil
}

// FinishAuthentication relays the assertion and, when the provider
// accepts it, issues tokens for the now-verified subject.
func (b *Broker) FinishAuthentication(ctx context.Context, username string, cred *Credential) (*provider.TokenResponse, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrMissingUsername
	}
	if cred == nil || cred.ID == "" {
		return nil, ErrIncompleteCredential
	}

	body := map[string]any{
		"username":   username,
		"credential": cred,
	}
	if _, err := b.postJSON(ctx, b.provider.Endpoints.WebAuthnAuthenticateFinish(), body); err != nil {
		return nil, err
	}

	// The assertion proved possession; mint tokens for the subject.
	return b.provider.Exchange(ctx, provider.ExchangeParams{
		GrantType: provider.GrantPassword,
		Username:  username,
		Scope:     "openid",
	})
}

func (b *Broker) postJSON(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.provider.HTTP().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnreachable, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrCeremonyRejected, resp.StatusCode, truncate(string(out), 256))
	}
	return json.RawMessage(out), nil
}

func (c *Credential) hasRegistrationFields() bool {
	clientData := c.ClientDataJSON
	attestation := c.AttestationObject
	authData := c.AuthenticatorData

	// Browsers usually nest these under response.
	if len(c.Response) > 0 {
		var nested struct {
			ClientDataJSON    string `json:"clientDataJSON"`
			AttestationObject string `json:"attestationObject"`
			AuthenticatorData string `json:"authenticatorData"`
		}
		if json.Unmarshal(c.Response, &nested) == nil {
			if clientData == "" {
				clientData = nested.ClientDataJSON
			}
			if attestation == "" {
				attestation = nested.AttestationObject
			}
			if authData == "" {
				authData = nested.AuthenticatorData
			}
		}
	}
	return clientData != "" && attestation != "" && authData != ""
}

func rpIDFromOrigin(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("webauthn: bad origin %q", origin)
	}
	return u.Hostname(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
