// Package admin wraps the identity provider's management API: client
// (relying party) lookup and registration, and the user operations the
// signup saga needs.
//
// The service-account token is not held as mutable instance state; it
// lives in a TTL cache keyed by the admin client id and is re-acquired
// when expired. Concurrent callers may race to refresh it, which costs
// at most one extra token request.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
)

// ClientRepresentation is the provider's relying-party record. ID is the
// provider's internal UUID; ClientID is the OAuth client_id.
type ClientRepresentation struct {
	ID                        string            `json:"id,omitempty"`
	ClientID                  string            `json:"clientId"`
	Enabled                   bool              `json:"enabled"`
	Protocol                  string            `json:"protocol,omitempty"`
	PublicClient              bool              `json:"publicClient"`
	RedirectURIs              []string          `json:"redirectUris,omitempty"`
	WebOrigins                []string          `json:"webOrigins,omitempty"`
	StandardFlowEnabled       bool              `json:"standardFlowEnabled"`
	ImplicitFlowEnabled       bool              `json:"implicitFlowEnabled"`
	DirectAccessGrantsEnabled bool              `json:"directAccessGrantsEnabled"`
	ServiceAccountsEnabled    bool              `json:"serviceAccountsEnabled"`
	Attributes                map[string]string `json:"attributes,omitempty"`
	DefaultClientScopes       []string          `json:"defaultClientScopes,omitempty"`
	OptionalClientScopes      []string          `json:"optionalClientScopes,omitempty"`
}

// UserRepresentation is the provider's user record.
type UserRepresentation struct {
	ID            string              `json:"id,omitempty"`
	Username      string              `json:"username"`
	Email         string              `json:"email"`
	FirstName     string              `json:"firstName,omitempty"`
	LastName      string              `json:"lastName,omitempty"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
	Credentials   []Credential        `json:"credentials,omitempty"`
}

// Credential is a provider credential entry (only password is used here).
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// SessionRepresentation is one provider-side session of a user.
type SessionRepresentation struct {
	ID         string            `json:"id"`
	IPAddress  string            `json:"ipAddress"`
	Start      int64             `json:"start"`
	LastAccess int64             `json:"lastAccess"`
	Clients    map[string]string `json:"clients,omitempty"`
}

// ErrClientNotFound is returned when no relying party matches a client_id.
var ErrClientNotFound = fmt.Errorf("admin: client not found")

// ErrNoSecret is returned for clients without a configured secret
// (public clients cannot take part in secret-bearing flows).
var ErrNoSecret = fmt.Errorf("admin: client has no secret configured")

const tokenCacheKey = "service-account-token"

// Registry is the SSO client registry backed by the provider's
// management API.
type Registry struct {
	endpoints    provider.Endpoints
	tokens       *provider.Client // token endpoint, for client_credentials
	clientID     string
	clientSecret string

	http       *http.Client
	tokenCache *gocache.Cache
}

// NewRegistry builds a registry using the given admin service account.
func NewRegistry(endpoints provider.Endpoints, adminClientID, adminClientSecret string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		endpoints:    endpoints,
		tokens:       provider.NewClient(endpoints, adminClientID, adminClientSecret, timeout),
		clientID:     adminClientID,
		clientSecret: adminClientSecret,
		http:         &http.Client{Timeout: timeout},
		tokenCache:   gocache.New(time.Minute, time.Minute),
	}
}

// serviceToken returns a valid management-API token, from cache when
// possible. The cache TTL is the provider's expires_in minus a margin so
// a token is never used at the edge of its lifetime.
func (r *Registry) serviceToken(ctx context.Context) (string, error) {
	if v, ok := r.tokenCache.Get(tokenCacheKey); ok {
		if tok, ok := v.(string); ok && tok != "" {
			return tok, nil
		}
	}

	tr, err := r.tokens.Exchange(ctx, provider.ExchangeParams{GrantType: provider.GrantClientCredentials})
	if err != nil {
		return "", fmt.Errorf("admin: service account auth: %w", err)
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - 30*time.Second
	if ttl < 10*time.Second {
		ttl = 10 * time.Second
	}
	r.tokenCache.Set(tokenCacheKey, tr.AccessToken, ttl)
	return tr.AccessToken, nil
}

func (r *Registry) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	tok, err := r.serviceToken(ctx)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin: %s %s: %w", method, rawURL, provider.ErrUnreachable)
	}
	return resp, nil
}

// FindClient looks up a relying party by its OAuth client_id.
func (r *Registry) FindClient(ctx context.Context, clientID string) (*ClientRepresentation, error) {
	u := r.endpoints.AdminClients() + "?clientId=" + url.QueryEscape(clientID)
	resp, err := r.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("admin: find client: http %d", resp.StatusCode)
	}

	var clients []ClientRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		return nil, fmt.Errorf("admin: find client: %w", err)
	}
	for i := range clients {
		if clients[i].ClientID == clientID {
			return &clients[i], nil
		}
	}
	return nil, ErrClientNotFound
}

// GetClientSecret fetches the secret of a confidential client. Public
// clients yield ErrNoSecret.
func (r *Registry) GetClientSecret(ctx context.Context, clientID string) (string, error) {
	cl, err := r.FindClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if cl.PublicClient {
		return "", ErrNoSecret
	}

	u := r.endpoints.AdminClients() + "/" + url.PathEscape(cl.ID) + "/client-secret"
	resp, err := r.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("admin: client secret: http %d", resp.StatusCode)
	}

	var body struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("admin: client secret: %w", err)
	}
	if body.Value == "" {
		return "", ErrNoSecret
	}
	return body.Value, nil
}

// ValidateRedirectURI checks that redirectURI is registered for the
// client. Exact match, same as the provider's own enforcement for
// non-wildcard entries.
func (r *Registry) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) error {
	cl, err := r.FindClient(ctx, clientID)
	if err != nil {
		return err
	}
	for _, u := range cl.RedirectURIs {
		if u == redirectURI {
			return nil
		}
	}
	return fmt.Errorf("admin: redirect uri %q not registered for client %q", redirectURI, clientID)
}

// CreateClient registers a new confidential relying party and returns
// its representation (including the generated secret).
func (r *Registry) CreateClient(ctx context.Context, clientID string, redirectURIs, webOrigins, optionalScopes []string) (*ClientRepresentation, string, error) {
	rep := ClientRepresentation{
		ClientID:                  clientID,
		Enabled:                   true,
		Protocol:                  "openid-connect",
		PublicClient:              false,
		RedirectURIs:              redirectURIs,
		WebOrigins:                webOrigins,
		StandardFlowEnabled:       true,
		ImplicitFlowEnabled:       false,
		DirectAccessGrantsEnabled: true,
		ServiceAccountsEnabled:    false,
		Attributes: map[string]string{
			"oauth2.device.authorization.grant.enabled": "false",
			"backchannel.logout.session.required":       "true",
			"backchannel.logout.revoke.offline.tokens":  "false",
		},
		DefaultClientScopes:  []string{"web-origins", "roles", "profile", "email"},
		OptionalClientScopes: optionalScopes,
	}

	resp, err := r.do(ctx, http.MethodPost, r.endpoints.AdminClients(), rep)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, "", fmt.Errorf("admin: client %q already exists", clientID)
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", fmt.Errorf("admin: create client: http %d", resp.StatusCode)
	}

	created, err := r.FindClient(ctx, clientID)
	if err != nil {
		return nil, "", err
	}
	secret, err := r.GetClientSecret(ctx, clientID)
	if err != nil {
		return nil, "", fmt.Errorf("admin: created client has no retrievable secret: %w", err)
	}

	logger.From(ctx).Info("relying party registered",
		logger.Layer("client"),
		logger.ClientID(clientID))
	return created, secret, nil
}

// CreateUser creates a provider account and returns its id.
func (r *Registry) CreateUser(ctx context.Context, u UserRepresentation) (string, error) {
	resp, err := r.do(ctx, http.MethodPost, r.endpoints.AdminUsers(), u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return "", fmt.Errorf("admin: user %q already exists", u.Email)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("admin: create user: http %d", resp.StatusCode)
	}

	// The provider answers 201 with a Location header ending in the id.
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("admin: create user: missing Location header")
	}
	parts := strings.Split(strings.TrimRight(loc, "/"), "/")
	return parts[len(parts)-1], nil
}

// GetUserByEmail returns the first provider account matching email, or
// nil when none exists.
func (r *Registry) GetUserByEmail(ctx context.Context, email string) (*UserRepresentation, error) {
	u := r.endpoints.AdminUsers() + "?exact=true&email=" + url.QueryEscape(email)
	resp, err := r.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("admin: find user: http %d", resp.StatusCode)
	}

	var users []UserRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("admin: find user: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// DeleteUser removes a provider account. Used by the signup saga's
// compensating step.
func (r *Registry) DeleteUser(ctx context.Context, userID string) error {
	u := r.endpoints.AdminUsers() + "/" + url.PathEscape(userID)
	resp, err := r.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("admin: delete user: http %d", resp.StatusCode)
	}
	return nil
}

// ResetPassword sets a permanent password on a provider account.
func (r *Registry) ResetPassword(ctx context.Context, userID, password string) error {
	u := r.endpoints.AdminUsers() + "/" + url.PathEscape(userID) + "/reset-password"
	resp, err := r.do(ctx, http.MethodPut, u, Credential{Type: "password", Value: password, Temporary: false})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("admin: reset password: http %d", resp.StatusCode)
	}
	return nil
}

// ListSessions returns the provider-side sessions of a user.
func (r *Registry) ListSessions(ctx context.Context, userID string) ([]SessionRepresentation, error) {
	u := r.endpoints.AdminUsers() + "/" + url.PathEscape(userID) + "/sessions"
	resp, err := r.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("admin: list sessions: http %d", resp.StatusCode)
	}

	var sessions []SessionRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("admin: list sessions: %w", err)
	}
	return sessions, nil
}
