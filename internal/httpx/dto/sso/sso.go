// Package sso holds the shapes of partner onboarding and the internal
// token delegation endpoint.
package sso

// RegisterRequest onboards a relying party.
type RegisterRequest struct {
	ClientID       string   `json:"clientId"`
	RedirectURIs   []string `json:"redirectUris"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`
}

// ClientConfig is the integration sheet handed back to a freshly
// registered partner.
type ClientConfig struct {
	AuthorizationEndpoint string   `json:"authorizationEndpoint"`
	TokenEndpoint         string   `json:"tokenEndpoint"`
	UserinfoEndpoint      string   `json:"userinfoEndpoint"`
	EndSessionEndpoint    string   `json:"endSessionEndpoint"`
	RequiredScopes        []string `json:"requiredScopes"`
	GrantTypes            []string `json:"grantTypes"`
}

// RegisterResponse carries the generated secret exactly once.
type RegisterResponse struct {
	Success      bool         `json:"success"`
	ClientID     string       `json:"clientId"`
	ClientSecret string       `json:"clientSecret"`
	Message      string       `json:"message"`
	Config       ClientConfig `json:"config"`
}

// TokenRequest authenticates a first-party backend service asking for a
// delegated token bound to the caller's browser session.
type TokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// TokenResponse is the delegated token set.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
