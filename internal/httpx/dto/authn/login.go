package authn

// LoginRequest is the credential form posted by the login page, or by a
// relying party's own login page when clientId/redirectUri are present.
type LoginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientID    string `json:"clientId,omitempty"`
	RedirectURI string `json:"redirectUri,omitempty"`
	State       string `json:"state,omitempty"`
}

// LoginResponse is the first-party outcome; tokens travel in cookies,
// never in the body.
type LoginResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Message         string `json:"message,omitempty"`
}

// SSORedirectResponse tells a relying party's page where to send the
// browser; the tokens are already appended to the URL.
type SSORedirectResponse struct {
	Redirect string `json:"redirect"`
}
