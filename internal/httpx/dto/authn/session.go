package authn

import "time"

// CheckResponse reports session liveness without touching the provider.
// It always comes back 200; absence of a session is data, not an error.
type CheckResponse struct {
	IsAuthenticated    bool           `json:"isAuthenticated"`
	TokenInfo          map[string]any `json:"tokenInfo"`
	AccessTokenExists  bool           `json:"accessTokenExists"`
	RefreshTokenExists bool           `json:"refreshTokenExists"`
}

// RefreshResponse is the revalidated session. User is set only when the
// refreshed access token passed a userinfo round trip.
type RefreshResponse struct {
	IsAuthenticated bool  `json:"isAuthenticated"`
	User            *User `json:"user,omitempty"`
}

// User merges provider userinfo claims with the locally stored profile
// row (nil when the profile store has nothing for the subject).
type User struct {
	Sub               string   `json:"sub"`
	Email             string   `json:"email"`
	EmailVerified     bool     `json:"email_verified"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	GivenName         string   `json:"given_name,omitempty"`
	FamilyName        string   `json:"family_name,omitempty"`
	Profile           *Profile `json:"profile"`
}

// Profile is the citizen profile row as the frontend sees it.
type Profile struct {
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Phone     string    `json:"phone,omitempty"`
	CNIC      string    `json:"cnic,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogoutResponse acknowledges cookie clearance. Logout is best effort
// against the provider and never fails toward the client.
type LogoutResponse struct {
	Message string `json:"message"`
}

// SessionInfo is one upstream SSO session, as listed by the provider's
// admin API.
type SessionInfo struct {
	ClientID   string    `json:"clientId"`
	ClientName string    `json:"clientName,omitempty"`
	Active     bool      `json:"active"`
	LastAccess time.Time `json:"lastAccess"`
	Started    time.Time `json:"started"`
	IPAddress  string    `json:"ipAddress,omitempty"`
}

// SessionsResponse wraps the active session list.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}
