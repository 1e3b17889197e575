package session

import (
	"net/http"
	"time"
)

// Attempt is one in-flight authorization attempt, held entirely in
// short-lived cookies on the user's browser. Consumed exactly once at
// callback.
type Attempt struct {
	State        string
	Nonce        string
	CodeVerifier string
	ClientID     string
	RedirectURI  string

	// ClientState is the relying party's own state value, echoed back
	// on the final redirect. Distinct from State, which is the broker's
	// CSRF token for the provider leg.
	ClientState string
}

// AttemptStore writes and consumes attempt cookies.
type AttemptStore struct {
	policy CookiePolicy
	ttl    time.Duration
}

// NewAttemptStore creates an attempt store; ttl bounds the attempt's
// lifetime (an hour by default).
func NewAttemptStore(policy CookiePolicy, ttl time.Duration) *AttemptStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AttemptStore{policy: policy, ttl: ttl}
}

// Save writes the attempt cookies.
func (a *AttemptStore) Save(w http.ResponseWriter, att Attempt) {
	set := func(name, value string) {
		if value != "" {
			http.SetCookie(w, a.policy.Build(name, value, a.ttl))
		}
	}
	set(CookieOAuthState, att.State)
	set(CookieOAuthNonce, att.Nonce)
	set(CookieOAuthCodeVerifier, att.CodeVerifier)
	set(CookieOAuthClientID, att.ClientID)
	set(CookieOAuthRedirectURI, att.RedirectURI)
	set(CookieOAuthClientState, att.ClientState)
}

// Load reads the attempt cookies from the request. Returns false when no
// state is present (no attempt in flight, or it expired).
func (a *AttemptStore) Load(r *http.Request) (Attempt, bool) {
	get := func(name string) string {
		if c, err := r.Cookie(name); err == nil {
			return c.Value
		}
		return ""
	}
	att := Attempt{
		State:        get(CookieOAuthState),
		Nonce:        get(CookieOAuthNonce),
		CodeVerifier: get(CookieOAuthCodeVerifier),
		ClientID:     get(CookieOAuthClientID),
		RedirectURI:  get(CookieOAuthRedirectURI),
		ClientState:  get(CookieOAuthClientState),
	}
	return att, att.State != ""
}

// Delete removes all attempt cookies. Called at callback regardless of
// outcome so every attempt is single-use.
func (a *AttemptStore) Delete(w http.ResponseWriter) {
	for _, name := range []string{
		CookieOAuthState,
		CookieOAuthNonce,
		CookieOAuthCodeVerifier,
		CookieOAuthClientID,
		CookieOAuthRedirectURI,
		CookieOAuthClientState,
	} {
		http.SetCookie(w, a.policy.Deletion(name))
	}
}
