// Package session owns every cookie the broker reads or writes: the
// session credential cookies, the in-flight authorization attempt
// cookies, and the signed step-up marker. Sessions are client-held:
// there is no server-side session table, so any instance can serve any
// request.
package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// Cookie names. The attempt-scoped oauth_* cookies live only between
// /authorize and /callback and are deleted at callback regardless of
// outcome.
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
	CookieIDToken      = "id_token"
	CookieStepUp       = "2fa_verified"
	// Legacy name still cleared on logout.
	CookieLegacySession = "session"

	CookieOAuthState        = "oauth_state"
	CookieOAuthNonce        = "oauth_nonce"
	CookieOAuthCodeVerifier = "oauth_code_verifier"
	CookieOAuthClientID     = "oauth_client_id"
	CookieOAuthRedirectURI  = "oauth_redirect_uri"
	CookieOAuthClientState  = "oauth_client_state"
)

// CookiePolicy is the single source of truth for cookie attributes.
// Every cookie is httpOnly with Path=/; Secure and SameSite come from
// config so the deletion cookie always matches the one it overwrites.
type CookiePolicy struct {
	Domain   string
	SameSite string // "", "lax", "strict", "none"
	Secure   bool
}

func (p CookiePolicy) sameSite() http.SameSite {
	switch strings.ToLower(strings.TrimSpace(p.SameSite)) {
	case "", "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		logger.L().Warn("unknown samesite value, using Lax", logger.String("samesite", p.SameSite))
		return http.SameSiteLaxMode
	}
}

// Build constructs a session cookie with the policy's security flags.
func (p CookiePolicy) Build(name, value string, ttl time.Duration) *http.Cookie {
	now := time.Now().UTC()
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  now.Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		Secure:   p.Secure,
		HttpOnly: true,
		SameSite: p.sameSite(),
	}
	if p.Domain != "" {
		c.Domain = p.Domain
	}
	return c
}

// Deletion constructs a cookie that overwrites and expires an existing
// one. Name/Domain/SameSite/Secure must match the original for the
// user-agent to actually drop it.
func (p CookiePolicy) Deletion(name string) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   p.Secure,
		HttpOnly: true,
		SameSite: p.sameSite(),
	}
	if p.Domain != "" {
		c.Domain = p.Domain
	}
	return c
}
