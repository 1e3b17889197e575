package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
)

// Session is the broker's view of the credential cookies on one request.
// Subject and expiry are peeked (not verified) from the provider's
// access-token JWT; actual token validity is always the provider's call.
type Session struct {
	AccessToken  string
	RefreshToken string
	IDToken      string

	Subject   string
	Email     string
	ExpiresAt time.Time
}

// Expired reports whether the access token's exp claim has passed. An
// unknown expiry counts as expired so the caller revalidates upstream.
func (s *Session) Expired() bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().After(s.ExpiresAt)
}

// ErrRefreshFailed means the single refresh attempt did not produce a
// session. Callers treat this as "not authenticated", never as a hard
// error.
var ErrRefreshFailed = errors.New("session: refresh failed")

// Store reads and writes the client-held session. One instance is shared
// by the gateway and all controllers.
type Store struct {
	policy   CookiePolicy
	provider *provider.Client
}

// NewStore creates a session store bound to the cookie policy and the
// upstream provider client (used only by Refresh and Logout).
func NewStore(policy CookiePolicy, pc *provider.Client) *Store {
	return &Store{policy: policy, provider: pc}
}

// Policy exposes the cookie policy for collaborators that set their own
// cookies (attempt store, step-up marker).
func (s *Store) Policy() CookiePolicy {
	return s.policy
}

// Current reads the session cookies. It never contacts the provider.
// The second return is false when no access or refresh token is present
// at all.
func (s *Store) Current(r *http.Request) (*Session, bool) {
	sess := &Session{}
	if c, err := r.Cookie(CookieAccessToken); err == nil {
		sess.AccessToken = c.Value
	}
	if c, err := r.Cookie(CookieRefreshToken); err == nil {
		sess.RefreshToken = c.Value
	}
	if c, err := r.Cookie(CookieIDToken); err == nil {
		sess.IDToken = c.Value
	}

	if sess.AccessToken == "" && sess.RefreshToken == "" {
		return nil, false
	}

	if sess.AccessToken != "" {
		sess.Subject, sess.Email, sess.ExpiresAt = peekAccessToken(sess.AccessToken)
	}
	return sess, true
}

// Write sets the session cookies from a token response, bounding each
// cookie's lifetime by the provider's own expirations.
func (s *Store) Write(w http.ResponseWriter, tr *provider.TokenResponse) *Session {
	accessTTL := time.Duration(tr.ExpiresIn) * time.Second
	refreshTTL := time.Duration(tr.RefreshExpiresIn) * time.Second
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	http.SetCookie(w, s.policy.Build(CookieAccessToken, tr.AccessToken, accessTTL))
	if tr.RefreshToken != "" {
		http.SetCookie(w, s.policy.Build(CookieRefreshToken, tr.RefreshToken, refreshTTL))
	}
	if tr.IDToken != "" {
		http.SetCookie(w, s.policy.Build(CookieIDToken, tr.IDToken, accessTTL))
	}

	sess := &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
	}
	sess.Subject, sess.Email, sess.ExpiresAt = peekAccessToken(tr.AccessToken)
	if sess.ExpiresAt.IsZero() && accessTTL > 0 {
		sess.ExpiresAt = time.Now().Add(accessTTL)
	}
	return sess
}

// Refresh performs exactly one refresh_token grant and rewrites the
// cookies on success. If the provider does not rotate the refresh token
// the old one is kept. Any failure is ErrRefreshFailed (wrapped);
// transport faults additionally match provider.ErrUnreachable so the
// gateway can distinguish "retry" from "re-login".
func (s *Store) Refresh(ctx context.Context, w http.ResponseWriter, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrRefreshFailed
	}

	tr, err := s.provider.Exchange(ctx, provider.ExchangeParams{
		GrantType:    provider.GrantRefreshToken,
		RefreshToken: refreshToken,
		Scope:        provider.DefaultScope,
	})
	if err != nil {
		if errors.Is(err, provider.ErrUnreachable) {
			return nil, err
		}
		logger.From(ctx).Debug("session refresh rejected", logger.Layer("service"), logger.Err(err))
		return nil, errors.Join(ErrRefreshFailed, err)
	}

	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}
	return s.Write(w, tr), nil
}

// Clear deletes every session-related cookie. Unconditional: called on
// logout even when the provider-side end-session call failed.
func (s *Store) Clear(w http.ResponseWriter) {
	for _, name := range []string{
		CookieLegacySession,
		CookieAccessToken,
		CookieRefreshToken,
		CookieIDToken,
		CookieStepUp,
	} {
		http.SetCookie(w, s.policy.Deletion(name))
	}
}

// Logout ends the provider-side session (best effort) and clears the
// cookies. Provider failures are logged, never fatal.
func (s *Store) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.Current(r); ok && sess.AccessToken != "" {
		if err := s.provider.EndSession(ctx, sess.AccessToken); err != nil {
			logger.From(ctx).Warn("provider end-session failed",
				logger.Layer("service"),
				logger.Op("Store.Logout"),
				logger.Err(err))
		}
	}
	s.Clear(w)
}

// peekAccessToken extracts sub/email/exp without verifying the
// signature. The broker never trusts these claims for authorization;
// token validity is established by the provider. The peek only spares
// a network call for routing and expiry checks.
func peekAccessToken(token string) (sub, email string, exp time.Time) {
	parser := jwtv5.NewParser()
	claims := jwtv5.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", "", time.Time{}
	}
	if v, ok := claims["sub"].(string); ok {
		sub = v
	}
	if v, ok := claims["email"].(string); ok {
		email = v
	}
	if v, ok := claims["exp"].(float64); ok {
		exp = time.Unix(int64(v), 0)
	}
	return sub, email, exp
}
