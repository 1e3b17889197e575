package session

import (
	"errors"
	"net/http"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// The step-up marker is a short-lived HS256 JWT in the 2fa_verified
// cookie, bound to the subject that passed the second-factor check. It
// is verified locally on every request, with no store round-trip, and its
// expiry is independent of the access token's.

const stepUpAudience = "step-up"

var (
	ErrMarkerInvalid = errors.New("session: step-up marker invalid")
	ErrMarkerExpired = errors.New("session: step-up marker expired")
)

// StepUpMarker signs and verifies the 2fa_verified cookie.
type StepUpMarker struct {
	policy CookiePolicy
	secret []byte
	ttl    time.Duration
}

// NewStepUpMarker builds a marker helper. secret is the broker's signing
// secret; ttl is the marker's validity window (an hour by default).
func NewStepUpMarker(policy CookiePolicy, secret string, ttl time.Duration) *StepUpMarker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StepUpMarker{policy: policy, secret: []byte(secret), ttl: ttl}
}

// Issue writes a fresh marker cookie for the subject.
func (m *StepUpMarker) Issue(w http.ResponseWriter, subject string) error {
	now := time.Now().UTC()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		"sub": subject,
		"aud": stepUpAudience,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	})
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return err
	}
	http.SetCookie(w, m.policy.Build(CookieStepUp, signed, m.ttl))
	return nil
}

// Verify checks the marker on the request and that it belongs to
// subject. Returns nil only for a valid, unexpired, subject-matching
// marker.
func (m *StepUpMarker) Verify(r *http.Request, subject string) error {
	c, err := r.Cookie(CookieStepUp)
	if err != nil || c.Value == "" {
		return ErrMarkerInvalid
	}

	tok, err := jwtv5.Parse(c.Value,
		func(*jwtv5.Token) (any, error) { return m.secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithAudience(stepUpAudience),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return ErrMarkerExpired
		}
		return ErrMarkerInvalid
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return ErrMarkerInvalid
	}
	sub, _ := claims["sub"].(string)
	if sub == "" || sub != subject {
		return ErrMarkerInvalid
	}
	return nil
}
