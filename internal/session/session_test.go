package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/pehchan-id/pehchan/internal/provider"
)

var testPolicy = CookiePolicy{SameSite: "lax", Secure: false}

// signedAccessToken fabricates a provider-shaped JWT. The store only
// peeks at claims, so any HS256 key works.
func signedAccessToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   exp.Unix(),
	})
	s, err := tok.SignedString([]byte("unit-test-key"))
	require.NoError(t, err)
	return s
}

// respCookies converts a recorder's Set-Cookie headers into a request
// that carries them, simulating the browser's next request.
func requestWith(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(c)
		}
	}
	return r
}

func TestStore_WriteThenCurrent(t *testing.T) {
	t.Parallel()
	store := NewStore(testPolicy, nil)

	at := signedAccessToken(t, "u-1", "a@b.com", time.Now().Add(5*time.Minute))
	rec := httptest.NewRecorder()
	store.Write(rec, &provider.TokenResponse{
		AccessToken:      at,
		RefreshToken:     "RT",
		IDToken:          "IT",
		ExpiresIn:        300,
		RefreshExpiresIn: 1800,
	})

	sess, ok := store.Current(requestWith(t, rec))
	require.True(t, ok)
	require.Equal(t, at, sess.AccessToken)
	require.Equal(t, "RT", sess.RefreshToken)
	require.Equal(t, "u-1", sess.Subject)
	require.Equal(t, "a@b.com", sess.Email)
	require.False(t, sess.Expired())
	require.WithinDuration(t, time.Now().Add(5*time.Minute), sess.ExpiresAt, 5*time.Second)
}

func TestStore_CurrentAbsent(t *testing.T) {
	t.Parallel()
	store := NewStore(testPolicy, nil)
	_, ok := store.Current(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
}

func TestStore_ExpiredToken(t *testing.T) {
	t.Parallel()
	store := NewStore(testPolicy, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieAccessToken, Value: signedAccessToken(t, "u-1", "", time.Now().Add(-time.Minute))})
	r.AddCookie(&http.Cookie{Name: CookieRefreshToken, Value: "RT"})

	sess, ok := store.Current(r)
	require.True(t, ok)
	require.True(t, sess.Expired())
}

func TestStore_OpaqueTokenCountsAsExpired(t *testing.T) {
	t.Parallel()
	store := NewStore(testPolicy, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieAccessToken, Value: "not-a-jwt"})

	sess, ok := store.Current(r)
	require.True(t, ok)
	require.True(t, sess.Expired(), "unknown expiry must force revalidation")
}

func TestStore_RefreshRotatesAndRetains(t *testing.T) {
	t.Parallel()
	at := signedAccessToken(t, "u-1", "", time.Now().Add(time.Minute))

	t.Run("provider rotates refresh token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			require.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
			require.Equal(t, "OLD-RT", r.PostFormValue("refresh_token"))
			w.Write([]byte(`{"access_token":"` + at + `","refresh_token":"NEW-RT","token_type":"Bearer","expires_in":60}`))
		}))
		defer srv.Close()

		store := NewStore(testPolicy, provider.NewClient(provider.NewEndpoints(srv.URL, "citizens"), "id", "sec", time.Second))
		rec := httptest.NewRecorder()
		sess, err := store.Refresh(context.Background(), rec, "OLD-RT")
		require.NoError(t, err)
		require.Equal(t, "NEW-RT", sess.RefreshToken)
	})

	t.Run("provider keeps refresh token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"access_token":"` + at + `","token_type":"Bearer","expires_in":60}`))
		}))
		defer srv.Close()

		store := NewStore(testPolicy, provider.NewClient(provider.NewEndpoints(srv.URL, "citizens"), "id", "sec", time.Second))
		rec := httptest.NewRecorder()
		sess, err := store.Refresh(context.Background(), rec, "OLD-RT")
		require.NoError(t, err)
		require.Equal(t, "OLD-RT", sess.RefreshToken, "old refresh token is kept when provider does not rotate")
	})
}

func TestStore_RefreshFailureIsNotAuthenticated(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Session not active"}`))
	}))
	defer srv.Close()

	store := NewStore(testPolicy, provider.NewClient(provider.NewEndpoints(srv.URL, "citizens"), "id", "sec", time.Second))
	rec := httptest.NewRecorder()
	_, err := store.Refresh(context.Background(), rec, "DEAD-RT")
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.NotErrorIs(t, err, provider.ErrUnreachable)
}

func TestStore_RefreshTransportFaultIsDistinct(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := NewStore(testPolicy, provider.NewClient(provider.NewEndpoints(srv.URL, "citizens"), "id", "sec", 300*time.Millisecond))
	rec := httptest.NewRecorder()
	_, err := store.Refresh(context.Background(), rec, "RT")
	require.ErrorIs(t, err, provider.ErrUnreachable)
	require.NotErrorIs(t, err, ErrRefreshFailed, "timeouts must not look like auth failures")
}

func TestStore_ClearDeletesAllSessionCookies(t *testing.T) {
	t.Parallel()
	store := NewStore(testPolicy, nil)
	rec := httptest.NewRecorder()
	store.Clear(rec)

	names := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		require.Equal(t, -1, c.MaxAge, "cookie %s must be expired", c.Name)
		names[c.Name] = true
	}
	for _, want := range []string{CookieLegacySession, CookieAccessToken, CookieRefreshToken, CookieIDToken, CookieStepUp} {
		require.True(t, names[want], "missing deletion cookie %s", want)
	}
}

func TestAttemptStore_RoundTripAndDelete(t *testing.T) {
	t.Parallel()
	as := NewAttemptStore(testPolicy, time.Hour)

	rec := httptest.NewRecorder()
	as.Save(rec, Attempt{
		State:        "st",
		CodeVerifier: "ver",
		ClientID:     "partner-1",
		RedirectURI:  "https://partner.example/cb",
		ClientState:  "rp-csrf",
	})

	att, ok := as.Load(requestWith(t, rec))
	require.True(t, ok)
	require.Equal(t, "st", att.State)
	require.Equal(t, "ver", att.CodeVerifier)
	require.Equal(t, "partner-1", att.ClientID)
	require.Equal(t, "rp-csrf", att.ClientState)

	del := httptest.NewRecorder()
	as.Delete(del)
	for _, c := range del.Result().Cookies() {
		require.Equal(t, -1, c.MaxAge)
	}

	// No state cookie means no attempt.
	_, ok = as.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
}

func TestStepUpMarker_IssueVerify(t *testing.T) {
	t.Parallel()
	m := NewStepUpMarker(testPolicy, "0123456789abcdef0123456789abcdef", time.Hour)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Issue(rec, "u-1"))

	r := requestWith(t, rec)
	require.NoError(t, m.Verify(r, "u-1"))
	require.ErrorIs(t, m.Verify(r, "u-2"), ErrMarkerInvalid)

	// Absent marker.
	require.Error(t, m.Verify(httptest.NewRequest(http.MethodGet, "/", nil), "u-1"))
}

func TestStepUpMarker_Expired(t *testing.T) {
	t.Parallel()
	short := NewStepUpMarker(testPolicy, "0123456789abcdef0123456789abcdef", time.Millisecond)

	rec := httptest.NewRecorder()
	require.NoError(t, short.Issue(rec, "u-1"))
	time.Sleep(1100 * time.Millisecond) // jwt exp has second resolution

	err := short.Verify(requestWith(t, rec), "u-1")
	require.True(t, errors.Is(err, ErrMarkerExpired) || errors.Is(err, ErrMarkerInvalid))
}

func TestStepUpMarker_TamperedSignature(t *testing.T) {
	t.Parallel()
	a := NewStepUpMarker(testPolicy, "0123456789abcdef0123456789abcdef", time.Hour)
	b := NewStepUpMarker(testPolicy, "ffffffffffffffffffffffffffffffff", time.Hour)

	rec := httptest.NewRecorder()
	require.NoError(t, a.Issue(rec, "u-1"))
	require.ErrorIs(t, b.Verify(requestWith(t, rec), "u-1"), ErrMarkerInvalid)
}
