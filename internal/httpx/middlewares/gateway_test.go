package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/pehchan-id/pehchan/internal/mfa"
	"github.com/pehchan-id/pehchan/internal/profile"
	"github.com/pehchan-id/pehchan/internal/provider"
	"github.com/pehchan-id/pehchan/internal/session"
)

const markerSecret = "0123456789abcdef0123456789abcdef"

func accessToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("any-key"))
	require.NoError(t, err)
	return s
}

type gatewayEnv struct {
	gw      *Gateway
	store   profile.Store
	marker  *session.StepUpMarker
	handler http.Handler
	// sawSession records the session the inner handler received.
	sawSession *session.Session
}

func newGatewayEnv(t *testing.T, providerURL string) *gatewayEnv {
	t.Helper()
	policy := session.CookiePolicy{SameSite: "lax"}
	var pc *provider.Client
	if providerURL != "" {
		pc = provider.NewClient(provider.NewEndpoints(providerURL, "citizens"), "portal-web", "s", time.Second)
	}
	store := profile.NewMemory()
	env := &gatewayEnv{
		store:  store,
		marker: session.NewStepUpMarker(policy, markerSecret, time.Hour),
	}
	env.gw = NewGateway(GatewayDeps{
		Sessions: session.NewStore(policy, pc),
		Marker:   env.marker,
		Gate: mfa.NewGate(mfa.NewService(mfa.Deps{
			Store:  store,
			Issuer: "Pehchan",
		})),
	})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.sawSession = GetSession(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	env.handler = env.gw.Middleware()(inner)
	return env
}

// enrollAndConfirm flips totp_enabled for the subject.
func enrollAndConfirm(t *testing.T, store profile.Store, subject string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertSecondFactor(ctx, subject, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, store.EnableSecondFactor(ctx, subject, time.Now()))
}

func TestGateway_PublicPaths(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t, "")

	for _, path := range []string{"/", "/login", "/signup", "/api/auth/login", "/healthz", "/static/app.css", "/auth/2fa-verify"} {
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, "path %s should be public", path)
	}
}

func TestGateway_ProtectedWithoutSession(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t, "")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestGateway_ValidSessionForwards(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t, "")

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: accessToken(t, "u-1", time.Now().Add(time.Hour))})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.sawSession)
	require.Equal(t, "u-1", env.sawSession.Subject)
}

func TestGateway_AuthenticatedLoginRedirectsToDashboard(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t, "")

	for _, path := range []string{"/login", "/signup"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: accessToken(t, "u-1", time.Now().Add(time.Hour))})
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, r)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/dashboard", rec.Header().Get("Location"))
	}
}

func TestGateway_ExpiredSessionRefreshes(t *testing.T) {
	t.Parallel()
	at := accessToken(t, "u-1", time.Now().Add(time.Hour))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"` + at + `","refresh_token":"NEW-RT","token_type":"Bearer","expires_in":300}`))
	}))
	defer srv.Close()
	env := newGatewayEnv(t, srv.URL)

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: accessToken(t, "u-1", time.Now().Add(-time.Minute))})
	r.AddCookie(&http.Cookie{Name: session.CookieRefreshToken, Value: "OLD-RT"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	rotated := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieRefreshToken && c.Value == "NEW-RT" {
			rotated = true
		}
	}
	require.True(t, rotated, "refresh must rewrite cookies")
}

func TestGateway_RefreshRejectedRedirectsLogin(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()
	env := newGatewayEnv(t, srv.URL)

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: accessToken(t, "u-1", time.Now().Add(-time.Minute))})
	r.AddCookie(&http.Cookie{Name: session.CookieRefreshToken, Value: "DEAD"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestGateway_ProviderDownIsRetryableNotLogin(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	env := newGatewayEnv(t, srv.URL)

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: accessToken(t, "u-1", time.Now().Add(-time.Minute))})
	r.AddCookie(&http.Cookie{Name: session.CookieRefreshToken, Value: "RT"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))
}

func TestGateway_StepUp(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t, "")
	enrollAndConfirm(t, env.store, "u-1")

	at := accessToken(t, "u-1", time.Now().Add(time.Hour))

	// Without the marker the protected page redirects to step-up.
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: at})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/auth/2fa-verify", rec.Header().Get("Location"))

	// The step-up page itself never redirects to itself.
	r = httptest.NewRequest(http.MethodGet, "/auth/2fa-verify", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: at})
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	// With a valid marker the request passes.
	markerRec := httptest.NewRecorder()
	require.NoError(t, env.marker.Issue(markerRec, "u-1"))
	r = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: at})
	for _, c := range markerRec.Result().Cookies() {
		r.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	// An API route under step-up answers 403 instead of redirecting.
	r = httptest.NewRequest(http.MethodGet, "/api/sso/register", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: at})
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "STEP_UP_REQUIRED")

	// A marker bound to another subject does not satisfy the gate.
	otherRec := httptest.NewRecorder()
	require.NoError(t, env.marker.Issue(otherRec, "u-2"))
	r = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: at})
	for _, c := range otherRec.Result().Cookies() {
		r.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/auth/2fa-verify", rec.Header().Get("Location"))
}
