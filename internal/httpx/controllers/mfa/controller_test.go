package mfa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	mfasvc "github.com/pehchan-id/pehchan/internal/mfa"
	"github.com/pehchan-id/pehchan/internal/session"
)

// stubService scripts the second-factor service so the controller's
// translation layer can be exercised without real TOTP math.
type stubService struct {
	enrollment *mfasvc.Enrollment
	setupErr   error

	confirmation *mfasvc.Confirmation
	confirmErr   error

	verifyErr error
	enabled   bool

	verifiedCode string
	disabled     bool
}

func (s *stubService) Setup(_ context.Context, subject, accountName string) (*mfasvc.Enrollment, error) {
	return s.enrollment, s.setupErr
}

func (s *stubService) Confirm(_ context.Context, subject, code string) (*mfasvc.Confirmation, error) {
	return s.confirmation, s.confirmErr
}

func (s *stubService) Verify(_ context.Context, subject, code string) error {
	s.verifiedCode = code
	return s.verifyErr
}

func (s *stubService) Enabled(context.Context, string) (bool, error) {
	return s.enabled, nil
}

func (s *stubService) Disable(context.Context, string) error {
	s.disabled = true
	return nil
}

const markerSecret = "0123456789abcdef0123456789abcdef"

func newController(svc *stubService) (*Controller, *session.StepUpMarker) {
	policy := session.CookiePolicy{SameSite: "lax"}
	marker := session.NewStepUpMarker(policy, markerSecret, time.Hour)
	return NewController(Deps{
		Service:  svc,
		Sessions: session.NewStore(policy, nil),
		Marker:   marker,
	}), marker
}

// sessionRequest carries an unexpired access-token cookie for the
// subject.
func sessionRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "citizen-1",
		"email": "ali@example.pk",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	})
	raw, err := tok.SignedString([]byte("upstream-secret"))
	require.NoError(t, err)

	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: raw})
	return r
}

func TestSetup(t *testing.T) {
	svc := &stubService{enrollment: &mfasvc.Enrollment{
		Secret:     "JBSWY3DPEHPK3PXP",
		OTPAuthURL: "otpauth://totp/Pehchan:ali@example.pk?secret=JBSWY3DPEHPK3PXP",
	}}
	ctrl, _ := newController(svc)

	rec := httptest.NewRecorder()
	ctrl.Setup(rec, sessionRequest(t, http.MethodPost, "/api/auth/2fa/setup", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Contains(t, rec.Body.String(), `"secret":"JBSWY3DPEHPK3PXP"`)
	require.Contains(t, rec.Body.String(), `"qrCodeUrl":"otpauth://totp/`)
}

func TestSetupRequiresSession(t *testing.T) {
	ctrl, _ := newController(&stubService{})

	rec := httptest.NewRecorder()
	ctrl.Setup(rec, httptest.NewRequest(http.MethodPost, "/api/auth/2fa/setup", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetupExpiredSession(t *testing.T) {
	ctrl, _ := newController(&stubService{})

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "citizen-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	raw, err := tok.SignedString([]byte("upstream-secret"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/setup", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: raw})

	rec := httptest.NewRecorder()
	ctrl.Setup(rec, r)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "SESSION_EXPIRED")
}

func TestConfirm(t *testing.T) {
	svc := &stubService{confirmation: &mfasvc.Confirmation{
		BackupCodes: []string{"AAAA-BBBB", "CCCC-DDDD"},
	}}
	ctrl, _ := newController(svc)

	rec := httptest.NewRecorder()
	ctrl.Confirm(rec, sessionRequest(t, http.MethodPost, "/api/auth/2fa/verify", `{"code":"123456"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"backupCodes":["AAAA-BBBB","CCCC-DDDD"]`)
}

func TestConfirmBadCode(t *testing.T) {
	ctrl, _ := newController(&stubService{confirmErr: mfasvc.ErrBadCode})

	rec := httptest.NewRecorder()
	ctrl.Confirm(rec, sessionRequest(t, http.MethodPost, "/api/auth/2fa/verify", `{"code":"000000"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid code")
}

func TestConfirmNotEnrolled(t *testing.T) {
	ctrl, _ := newController(&stubService{confirmErr: mfasvc.ErrNotEnrolled})

	rec := httptest.NewRecorder()
	ctrl.Confirm(rec, sessionRequest(t, http.MethodPost, "/api/auth/2fa/verify", `{"code":"123456"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "second factor is not set up")
}

func TestConfirmMissingCode(t *testing.T) {
	ctrl, _ := newController(&stubService{})

	rec := httptest.NewRecorder()
	ctrl.Confirm(rec, sessionRequest(t, http.MethodPost, "/api/auth/2fa/verify", `{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyLoginIssuesMarker(t *testing.T) {
	svc := &stubService{}
	ctrl, marker := newController(svc)

	rec := httptest.NewRecorder()
	ctrl.VerifyLogin(rec, sessionRequest(t, http.MethodPost, "/api/auth/2fa/verify-login", `{"code":"123456"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "123456", svc.verifiedCode)

	var stepUp *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieStepUp {
			stepUp = c
		}
	}
	require.NotNil(t, stepUp)

	// The minted marker verifies for the same subject and no other.
	check := httptest.NewRequest(http.MethodGet, "/", nil)
	check.AddCookie(stepUp)
	require.NoError(t, marker.Verify(check, "citizen-1"))
	require.Error(t, marker.Verify(check, "citizen-2"))
}

func TestVerifyLoginBadCode(t *testing.T) {
	ctrl, _ := newController(&stubService{verifyErr: mfasvc.ErrBadCode})

	rec := httptest.NewRecorder()
	ctrl.VerifyLogin(rec, sessionRequest(t, http.MethodPost, "/api/auth/2fa/verify-login", `{"code":"000000"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	for _, c := range rec.Result().Cookies() {
		require.NotEqual(t, session.CookieStepUp, c.Name)
	}
}

func TestStatus(t *testing.T) {
	ctrl, _ := newController(&stubService{enabled: true})

	rec := httptest.NewRecorder()
	ctrl.Status(rec, sessionRequest(t, http.MethodGet, "/api/auth/2fa/status", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"enabled":true`)
}

func TestDisable(t *testing.T) {
	svc := &stubService{}
	ctrl, _ := newController(svc)

	rec := httptest.NewRecorder()
	ctrl.Disable(rec, sessionRequest(t, http.MethodDelete, "/api/auth/2fa", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.disabled)
}

func TestMethodGuards(t *testing.T) {
	ctrl, _ := newController(&stubService{})

	for name, call := range map[string]func(http.ResponseWriter, *http.Request){
		"setup":   ctrl.Setup,
		"confirm": ctrl.Confirm,
		"verify":  ctrl.VerifyLogin,
	} {
		rec := httptest.NewRecorder()
		call(rec, httptest.NewRequest(http.MethodGet, "/api/auth/2fa/"+name, nil))
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, name)
	}
}
