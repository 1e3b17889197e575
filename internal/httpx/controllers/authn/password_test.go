package authn

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pehchan-id/pehchan/internal/session"
)

func TestForgotPassword(t *testing.T) {
	e := newEnv(t)
	e.stub.existingEmail = "ali@example.pk"

	rec := httptest.NewRecorder()
	e.ctrl.ForgotPassword(rec, postJSON("/api/auth/forgot-password", `{"email":"ali@example.pk"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["success"])
	require.Equal(t, "ali@example.pk", e.mailer.to)
	require.True(t, strings.HasPrefix(e.mailer.url, "https://portal.example.pk/reset-password?token="))
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	e := newEnv(t)

	rec := httptest.NewRecorder()
	e.ctrl.ForgotPassword(rec, postJSON("/api/auth/forgot-password", `{"email":"nobody@example.pk"}`))

	// Identical answer to the known-email case; no mail goes out.
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["success"])
	require.Empty(t, e.mailer.to)
}

func TestResetPassword(t *testing.T) {
	e := newEnv(t)
	e.stub.existingEmail = "ali@example.pk"

	// Obtain a real token via the forgot-password flow.
	rec := httptest.NewRecorder()
	e.ctrl.ForgotPassword(rec, postJSON("/api/auth/forgot-password", `{"email":"ali@example.pk"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	link, err := url.Parse(e.mailer.url)
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	rec = httptest.NewRecorder()
	e.ctrl.ResetPassword(rec, postJSON("/api/auth/reset-password",
		`{"token":"`+token+`","password":"new-pw-123"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["success"])
	require.Equal(t, "user-9", e.stub.resetUser)
	require.Contains(t, string(e.stub.resetBody), `"value":"new-pw-123"`)
}

func TestResetPasswordBadToken(t *testing.T) {
	e := newEnv(t)

	rec := httptest.NewRecorder()
	e.ctrl.ResetPassword(rec, postJSON("/api/auth/reset-password",
		`{"token":"garbage","password":"new-pw-123"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, e.stub.resetUser)
}

func TestResetPasswordRejectsForeignToken(t *testing.T) {
	e := newEnv(t)

	// Signed with a different secret; must not be accepted.
	forged := signedToken(t, "user-9", "ali@example.pk", time.Now().Add(time.Hour))

	rec := httptest.NewRecorder()
	e.ctrl.ResetPassword(rec, postJSON("/api/auth/reset-password",
		`{"token":"`+forged+`","password":"new-pw-123"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)

	r := postJSON("/api/auth/change-password",
		`{"currentPassword":"old-pw","newPassword":"new-pw-123"}`)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: "AT"})

	rec := httptest.NewRecorder()
	e.ctrl.ChangePassword(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["success"])

	// The current password was proven with a password grant first.
	require.Equal(t, "old-pw", e.stub.lastTokenForm.Get("password"))
	require.Equal(t, "citizen-1", e.stub.resetUser)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	e := newEnv(t)
	e.stub.tokenStatus = 401
	e.stub.tokenBody = `{"error":"invalid_grant"}`

	r := postJSON("/api/auth/change-password",
		`{"currentPassword":"wrong","newPassword":"new-pw-123"}`)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: "AT"})

	rec := httptest.NewRecorder()
	e.ctrl.ChangePassword(rec, r)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "current password is incorrect")
	require.Empty(t, e.stub.resetUser)
}

func TestChangePasswordRequiresSession(t *testing.T) {
	e := newEnv(t)

	rec := httptest.NewRecorder()
	e.ctrl.ChangePassword(rec, postJSON("/api/auth/change-password",
		`{"currentPassword":"old","newPassword":"new"}`))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
