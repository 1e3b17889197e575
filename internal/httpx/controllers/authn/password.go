package authn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/authn"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/provider"
)

const (
	resetTokenAudience = "password-reset"
	resetTokenTTL      = time.Hour
)

// Mailer delivers the password-reset mail. Delivery itself is an
// external collaborator; the broker only composes the link.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// ForgotPassword handles POST /api/auth/forgot-password. The answer is
// identical whether or not the email has an account, so the endpoint
// cannot be used to enumerate citizens.
func (c *Controller) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.ForgotPassword"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("email is required"))
		return
	}

	user, err := c.deps.Registry.GetUserByEmail(ctx, req.Email)
	if err != nil {
		log.Error("reset lookup failed", logger.Err(err))
		writeAuthError(w, err)
		return
	}
	if user == nil {
		helpers.WriteJSON(w, http.StatusOK, dto.PasswordResponse{Success: true})
		return
	}

	token, err := c.signResetToken(user.ID, user.Email)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
		return
	}

	link := c.deps.ResetURL + "?token=" + url.QueryEscape(token)
	if err := c.deps.Mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		log.Error("reset mail delivery failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
		return
	}

	log.Info("password reset initiated", logger.Subject(user.ID))
	helpers.WriteJSON(w, http.StatusOK, dto.PasswordResponse{Success: true})
}

// ResetPassword handles POST /api/auth/reset-password: a valid emailed
// token sets a new permanent password upstream.
func (c *Controller) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.ResetPassword"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("token and password are required"))
		return
	}

	userID, err := c.parseResetToken(req.Token)
	if err != nil {
		log.Info("reset token rejected", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("invalid or expired reset token"))
		return
	}

	if err := c.deps.Registry.ResetPassword(ctx, userID, req.Password); err != nil {
		log.Error("password reset failed", logger.Subject(userID), logger.Err(err))
		writeAuthError(w, err)
		return
	}

	log.Info("password reset completed", logger.Subject(userID))
	helpers.WriteJSON(w, http.StatusOK, dto.PasswordResponse{Success: true})
}

// ChangePassword handles POST /api/auth/change-password. The current
// password is proven with a fresh password grant before the new one is
// set, so a stolen session cookie alone cannot rotate the credential.
func (c *Controller) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.ChangePassword"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("currentPassword and newPassword are required"))
		return
	}

	sess, ok := c.deps.Sessions.Current(r)
	if !ok || sess.AccessToken == "" {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	info, err := c.deps.Provider.FetchUserInfo(ctx, sess.AccessToken)
	if err != nil {
		if errors.Is(err, provider.ErrUnreachable) {
			httperrors.WriteError(w, httperrors.ErrProviderUnreachable)
			return
		}
		httperrors.WriteError(w, httperrors.ErrUnauthorized.WithDetail("invalid token"))
		return
	}

	username := info.PreferredUsername
	if username == "" {
		username = info.Email
	}
	if _, err := c.deps.Provider.Exchange(ctx, provider.ExchangeParams{
		GrantType: provider.GrantPassword,
		Username:  username,
		Password:  req.CurrentPassword,
		Scope:     provider.DefaultScope,
	}); err != nil {
		log.Info("current password rejected", logger.Subject(info.Sub))
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("current password is incorrect"))
		return
	}

	if err := c.deps.Registry.ResetPassword(ctx, info.Sub, req.NewPassword); err != nil {
		log.Error("password change failed", logger.Subject(info.Sub), logger.Err(err))
		writeAuthError(w, err)
		return
	}

	log.Info("password changed", logger.Subject(info.Sub))
	helpers.WriteJSON(w, http.StatusOK, dto.PasswordResponse{Success: true})
}

func (c *Controller) signResetToken(userID, email string) (string, error) {
	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"aud":   resetTokenAudience,
		"iat":   now.Unix(),
		"exp":   now.Add(resetTokenTTL).Unix(),
	})
	return tok.SignedString([]byte(c.deps.ResetSecret))
}

func (c *Controller) parseResetToken(raw string) (string, error) {
	tok, err := jwt.Parse(raw,
		func(*jwt.Token) (any, error) { return []byte(c.deps.ResetSecret), nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(resetTokenAudience),
	)
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("authn: reset token claims unreadable")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("authn: reset token has no subject")
	}
	return sub, nil
}
