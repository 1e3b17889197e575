package authn

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/authn"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/session"
)

// Check handles GET /api/auth/check. It reports what the cookies say
// without any provider round trip, and always answers 200.
func (c *Controller) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	resp := dto.CheckResponse{}
	if ck, err := r.Cookie(session.CookieRefreshToken); err == nil && ck.Value != "" {
		resp.RefreshTokenExists = true
	}
	if ck, err := r.Cookie(session.CookieAccessToken); err == nil && ck.Value != "" {
		resp.AccessTokenExists = true
		resp.IsAuthenticated = true
		resp.TokenInfo = decodeClaims(ck.Value)
	}

	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// decodeClaims decodes the JWT payload without verifying the signature.
// The provider verified it when issuing; this endpoint only mirrors the
// claims back to the frontend.
func decodeClaims(raw string) map[string]any {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}
