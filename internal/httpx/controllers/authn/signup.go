package authn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	dto "github.com/pehchan-id/pehchan/internal/httpx/dto/authn"
	httperrors "github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/httpx/helpers"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/profile"
	"github.com/pehchan-id/pehchan/internal/provider/admin"
)

const cnicDigits = 13

// Signup handles POST /api/auth/signup. The citizen is created at the
// provider first and mirrored into the profile store second; if the
// mirror write fails the provider account is deleted again so the two
// systems never disagree about who exists.
//
// ?action=check-email turns the call into an availability probe.
func (c *Controller) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("authn.Signup"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if r.URL.Query().Get("action") == "check-email" {
		c.checkEmail(w, r)
		return
	}

	var req dto.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}

	if req.Email == "" || req.PhoneNumber == "" || req.CNIC == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("email, phone number, cnic and password are required"))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	cnic := normalizeCNIC(req.CNIC)
	if cnic == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("cnic must be a valid 13-digit number"))
		return
	}

	if existing, err := c.deps.Registry.GetUserByEmail(ctx, email); err == nil && existing != nil {
		httperrors.WriteError(w, httperrors.ErrAlreadyExists.WithDetail("email already exists"))
		return
	}

	userID, err := c.deps.Registry.CreateUser(ctx, admin.UserRepresentation{
		Username:      email,
		Email:         email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Enabled:       true,
		EmailVerified: false,
		Attributes: map[string][]string{
			"phoneNumber":         {req.PhoneNumber},
			"phoneNumberVerified": {"true"},
			"cnic":                {cnic},
		},
		Credentials: []admin.Credential{{
			Type:      "password",
			Value:     req.Password,
			Temporary: false,
		}},
	})
	if err != nil {
		log.Error("provider user creation failed", logger.Err(err))
		writeAuthError(w, err)
		return
	}

	p := profile.Profile{
		Subject:  userID,
		Email:    email,
		FullName: strings.TrimSpace(req.FirstName + " " + req.LastName),
		Phone:    req.PhoneNumber,
		CNIC:     cnic,
	}
	if err := c.deps.Profiles.UpsertProfile(ctx, p); err != nil {
		log.Error("profile mirror failed, rolling back provider account",
			logger.Subject(userID), logger.Err(err))
		if delErr := c.deps.Registry.DeleteUser(ctx, userID); delErr != nil {
			log.Error("rollback failed, provider account orphaned",
				logger.Subject(userID), logger.Err(delErr))
		}
		httperrors.WriteError(w, httperrors.ErrInternal.WithCause(err))
		return
	}

	log.Info("citizen registered", logger.Subject(userID))
	helpers.WriteJSON(w, http.StatusCreated, dto.SignupResponse{
		Success: true,
		UserID:  userID,
		Message: "Account created successfully. Please verify your email to complete the setup.",
	})
}

// checkEmail probes both the provider and the profile store so an
// account that exists in only one of them still reads as taken.
func (c *Controller) checkEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("email is required"))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	exists := c.emailTaken(r.Context(), email)
	helpers.WriteJSON(w, http.StatusOK, dto.CheckEmailResponse{Exists: exists})
}

func (c *Controller) emailTaken(ctx context.Context, email string) bool {
	if u, err := c.deps.Registry.GetUserByEmail(ctx, email); err == nil && u != nil {
		return true
	}
	if _, err := c.deps.Profiles.GetProfileByEmail(ctx, email); err == nil {
		return true
	} else if !errors.Is(err, profile.ErrNotFound) {
		logger.From(ctx).Warn("profile email check failed", logger.Err(err))
	}
	return false
}

// normalizeCNIC strips separators and returns the bare 13 digits, or
// empty when the input is not a CNIC.
func normalizeCNIC(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() != cnicDigits {
		return ""
	}
	return b.String()
}
