package authn

// ForgotPasswordRequest starts a password reset by email.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest completes a reset with an emailed token.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ChangePasswordRequest changes the password of a signed-in citizen.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// PasswordResponse acknowledges a password operation.
type PasswordResponse struct {
	Success bool `json:"success"`
}
