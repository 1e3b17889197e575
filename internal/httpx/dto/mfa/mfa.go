// Package mfa holds the request/response shapes of the second-factor
// endpoints.
package mfa

// SetupResponse is the fresh enrollment shown on the QR page. The
// secret is returned exactly once.
type SetupResponse struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qrCodeUrl"`
}

// VerifyRequest carries a TOTP code or a backup code.
type VerifyRequest struct {
	Code string `json:"code"`
}

// ConfirmResponse is the successful first verification; the backup
// codes are plaintext here and hashed everywhere else.
type ConfirmResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backupCodes"`
}

// VerifyResponse acknowledges a step-up verification.
type VerifyResponse struct {
	Success bool `json:"success"`
}

// StatusResponse reports whether the subject has a confirmed
// enrollment.
type StatusResponse struct {
	Enabled bool `json:"enabled"`
}
