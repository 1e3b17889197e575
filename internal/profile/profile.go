// Package profile is the broker's only server-side state: a shadow
// record per citizen for portal bookkeeping, and the second-factor
// material (TOTP secret, backup codes) that the upstream provider does
// not hold for us. Sessions never live here.
package profile

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row exists for the subject.
var ErrNotFound = errors.New("profile: not found")

// Profile is the local shadow of a citizen account. The provider owns
// credentials and identity claims; this row only records what the
// portal itself needs (display data, enrollment timestamps).
type Profile struct {
	Subject   string
	Email     string
	FullName  string
	Phone     string
	CNIC      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SecondFactor holds one citizen's TOTP enrollment. The secret is the
// raw base32 value; Enabled flips only after the first successful
// verification. LastCounter is the highest accepted TOTP counter and
// guards against code replay inside the validity window.
type SecondFactor struct {
	Subject     string
	TOTPSecret  string
	Enabled     bool
	LastCounter int64
	ConfirmedAt *time.Time
}

// BackupCode is one single-use recovery code, stored as a bcrypt hash.
type BackupCode struct {
	ID      int64
	Hash    string
	UsedAt  *time.Time
}

// Store persists profiles and second-factor state. Implementations:
// Postgres for deployments, Memory for tests and DSN-less dev runs.
type Store interface {
	UpsertProfile(ctx context.Context, p Profile) error
	GetProfile(ctx context.Context, subject string) (*Profile, error)
	// GetProfileByEmail backs the pre-signup availability check.
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)
	// DeleteProfile also removes second-factor rows. Used by the
	// signup saga to compensate a failed enrollment.
	DeleteProfile(ctx context.Context, subject string) error

	// UpsertSecondFactor stores a fresh secret with Enabled=false,
	// discarding any previous enrollment for the subject.
	UpsertSecondFactor(ctx context.Context, subject, totpSecret string) error
	GetSecondFactor(ctx context.Context, subject string) (*SecondFactor, error)
	EnableSecondFactor(ctx context.Context, subject string, at time.Time) error
	SetLastCounter(ctx context.Context, subject string, counter int64) error
	DisableSecondFactor(ctx context.Context, subject string) error

	// ReplaceBackupCodes discards all codes for the subject and
	// inserts the given bcrypt hashes.
	ReplaceBackupCodes(ctx context.Context, subject string, hashes []string) error
	// UnusedBackupCodes returns codes not yet consumed. Callers do the
	// bcrypt comparison; the store cannot look codes up by value.
	UnusedBackupCodes(ctx context.Context, subject string) ([]BackupCode, error)
	MarkBackupCodeUsed(ctx context.Context, subject string, id int64, at time.Time) error

	Ping(ctx context.Context) error
	Close()
}
