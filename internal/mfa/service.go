// Package mfa implements the portal's second factor: TOTP enrollment
// and verification, single-use backup codes, and the step-up gate the
// gateway consults before admitting a session to protected pages.
package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/pehchan-id/pehchan/internal/observability/logger"
	"github.com/pehchan-id/pehchan/internal/profile"
)

// Service errors. Controllers map these onto the error taxonomy.
var (
	ErrNotEnrolled = errors.New("mfa: no second factor enrolled")
	ErrBadCode     = errors.New("mfa: code rejected")
)

// Service defines second-factor operations keyed by provider subject.
type Service interface {
	// Setup provisions a fresh secret (enabled stays false until the
	// first successful Confirm) and returns it with the otpauth URL.
	Setup(ctx context.Context, subject, accountName string) (*Enrollment, error)
	// Confirm verifies the first code. On success enrollment flips to
	// enabled and the backup codes are returned, plaintext, once.
	Confirm(ctx context.Context, subject, code string) (*Confirmation, error)
	// Verify checks a TOTP code or backup code for an enabled
	// enrollment. Used by the step-up page and login challenge.
	Verify(ctx context.Context, subject, code string) error
	// Enabled reports whether the subject has a confirmed enrollment.
	Enabled(ctx context.Context, subject string) (bool, error)
	// Disable removes the enrollment and all backup codes.
	Disable(ctx context.Context, subject string) error
}

// Enrollment is the Setup result shown on the QR page.
type Enrollment struct {
	Secret     string
	OTPAuthURL string
}

// Confirmation carries the one-time plaintext backup codes.
type Confirmation struct {
	BackupCodes []string
}

// Deps holds the service dependencies.
type Deps struct {
	Store  profile.Store
	Issuer string
	// Window is the accepted clock skew in 30s steps.
	Window int
	// Codes is the number of backup codes issued on Confirm.
	Codes int

	// now is swappable in tests.
	now func() time.Time
}

type service struct {
	deps Deps
}

// NewService creates the second-factor service.
func NewService(deps Deps) Service {
	if deps.Window <= 0 {
		deps.Window = 1
	}
	if deps.Codes <= 0 {
		deps.Codes = BackupCodeCount
	}
	if deps.now == nil {
		deps.now = time.Now
	}
	return &service{deps: deps}
}

func (s *service) Setup(ctx context.Context, subject, accountName string) (*Enrollment, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("mfa"),
		logger.Op("Setup"),
	)

	_, encoded, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.UpsertSecondFactor(ctx, subject, encoded); err != nil {
		log.Error("persist secret failed", logger.Err(err))
		return nil, err
	}
	return &Enrollment{
		Secret:     encoded,
		OTPAuthURL: OTPAuthURL(s.deps.Issuer, accountName, encoded),
	}, nil
}

func (s *service) Confirm(ctx context.Context, subject, code string) (*Confirmation, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("mfa"),
		logger.Op("Confirm"),
	)

	sf, err := s.deps.Store.GetSecondFactor(ctx, subject)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}

	if err := s.checkTOTP(ctx, sf, code); err != nil {
		return nil, err
	}
	if err := s.deps.Store.EnableSecondFactor(ctx, subject, s.deps.now()); err != nil {
		return nil, err
	}

	codes, hashes, err := GenerateBackupCodes(s.deps.Codes)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.ReplaceBackupCodes(ctx, subject, hashes); err != nil {
		log.Error("persist backup codes failed", logger.Err(err))
		return nil, err
	}
	log.Info("second factor enabled", logger.Subject(subject))
	return &Confirmation{BackupCodes: codes}, nil
}

func (s *service) Verify(ctx context.Context, subject, code string) error {
	sf, err := s.deps.Store.GetSecondFactor(ctx, subject)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return ErrNotEnrolled
		}
		return err
	}
	if !sf.Enabled {
		return ErrNotEnrolled
	}

	if err := s.checkTOTP(ctx, sf, code); err == nil {
		return nil
	} else if !errors.Is(err, ErrBadCode) {
		return err
	}
	return s.consumeBackupCode(ctx, subject, code)
}

func (s *service) Enabled(ctx context.Context, subject string) (bool, error) {
	sf, err := s.deps.Store.GetSecondFactor(ctx, subject)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sf.Enabled, nil
}

func (s *service) Disable(ctx context.Context, subject string) error {
	return s.deps.Store.DisableSecondFactor(ctx, subject)
}

// checkTOTP validates a code against the stored secret and advances
// the replay counter on success.
func (s *service) checkTOTP(ctx context.Context, sf *profile.SecondFactor, code string) error {
	raw, err := DecodeSecret(sf.TOTPSecret)
	if err != nil {
		return err
	}
	ok, counter := VerifyCode(raw, code, s.deps.now(), s.deps.Window, sf.LastCounter)
	if !ok {
		return ErrBadCode
	}
	return s.deps.Store.SetLastCounter(ctx, sf.Subject, counter)
}

// consumeBackupCode tries the code against every unused hash and burns
// the first match.
func (s *service) consumeBackupCode(ctx context.Context, subject, code string) error {
	code = NormalizeBackupCode(code)
	if code == "" {
		return ErrBadCode
	}
	unused, err := s.deps.Store.UnusedBackupCodes(ctx, subject)
	if err != nil {
		return err
	}
	for _, bc := range unused {
		if MatchBackupCode(bc.Hash, code) {
			return s.deps.Store.MarkBackupCodeUsed(ctx, subject, bc.ID, s.deps.now())
		}
	}
	return ErrBadCode
}
