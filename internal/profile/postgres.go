package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and pings. The DSN is a standard pgx URL; pool
// sizing is left to DSN parameters.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("profile: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO citizen_profile (subject, email, full_name, phone, cnic)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject)
		DO UPDATE SET email = EXCLUDED.email,
		              full_name = EXCLUDED.full_name,
		              phone = EXCLUDED.phone,
		              cnic = EXCLUDED.cnic,
		              updated_at = now()
	`, p.Subject, p.Email, p.FullName, p.Phone, p.CNIC)
	return err
}

func (s *Postgres) GetProfile(ctx context.Context, subject string) (*Profile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subject, email, full_name, phone, cnic, created_at, updated_at
		FROM citizen_profile WHERE subject = $1
	`, subject)
	return scanProfile(row)
}

func (s *Postgres) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subject, email, full_name, phone, cnic, created_at, updated_at
		FROM citizen_profile WHERE email = $1
		LIMIT 1
	`, email)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.Subject, &p.Email, &p.FullName, &p.Phone, &p.CNIC, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) DeleteProfile(ctx context.Context, subject string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM citizen_second_factor WHERE subject = $1`, subject); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM citizen_backup_code WHERE subject = $1`, subject); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM citizen_profile WHERE subject = $1`, subject)
	return err
}

func (s *Postgres) UpsertSecondFactor(ctx context.Context, subject, totpSecret string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO citizen_second_factor (subject, totp_secret, enabled, last_counter)
		VALUES ($1, $2, false, 0)
		ON CONFLICT (subject)
		DO UPDATE SET totp_secret = EXCLUDED.totp_secret,
		              enabled = false,
		              last_counter = 0,
		              confirmed_at = NULL,
		              updated_at = now()
	`, subject, totpSecret)
	return err
}

func (s *Postgres) GetSecondFactor(ctx context.Context, subject string) (*SecondFactor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subject, totp_secret, enabled, last_counter, confirmed_at
		FROM citizen_second_factor WHERE subject = $1
	`, subject)
	var sf SecondFactor
	if err := row.Scan(&sf.Subject, &sf.TOTPSecret, &sf.Enabled, &sf.LastCounter, &sf.ConfirmedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sf, nil
}

func (s *Postgres) EnableSecondFactor(ctx context.Context, subject string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE citizen_second_factor
		SET enabled = true, confirmed_at = $2, updated_at = now()
		WHERE subject = $1
	`, subject, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetLastCounter(ctx context.Context, subject string, counter int64) error {
	// Monotonic guard: a stale writer never lowers the counter.
	_, err := s.pool.Exec(ctx, `
		UPDATE citizen_second_factor
		SET last_counter = GREATEST(last_counter, $2), updated_at = now()
		WHERE subject = $1
	`, subject, counter)
	return err
}

func (s *Postgres) DisableSecondFactor(ctx context.Context, subject string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM citizen_second_factor WHERE subject = $1`, subject); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM citizen_backup_code WHERE subject = $1`, subject)
	return err
}

func (s *Postgres) ReplaceBackupCodes(ctx context.Context, subject string, hashes []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM citizen_backup_code WHERE subject = $1`, subject); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO citizen_backup_code (subject, code_hash) VALUES ($1, $2)
		`, subject, h); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) UnusedBackupCodes(ctx context.Context, subject string) ([]BackupCode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code_hash, used_at
		FROM citizen_backup_code
		WHERE subject = $1 AND used_at IS NULL
		ORDER BY id
	`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BackupCode
	for rows.Next() {
		var bc BackupCode
		if err := rows.Scan(&bc.ID, &bc.Hash, &bc.UsedAt); err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkBackupCodeUsed(ctx context.Context, subject string, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE citizen_backup_code
		SET used_at = $3
		WHERE subject = $1 AND id = $2 AND used_at IS NULL
	`, subject, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	s.pool.Close()
}
