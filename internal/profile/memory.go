package profile

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and DSN-less development.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	factors  map[string]SecondFactor
	codes    map[string][]BackupCode
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]Profile),
		factors:  make(map[string]SecondFactor),
		codes:    make(map[string][]BackupCode),
	}
}

func (s *Memory) UpsertProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if prev, ok := s.profiles[p.Subject]; ok {
		p.CreatedAt = prev.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.Subject] = p
	return nil
}

func (s *Memory) GetProfile(_ context.Context, subject string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *Memory) GetProfileByEmail(_ context.Context, email string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Email == email {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) DeleteProfile(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, subject)
	delete(s.factors, subject)
	delete(s.codes, subject)
	return nil
}

func (s *Memory) UpsertSecondFactor(_ context.Context, subject, totpSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factors[subject] = SecondFactor{Subject: subject, TOTPSecret: totpSecret}
	return nil
}

func (s *Memory) GetSecondFactor(_ context.Context, subject string) (*SecondFactor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sf, ok := s.factors[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return &sf, nil
}

func (s *Memory) EnableSecondFactor(_ context.Context, subject string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, ok := s.factors[subject]
	if !ok {
		return ErrNotFound
	}
	sf.Enabled = true
	sf.ConfirmedAt = &at
	s.factors[subject] = sf
	return nil
}

func (s *Memory) SetLastCounter(_ context.Context, subject string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, ok := s.factors[subject]
	if !ok {
		return ErrNotFound
	}
	if counter > sf.LastCounter {
		sf.LastCounter = counter
		s.factors[subject] = sf
	}
	return nil
}

func (s *Memory) DisableSecondFactor(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.factors, subject)
	delete(s.codes, subject)
	return nil
}

func (s *Memory) ReplaceBackupCodes(_ context.Context, subject string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BackupCode, 0, len(hashes))
	for _, h := range hashes {
		s.nextID++
		out = append(out, BackupCode{ID: s.nextID, Hash: h})
	}
	s.codes[subject] = out
	return nil
}

func (s *Memory) UnusedBackupCodes(_ context.Context, subject string) ([]BackupCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BackupCode
	for _, bc := range s.codes[subject] {
		if bc.UsedAt == nil {
			out = append(out, bc)
		}
	}
	return out, nil
}

func (s *Memory) MarkBackupCodeUsed(_ context.Context, subject string, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.codes[subject]
	for i := range list {
		if list[i].ID == id && list[i].UsedAt == nil {
			list[i].UsedAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() {}
