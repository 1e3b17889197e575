package mfa

import (
	"crypto/rand"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BackupCodeCount codes are issued when TOTP enrollment is confirmed
// and again on explicit rotation. Each is single use.
const BackupCodeCount = 8

// Alphabet without lookalike characters (0/O, 1/I/L).
const backupAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const backupCodeLen = 10

// GenerateBackupCodes returns the plaintext codes (shown to the
// citizen exactly once) alongside their bcrypt hashes for storage.
func GenerateBackupCodes(n int) (codes, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := randomBackupCode()
		if err != nil {
			return nil, nil, err
		}
		h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, string(h))
	}
	return codes, hashes, nil
}

func randomBackupCode() (string, error) {
	buf := make([]byte, backupCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, b := range buf {
		sb.WriteByte(backupAlphabet[int(b)%len(backupAlphabet)])
		if i == 4 {
			sb.WriteByte('-')
		}
	}
	return sb.String(), nil
}

// NormalizeBackupCode makes user input comparable to issued codes.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, " ", "")
}

// MatchBackupCode compares a candidate against one stored hash.
func MatchBackupCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
