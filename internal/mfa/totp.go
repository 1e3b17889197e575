package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RFC 6238 parameters. The authenticator apps the portal targets all
// speak SHA-1, 6 digits, 30 second steps.
const (
	totpDigits = 6
	totpPeriod = 30
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns 20 random bytes and their unpadded base32
// encoding (RFC 3548), the form authenticator apps accept.
func GenerateSecret() (raw []byte, encoded string, err error) {
	raw = make([]byte, 20)
	if _, err = rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, b32.EncodeToString(raw), nil
}

// DecodeSecret parses a stored base32 secret back to raw key bytes.
func DecodeSecret(encoded string) ([]byte, error) {
	return b32.DecodeString(strings.ToUpper(strings.TrimSpace(encoded)))
}

// OTPAuthURL builds the otpauth:// URI encoded into the enrollment QR.
func OTPAuthURL(issuer, accountName, secretB32 string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", totpDigits))
	q.Set("period", fmt.Sprintf("%d", totpPeriod))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// VerifyCode checks a TOTP code against the secret within plus/minus
// windowSteps periods. Counters at or below lastCounterUsed are
// skipped, so an intercepted code cannot be replayed inside the
// window. On success it returns the counter the caller must persist.
func VerifyCode(secretRaw []byte, code string, t time.Time, windowSteps int, lastCounterUsed int64) (ok bool, counter int64) {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false, 0
	}
	current := t.Unix() / totpPeriod
	for c := current - int64(windowSteps); c <= current+int64(windowSteps); c++ {
		if c <= lastCounterUsed {
			continue
		}
		if hotp(secretRaw, c) == code {
			return true, c
		}
	}
	return false, 0
}

// hotp implements RFC 4226 with HMAC-SHA1 and dynamic truncation.
func hotp(secretRaw []byte, counter int64) string {
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	mac := hmac.New(sha1.New, secretRaw)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 |
		int(sum[offset+1])<<16 |
		int(sum[offset+2])<<8 |
		int(sum[offset+3])
	return fmt.Sprintf("%06d", bin%1000000)
}
