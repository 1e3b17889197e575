package mfa

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateSecretShape(t *testing.T) {
	raw, encoded, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(raw) != 20 {
		t.Fatalf("raw length = %d, want 20", len(raw))
	}
	if strings.Contains(encoded, "=") {
		t.Fatalf("encoded secret has padding: %q", encoded)
	}
	back, err := DecodeSecret(encoded)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(back) != string(raw) {
		t.Fatal("decode does not round-trip")
	}
}

func TestOTPAuthURL(t *testing.T) {
	u := OTPAuthURL("Pehchan", "citizen@example.pk", "JBSWY3DP")
	for _, want := range []string{
		"otpauth://totp/",
		"secret=JBSWY3DP",
		"issuer=Pehchan",
		"algorithm=SHA1",
		"digits=6",
		"period=30",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("URL %q missing %q", u, want)
		}
	}
}

func TestVerifyCode(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1700000000, 0)
	counter := now.Unix() / 30

	code := hotp(secret, counter)
	ok, got := VerifyCode(secret, code, now, 1, 0)
	if !ok || got != counter {
		t.Fatalf("current-step code rejected (ok=%v counter=%d want %d)", ok, got, counter)
	}

	// One step behind is inside the default window.
	prev := hotp(secret, counter-1)
	if ok, _ := VerifyCode(secret, prev, now, 1, 0); !ok {
		t.Fatal("previous-step code rejected inside window")
	}

	// Two steps behind is outside.
	stale := hotp(secret, counter-2)
	if ok, _ := VerifyCode(secret, stale, now, 1, 0); ok {
		t.Fatal("code two steps back accepted")
	}

	if ok, _ := VerifyCode(secret, "000000", now, 1, 0); ok {
		t.Fatal("wrong code accepted")
	}
	if ok, _ := VerifyCode(secret, "12345", now, 1, 0); ok {
		t.Fatal("short code accepted")
	}
}

func TestVerifyCodeReplay(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1700000000, 0)
	counter := now.Unix() / 30
	code := hotp(secret, counter)

	ok, used := VerifyCode(secret, code, now, 1, 0)
	if !ok {
		t.Fatal("first use rejected")
	}
	// Same code with the counter recorded must fail.
	if ok, _ := VerifyCode(secret, code, now, 1, used); ok {
		t.Fatal("replayed code accepted")
	}
}
