package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	enc, err := NewAESEncryptor(key)
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{"empty key", "", "encryption key is empty"},
		{"invalid base64", "not-valid-base64!@#$", "invalid encryption key"},
		{"key too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), "must be 32 bytes"},
		{"key too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), "must be 32 bytes"},
		{"valid", base64.StdEncoding.EncodeToString(make([]byte, 32)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.errorMsg == "" {
				if err != nil || enc == nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error = %v, want containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)
	for _, pt := range []string{"a", `{"access_token":"x","refresh_token":"y"}`, strings.Repeat("z", 4096), "ünïcødé"} {
		ct, err := enc.Encrypt([]byte(pt))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if bytes.Contains(ct, []byte(pt)) {
			t.Error("ciphertext contains plaintext")
		}
		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if string(got) != pt {
			t.Errorf("round trip = %q, want %q", got, pt)
		}
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	enc := newTestEncryptor(t)
	a, _ := enc.Encrypt([]byte("same"))
	b, _ := enc.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestEncryptEmpty(t *testing.T) {
	if _, err := newTestEncryptor(t).Encrypt(nil); err == nil {
		t.Error("expected error for empty plaintext")
	}
}

func TestDecryptFailures(t *testing.T) {
	enc := newTestEncryptor(t)
	ct, _ := enc.Encrypt([]byte("secret"))

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := enc.Decrypt(tampered); !errors.Is(err, ErrDecrypt) {
		t.Errorf("tampered ciphertext: expected ErrDecrypt, got %v", err)
	}
	if _, err := enc.Decrypt(ct[:5]); !errors.Is(err, ErrDecrypt) {
		t.Errorf("short ciphertext: expected ErrDecrypt, got %v", err)
	}
	if _, err := newTestEncryptor(t).Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong key: expected ErrDecrypt, got %v", err)
	}
}

func TestKeyID(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))
	a, _ := NewAESEncryptor(key)
	b, _ := NewAESEncryptor(key)
	if a.KeyID() == "" || a.KeyID() != b.KeyID() {
		t.Errorf("key IDs = %q, %q", a.KeyID(), b.KeyID())
	}
	if newTestEncryptor(t).KeyID() == a.KeyID() {
		t.Error("different keys should have different IDs")
	}
}

func TestStringHelpers(t *testing.T) {
	enc := newTestEncryptor(t)
	s, err := EncryptString(enc, "token")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		t.Errorf("not base64: %v", err)
	}
	got, err := DecryptString(enc, s, enc.KeyID())
	if err != nil || got != "token" {
		t.Fatalf("DecryptString = %q, %v", got, err)
	}
	got, err = DecryptString(enc, s, "")
	if err != nil || got != "token" {
		t.Fatalf("DecryptString without key id = %q, %v", got, err)
	}

	if _, err := DecryptString(enc, s, "deadbeef"); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch, got %v", err)
	}
	if _, err := DecryptString(enc, "%%%", ""); !IsUnreadable(err) {
		t.Errorf("expected unreadable base64 error, got %v", err)
	}

	empty, err := EncryptString(enc, "")
	if err != nil || empty != "" {
		t.Errorf("EncryptString(\"\") = %q, %v", empty, err)
	}
	empty, err = DecryptString(enc, "", "")
	if err != nil || empty != "" {
		t.Errorf("DecryptString(\"\") = %q, %v", empty, err)
	}
}

func TestIsUnreadable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"key mismatch", fmt.Errorf("find token: key ab: %w", ErrKeyMismatch), true},
		{"no key", fmt.Errorf("find token: %w", ErrNoKey), true},
		{"decrypt", fmt.Errorf("find token: %w", ErrDecrypt), true},
		{"outage", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnreadable(tt.err); got != tt.want {
				t.Errorf("IsUnreadable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
