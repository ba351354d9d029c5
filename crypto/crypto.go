// Package crypto seals saved credentials at rest with AES-256-GCM. Each
// ciphertext is tagged with the key ID that produced it so rows written
// under a previous key are detected instead of silently failing to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrKeyMismatch is returned when a ciphertext was sealed under another key.
	ErrKeyMismatch = errors.New("ciphertext was sealed with a different key")
	// ErrNoKey is returned when a sealed value is read without a key configured.
	ErrNoKey = errors.New("value is encrypted but no encryption key is configured")
	// ErrDecrypt is returned for ciphertexts that fail to open.
	ErrDecrypt = errors.New("decryption failed")
)

// IsUnreadable reports whether err means the ciphertext can never be opened
// with the current configuration, as opposed to a transient failure.
func IsUnreadable(err error) bool {
	return errors.Is(err, ErrKeyMismatch) || errors.Is(err, ErrNoKey) || errors.Is(err, ErrDecrypt)
}

// Encryptor is authenticated encryption for small secrets.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	// KeyID names the key, for storage next to the ciphertext.
	KeyID() string
}

// AESEncryptor implements Encryptor with AES-256-GCM. Output layout is
// nonce || ciphertext || tag.
type AESEncryptor struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESEncryptor builds an encryptor from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid encryption key: must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESEncryptor{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// GenerateKey returns a fresh random key in the form NewAESEncryptor takes.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func (e *AESEncryptor) KeyID() string { return e.keyID }

func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(ciphertext) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short: %d bytes", ErrDecrypt, len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		// Do not leak the underlying cause.
		return nil, fmt.Errorf("%w: authentication check failed", ErrDecrypt)
	}
	return plaintext, nil
}

// EncryptString seals plaintext and returns base64 text for a TEXT column.
// The empty string is stored as is.
func EncryptString(enc Encryptor, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString. keyID is the ID stored with the
// ciphertext; an empty keyID skips the check.
func DecryptString(enc Encryptor, ciphertext, keyID string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if keyID != "" && keyID != enc.KeyID() {
		return "", fmt.Errorf("key %s: %w", keyID, ErrKeyMismatch)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", ErrDecrypt, err)
	}
	pt, err := enc.Decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
