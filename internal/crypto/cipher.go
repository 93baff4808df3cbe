// Package crypto provides the optional at-rest cipher for analysis payloads
// and transcripts.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// magic prefixes every ciphertext so Decrypt can tell sealed blobs from
// plaintext bytes written while encryption was off.
var magic = []byte("etk1")

var ErrInvalidKey = errors.New("encryption key must be 32 bytes, base64 encoded")

type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

type SecretBox struct {
	key [keySize]byte
}

// NewSecretBox parses a base64 (std or url) 32-byte key.
func NewSecretBox(encodedKey string) (*SecretBox, error) {
	raw, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	if len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	sb := &SecretBox{}
	copy(sb.key[:], raw)
	return sb, nil
}

func decodeKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidKey
}

// GenerateKey returns a fresh base64 key suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	var k [keySize]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}

func (s *SecretBox) Encrypt(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	out := make([]byte, 0, len(magic)+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, magic...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, &s.key), nil
}

// Decrypt opens a sealed blob. Blobs without the ciphertext prefix are
// returned as-is (stored while encryption was disabled).
func (s *SecretBox) Decrypt(blob []byte) ([]byte, error) {
	if !IsSealed(blob) {
		return blob, nil
	}
	body := blob[len(magic):]
	if len(body) < nonceSize+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], body[:nonceSize])
	plain, ok := secretbox.Open(nil, body[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("decrypt failed: wrong key or corrupted data")
	}
	return plain, nil
}

func IsSealed(blob []byte) bool {
	return len(blob) >= len(magic) && string(blob[:len(magic)]) == string(magic)
}

// FromConfig returns nil when encryption is disabled or no key is set.
func FromConfig(enabled bool, key string) (Cipher, error) {
	if !enabled || key == "" {
		return nil, nil
	}
	sb, err := NewSecretBox(key)
	if err != nil {
		return nil, err
	}
	return sb, nil
}
