package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/hookq/pkg/domain"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer protects subscription secrets at rest. Only the dispatcher opens them.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

const (
	prefixV1    = "v1:"
	prefixPlain = "plain:"
)

type aeadSealer struct {
	key []byte
}

// NewSealer builds an XChaCha20-Poly1305 sealer from a base64 (std or URL)
// 32-byte key.
func NewSealer(encodedKey string) (Sealer, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(encodedKey)
	}
	if err != nil {
		return nil, fmt.Errorf("decode secret encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &aeadSealer{key: key}, nil
}

func (s *aeadSealer) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefixV1 + base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *aeadSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, prefixV1) {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: fmt.Errorf("unsupported sealed format")}
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, prefixV1))
	if err != nil {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: err}
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: err}
	}
	if len(raw) < aead.NonceSize() {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: fmt.Errorf("sealed value too short")}
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: err}
	}
	if len(pt) == 0 {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: domain.ErrMissingSecret}
	}
	return string(pt), nil
}

type plainSealer struct{}

// NewPlainSealer stores secrets unencrypted. Dev only.
func NewPlainSealer() Sealer { return plainSealer{} }

func (plainSealer) Seal(plaintext string) (string, error) {
	return prefixPlain + plaintext, nil
}

func (plainSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, prefixPlain) {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: fmt.Errorf("unsupported sealed format")}
	}
	v := strings.TrimPrefix(sealed, prefixPlain)
	if v == "" {
		return "", &domain.FatalConfigurationError{Reason: "open secret", Err: domain.ErrMissingSecret}
	}
	return v, nil
}
