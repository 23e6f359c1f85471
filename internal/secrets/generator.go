package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// SecretBytes is the entropy drawn for every signing secret.
const SecretBytes = 32

const objectIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate draws SecretBytes from r (crypto/rand when nil) and returns them as
// unpadded URL-safe base64.
func Generate(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, SecretBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewObjectID returns prefix + "_" + 16 alphanumeric characters.
func NewObjectID(prefix string, r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, 16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = objectIDAlphabet[int(b)%len(objectIDAlphabet)]
	}
	return prefix + "_" + string(buf), nil
}
