package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/osvaldoandrade/hookq/pkg/domain"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateLengthAndEncoding(t *testing.T) {
	s, err := Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("not url-safe base64: %v", err)
	}
	if len(raw) < 32 {
		t.Fatalf("expected >= 32 bytes of entropy, got %d", len(raw))
	}
	other, _ := Generate(nil)
	if s == other {
		t.Fatal("two secrets should not collide")
	}
}

func TestGenerateFailsOnEntropyError(t *testing.T) {
	if _, err := Generate(failingReader{}); err == nil {
		t.Fatal("expected entropy failure")
	}
	short := bytes.NewReader(make([]byte, 10))
	if _, err := Generate(short); err == nil {
		t.Fatal("expected short read failure")
	}
}

func TestNewObjectID(t *testing.T) {
	id, err := NewObjectID("webhook", nil)
	if err != nil {
		t.Fatalf("object id: %v", err)
	}
	if !strings.HasPrefix(id, "webhook_") || len(id) != len("webhook_")+16 {
		t.Fatalf("unexpected id %q", id)
	}
}

func testKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
}

func TestAEADSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	sealed, err := s.Seal("top-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(sealed, "top-secret") {
		t.Fatal("sealed value leaks plaintext")
	}
	again, _ := s.Seal("top-secret")
	if sealed == again {
		t.Fatal("expected random nonce per seal")
	}
	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got != "top-secret" {
		t.Fatalf("got %q", got)
	}
}

func TestAEADSealerRejectsTampering(t *testing.T) {
	s, _ := NewSealer(testKey())
	sealed, _ := s.Seal("value")
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, "v1:"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	tampered := "v1:" + base64.RawStdEncoding.EncodeToString(raw)
	_, err = s.Open(tampered)
	var fce *domain.FatalConfigurationError
	if !errors.As(err, &fce) {
		t.Fatalf("expected FatalConfigurationError, got %v", err)
	}
	if _, err := s.Open("plain:value"); err == nil {
		t.Fatal("aead sealer must not accept plain values")
	}
}

func TestNewSealerBadKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not base64", "%%%"},
		{"short", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSealer(tt.key); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPlainSealer(t *testing.T) {
	s := NewPlainSealer()
	sealed, _ := s.Seal("abc")
	got, err := s.Open(sealed)
	if err != nil || got != "abc" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := s.Open("plain:"); !errors.Is(err, domain.ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}
