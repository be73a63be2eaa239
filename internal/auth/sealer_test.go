package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestSealer_RoundTrip(t *testing.T) {
	s := NewSealer(strings.Repeat("c", 32))

	sealed, err := s.Seal("sk-secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "sk-secret") {
		t.Errorf("Seal() = %s, want opaque sealed value", sealed)
	}

	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if plain != "sk-secret" {
		t.Errorf("Open() = %s, want sk-secret", plain)
	}
}

func TestSealer_EmptyAndPlain(t *testing.T) {
	s := NewSealer(strings.Repeat("c", 32))

	if sealed, _ := s.Seal(""); sealed != "" {
		t.Errorf("Seal(\"\") = %q, want empty", sealed)
	}
	if plain, _ := s.Open("sk-plain"); plain != "sk-plain" {
		t.Errorf("Open(plain) = %s, want passthrough", plain)
	}
}

func TestSealer_Nil(t *testing.T) {
	var s *Sealer = NewSealer("")

	if sealed, _ := s.Seal("sk"); sealed != "sk" {
		t.Errorf("nil Seal() = %s, want passthrough", sealed)
	}

	sealed, _ := NewSealer(strings.Repeat("c", 32)).Seal("sk")
	if _, err := s.Open(sealed); !errors.Is(err, ErrUnsealFailed) {
		t.Errorf("nil Open(sealed) error = %v, want ErrUnsealFailed", err)
	}
}

func TestSealer_WrongKey(t *testing.T) {
	sealed, _ := NewSealer(strings.Repeat("a", 32)).Seal("sk")
	if _, err := NewSealer(strings.Repeat("b", 32)).Open(sealed); !errors.Is(err, ErrUnsealFailed) {
		t.Errorf("Open() error = %v, want ErrUnsealFailed", err)
	}
}
