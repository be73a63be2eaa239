package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sealed:v1:"

var ErrUnsealFailed = errors.New("could not unseal credential")

// Sealer encrypts backend API keys before they are written to the profile
// document. A nil Sealer stores keys as-is.
type Sealer struct {
	key [32]byte
}

// NewSealer returns nil when key is empty
func NewSealer(key string) *Sealer {
	if key == "" {
		return nil
	}
	return &Sealer{key: sha256.Sum256([]byte(key))}
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" || strings.HasPrefix(plaintext, sealedPrefix) {
		return plaintext, nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("error generating nonce: %w", err)
	}

	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal. Values without the sealed prefix pass through unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s == nil {
		return "", ErrUnsealFailed
	}

	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(box) < 24 {
		return "", ErrUnsealFailed
	}

	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", ErrUnsealFailed
	}
	return string(plain), nil
}
