// Package envelope implements the authenticated-encryption container used to
// protect files at rest in an untrusted content-addressed store.
//
// A single process-wide 256-bit Key is expanded into one working key per AEAD
// construction:
//
//	aead_key = HKDF-SHA256(key, salt=nil, info="certvault-envelope/<algorithm>")
//
// The file name travels in clear inside the envelope and is bound into the
// authentication tag as associated data, together with the rest of the header.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length of the process key in bytes (256 bits).
	KeySize = 32

	// hkdfInfoPrefix is the HKDF info prefix; the algorithm name is appended.
	hkdfInfoPrefix = "certvault-envelope/"
)

// Key is the process-wide symmetric secret. It is never mutated after
// construction and is safe to share between goroutines.
type Key [KeySize]byte

// GenerateKey returns a fresh random key from crypto/rand.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("envelope: generate key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a 64-character hex string into a Key.
func ParseKey(s string) (Key, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return KeyFromBytes(raw)
}

// KeyFromBytes copies a 32-byte slice into a Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Hex returns the key as lowercase hex. Only for persisting configuration.
func (k Key) Hex() string { return hex.EncodeToString(k[:]) }

// IsZero reports whether the key is all zero bytes.
func (k Key) IsZero() bool { return k == Key{} }

// String never prints key material.
func (k Key) String() string { return "envelope.Key([redacted])" }

// deriveKey derives the working key for one AEAD construction.
func deriveKey(master Key, alg Algorithm) ([]byte, error) {
	r := hkdf.New(sha256.New, master[:], nil, []byte(hkdfInfoPrefix+alg.String()))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, err)
	}
	return out, nil
}
