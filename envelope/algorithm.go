package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm identifies the AEAD construction and key size of an envelope.
// The numeric value is the first byte of the serialized envelope.
type Algorithm uint8

const (
	// AES256GCM is AES-256 in GCM mode with a 128-bit random nonce.
	AES256GCM Algorithm = 1

	// ChaCha20Poly1305 is the IETF ChaCha20-Poly1305 AEAD with a 96-bit random nonce.
	ChaCha20Poly1305 Algorithm = 2

	// DefaultAlgorithm is used when configuration does not name one.
	DefaultAlgorithm = AES256GCM

	// TagSize is the authentication tag length for every supported algorithm.
	TagSize = 16
)

// algorithms lists every supported construction.
var algorithms = []Algorithm{AES256GCM, ChaCha20Poly1305}

// String returns the configuration name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AES256GCM:
		return "aes-256-gcm"
	case ChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
// The empty string selects DefaultAlgorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultAlgorithm, nil
	case "aes-256-gcm", "aes256gcm":
		return AES256GCM, nil
	case "chacha20-poly1305", "chacha20poly1305":
		return ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// NonceSize returns the nonce length in bytes, or 0 for unknown algorithms.
func (a Algorithm) NonceSize() int {
	switch a {
	case AES256GCM:
		return 16
	case ChaCha20Poly1305:
		return chacha20poly1305.NonceSize
	default:
		return 0
	}
}

// newAEAD builds the cipher for this algorithm over a derived working key.
func (a Algorithm) newAEAD(key []byte) (cipher.AEAD, error) {
	switch a {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("envelope: AES cipher creation failed: %w", err)
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, a.NonceSize())
		if err != nil {
			return nil, fmt.Errorf("envelope: GCM creation failed: %w", err)
		}
		return gcm, nil
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("envelope: ChaCha20-Poly1305 creation failed: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, uint8(a))
	}
}
