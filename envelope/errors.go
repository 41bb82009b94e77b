package envelope

import "errors"

var (
	// ErrIntegrity indicates the authentication tag did not verify: wrong key,
	// corrupted nonce/tag/ciphertext, or altered associated data.
	ErrIntegrity = errors.New("envelope: integrity check failed")

	// ErrMalformed indicates the byte layout cannot be parsed.
	ErrMalformed = errors.New("envelope: malformed envelope")

	// ErrEmptyName indicates an empty associated-data name was supplied.
	ErrEmptyName = errors.New("envelope: name is empty")

	// ErrNameTooLong indicates the name does not fit the 16-bit length prefix.
	ErrNameTooLong = errors.New("envelope: name exceeds 65535 bytes")

	// ErrInvalidKey indicates the key is not exactly 32 bytes.
	ErrInvalidKey = errors.New("envelope: key must be 32 bytes")

	// ErrUnsupportedAlgorithm indicates an unknown algorithm identifier.
	ErrUnsupportedAlgorithm = errors.New("envelope: unsupported algorithm")

	// ErrKeyDerivation indicates HKDF failed to produce a working key.
	ErrKeyDerivation = errors.New("envelope: key derivation failed")
)
