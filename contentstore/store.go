// Package contentstore is the client side of the content-addressed blob store
// that holds encrypted envelopes. Addresses are opaque strings chosen by the
// store; the same bytes always map to the same address.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Store provides content-addressed storage for envelope bytes.
type Store interface {
	// Put stores blob and returns its content address.
	Put(ctx context.Context, blob []byte) (string, error)

	// Get retrieves the blob held at address. It returns ErrNotFound when the
	// store has forgotten the address or never held it.
	Get(ctx context.Context, address string) ([]byte, error)

	// Remove asks the store to forget address. Removal is best-effort and
	// callers must not treat a failure as fatal.
	Remove(ctx context.Context, address string) error
}

// AddressSize is the length of a FileStore address in hex characters.
const AddressSize = 2 * sha256.Size

// AddressOf returns the FileStore address of blob: hex(SHA-256(blob)).
func AddressOf(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
