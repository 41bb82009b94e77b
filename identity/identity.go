// Package identity holds the secp256k1 key that names an acting issuer.
//
// An identity's ID is the hex compressed public key. Ledger mutations carry
// the actor's ID and a signature over the call, so a ledger node can check
// that the caller holds the key for the identity it claims.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
)

// PrivateKeySize is the serialized length of a secp256k1 private key.
const PrivateKeySize = 32

var (
	// ErrInvalidKey indicates private key bytes could not be parsed.
	ErrInvalidKey = errors.New("identity: invalid private key")

	// ErrInvalidID indicates an identity string is not a compressed public key.
	ErrInvalidID = errors.New("identity: invalid identity")

	// ErrBadSignature indicates a signature does not verify for the identity.
	ErrBadSignature = errors.New("identity: signature verification failed")
)

// Identity is an issuer key pair. It is immutable and safe for concurrent use.
type Identity struct {
	priv *ec.PrivateKey
	id   string
}

// Generate creates a new random identity.
func Generate() (*Identity, error) {
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// FromBytes restores an identity from a 32-byte private key.
func FromBytes(b []byte) (*Identity, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(b))
	}
	allZero := true
	for _, c := range b {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, fmt.Errorf("%w: zero key", ErrInvalidKey)
	}
	priv, _ := ec.PrivateKeyFromBytes(b)
	return fromPrivateKey(priv), nil
}

func fromPrivateKey(priv *ec.PrivateKey) *Identity {
	return &Identity{
		priv: priv,
		id:   hex.EncodeToString(priv.PubKey().Compressed()),
	}
}

// ID returns the hex compressed public key naming this identity.
func (i *Identity) ID() string { return i.id }

// String returns the identity ID. Key material is never printed.
func (i *Identity) String() string { return i.id }

// Sign returns a DER signature over SHA256d(msg).
func (i *Identity) Sign(msg []byte) ([]byte, error) {
	sig, err := i.priv.Sign(bsvhash.Sha256d(msg))
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	return sig.Serialize(), nil
}

// Verify checks that sig is a valid signature by id over msg.
func Verify(id string, msg, sig []byte) error {
	pub, err := ParseID(id)
	if err != nil {
		return err
	}
	parsed, err := ec.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !parsed.Verify(bsvhash.Sha256d(msg), pub) {
		return ErrBadSignature
	}
	return nil
}

// ParseID decodes an identity string into its public key.
func ParseID(id string) (*ec.PublicKey, error) {
	b, err := hex.DecodeString(id)
	if err != nil || len(b) != 33 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	pub, err := ec.PublicKeyFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return pub, nil
}

// Load reads a hex private key from path.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return FromBytes(b)
}

// Save writes the private key as hex to path with 0600 permissions.
func (i *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("identity: create dir: %w", err)
	}
	data := hex.EncodeToString(i.priv.Serialize()) + "\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

// LoadOrCreate loads the identity at path, generating and saving a new one
// when the file does not exist. created reports whether a key was generated.
func LoadOrCreate(path string) (id *Identity, created bool, err error) {
	id, err = Load(path)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	id, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(path); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
