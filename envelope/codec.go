package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// Opened is the result of a successful Decode.
type Opened struct {
	// Plaintext is byte-identical to what was encoded.
	Plaintext []byte

	// Name is the associated data stored inside the envelope.
	Name string

	Metadata Metadata
}

// Codec encodes and decodes envelopes under one process key.
// A Codec is immutable after NewCodec and safe for concurrent use.
type Codec struct {
	alg   Algorithm
	aeads map[Algorithm]cipher.AEAD
	now   func() time.Time
}

// NewCodec derives working keys for every supported algorithm from key and
// returns a Codec that encodes with alg. Envelopes written under any supported
// algorithm can be decoded.
func NewCodec(key Key, alg Algorithm) (*Codec, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: key is all zero", ErrInvalidKey)
	}
	if alg.NonceSize() == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, uint8(alg))
	}

	aeads := make(map[Algorithm]cipher.AEAD, len(algorithms))
	for _, a := range algorithms {
		working, err := deriveKey(key, a)
		if err != nil {
			return nil, err
		}
		aead, err := a.newAEAD(working)
		if err != nil {
			return nil, err
		}
		aeads[a] = aead
	}

	return &Codec{alg: alg, aeads: aeads, now: time.Now}, nil
}

// Algorithm returns the algorithm used by Encode.
func (c *Codec) Algorithm() Algorithm { return c.alg }

// Encode seals plaintext under a fresh random nonce with name bound as
// associated data and returns the serialized envelope.
func (c *Codec) Encode(plaintext []byte, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	aead := c.aeads[c.alg]

	nonce := make([]byte, c.alg.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("envelope: random nonce generation failed: %w", err)
	}

	env := &Envelope{
		Algorithm:       c.alg,
		Nonce:           nonce,
		Name:            name,
		PlaintextLength: uint64(len(plaintext)),
		CreatedAt:       time.UnixMilli(c.now().UnixMilli()).UTC(),
	}

	// Seal returns ciphertext || tag.
	sealed := aead.Seal(nil, nonce, plaintext, env.associatedData())
	split := len(sealed) - TagSize
	env.Ciphertext = sealed[:split]
	env.Tag = sealed[split:]

	return env.Marshal(), nil
}

// Decode parses and authenticates an envelope. It fails with ErrMalformed when
// the layout cannot be parsed and with ErrIntegrity when the tag does not
// verify. No plaintext is returned on failure.
func (c *Codec) Decode(data []byte) (*Opened, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	aead, ok := c.aeads[env.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrMalformed, ErrUnsupportedAlgorithm, env.Algorithm)
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aead.Open(nil, env.Nonce, sealed, env.associatedData())
	if err != nil {
		return nil, ErrIntegrity
	}
	if uint64(len(plaintext)) != env.PlaintextLength {
		return nil, fmt.Errorf("%w: plaintext length %d, header says %d", ErrMalformed, len(plaintext), env.PlaintextLength)
	}

	// Normalize nil to empty slice for consistency.
	if plaintext == nil {
		plaintext = []byte{}
	}

	return &Opened{
		Plaintext: plaintext,
		Name:      env.Name,
		Metadata:  env.Metadata(),
	}, nil
}

// Encode seals plaintext under key with DefaultAlgorithm.
func Encode(plaintext []byte, name string, key Key) ([]byte, error) {
	c, err := NewCodec(key, DefaultAlgorithm)
	if err != nil {
		return nil, err
	}
	return c.Encode(plaintext, name)
}

// Decode opens an envelope under key.
func Decode(data []byte, key Key) (*Opened, error) {
	c, err := NewCodec(key, DefaultAlgorithm)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}
