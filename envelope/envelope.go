package envelope

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Envelope is the parsed form of a stored envelope.
//
// Layout (big-endian integers):
//
//	algorithmId(1) || nonce(12|16) || tag(16) || nameLen(2) || name ||
//	plaintextLen(8) || createdAt(8, unix ms) || ciphertext
//
// The tag authenticates the ciphertext together with the associated data
// algorithmId || nameLen || name || plaintextLen || createdAt.
type Envelope struct {
	Algorithm       Algorithm
	Nonce           []byte
	Tag             []byte
	Name            string
	PlaintextLength uint64
	CreatedAt       time.Time
	Ciphertext      []byte
}

// Metadata is the authenticated, non-secret part of an opened envelope.
type Metadata struct {
	Algorithm       Algorithm
	PlaintextLength uint64
	CreatedAt       time.Time
}

// Metadata returns the envelope's header fields.
func (e *Envelope) Metadata() Metadata {
	return Metadata{
		Algorithm:       e.Algorithm,
		PlaintextLength: e.PlaintextLength,
		CreatedAt:       e.CreatedAt,
	}
}

// associatedData returns the bytes bound into the tag alongside the ciphertext.
func (e *Envelope) associatedData() []byte {
	ad := make([]byte, 0, 1+2+len(e.Name)+8+8)
	ad = append(ad, byte(e.Algorithm))
	ad = binary.BigEndian.AppendUint16(ad, uint16(len(e.Name)))
	ad = append(ad, e.Name...)
	ad = binary.BigEndian.AppendUint64(ad, e.PlaintextLength)
	ad = binary.BigEndian.AppendUint64(ad, uint64(e.CreatedAt.UnixMilli()))
	return ad
}

// Marshal serializes the envelope. It is the exact inverse of Parse.
func (e *Envelope) Marshal() []byte {
	size := 1 + len(e.Nonce) + len(e.Tag) + 2 + len(e.Name) + 8 + 8 + len(e.Ciphertext)
	out := make([]byte, 0, size)
	out = append(out, byte(e.Algorithm))
	out = append(out, e.Nonce...)
	out = append(out, e.Tag...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(e.Name)))
	out = append(out, e.Name...)
	out = binary.BigEndian.AppendUint64(out, e.PlaintextLength)
	out = binary.BigEndian.AppendUint64(out, uint64(e.CreatedAt.UnixMilli()))
	out = append(out, e.Ciphertext...)
	return out
}

// Parse decodes the byte layout without a key. It performs no authentication;
// use Codec.Decode to recover plaintext.
func Parse(data []byte) (*Envelope, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	alg := Algorithm(data[0])
	nonceSize := alg.NonceSize()
	if nonceSize == 0 {
		return nil, fmt.Errorf("%w: %w: %d", ErrMalformed, ErrUnsupportedAlgorithm, data[0])
	}

	off := 1
	if len(data) < off+nonceSize+TagSize+2 {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrMalformed, len(data))
	}
	nonce := data[off : off+nonceSize]
	off += nonceSize
	tag := data[off : off+TagSize]
	off += TagSize

	nameLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if nameLen == 0 {
		return nil, fmt.Errorf("%w: zero-length name", ErrMalformed)
	}
	if len(data) < off+nameLen+8+8 {
		return nil, fmt.Errorf("%w: truncated name or trailer", ErrMalformed)
	}
	name := string(data[off : off+nameLen])
	off += nameLen

	plaintextLen := binary.BigEndian.Uint64(data[off:])
	off += 8
	createdAt := int64(binary.BigEndian.Uint64(data[off:]))
	off += 8

	ciphertext := data[off:]
	if uint64(len(ciphertext)) != plaintextLen {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, header says %d", ErrMalformed, len(ciphertext), plaintextLen)
	}

	return &Envelope{
		Algorithm:       alg,
		Nonce:           nonce,
		Tag:             tag,
		Name:            name,
		PlaintextLength: plaintextLen,
		CreatedAt:       time.UnixMilli(createdAt).UTC(),
		Ciphertext:      ciphertext,
	}, nil
}

// validateName enforces the encode-time preconditions on the associated data.
func validateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > math.MaxUint16 {
		return fmt.Errorf("%w: got %d bytes", ErrNameTooLong, len(name))
	}
	return nil
}
