// Package ledger records the authoritative certificate pointers: which content
// address currently holds a certificate's envelope, who issued it, which
// email it binds, and whether it is still active.
//
// Every Ledger implementation enforces the same state machine:
//
//	absent --Create--> active --UpdatePointer--> active
//	                   active --Deactivate-----> inactive (terminal)
//
// Only the issuer may mutate a record. Authorization is checked before status,
// so a non-issuer gets ErrUnauthorized even on an inactive record. A failed
// mutation leaves the record unchanged.
package ledger

import (
	"context"
	"time"
)

// Op names a mutating ledger operation.
type Op string

const (
	OpCreate        Op = "create"
	OpUpdatePointer Op = "updatePointer"
	OpDeactivate    Op = "deactivate"
)

// Certificate is the ledger record for one fid.
type Certificate struct {
	FID            string    `json:"fid"`
	CID            string    `json:"cid"`
	Email          string    `json:"email"`
	Issuer         string    `json:"issuer"`
	IssuedAt       time.Time `json:"issuedAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	IsActive       bool      `json:"isActive"`

	// Revision starts at 1 and grows by one with every state change.
	Revision uint64 `json:"revision"`
}

// Receipt acknowledges a mutating call.
type Receipt struct {
	// TxID is the hex double-SHA256 of the canonical event encoding.
	TxID string    `json:"txid"`
	FID  string    `json:"fid"`
	Op   Op        `json:"op"`
	At   time.Time `json:"at"`

	// Noop is set when the call succeeded without changing state
	// (deactivating an already inactive record). No event is emitted.
	Noop bool `json:"noop,omitempty"`
}

// Event is emitted once per state-changing call for external observers.
type Event struct {
	Op    Op        `json:"op"`
	FID   string    `json:"fid"`
	CID   string    `json:"cid"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
	TxID  string    `json:"txid"`
}

// EmailCheck is the result of VerifyEmail. Inactive and mismatch are
// reported as separate flags, never as errors.
type EmailCheck struct {
	Active       bool `json:"active"`
	EmailMatches bool `json:"emailMatches"`
}

// Valid reports whether the record is active and bound to the email.
func (c EmailCheck) Valid() bool { return c.Active && c.EmailMatches }

// Ledger is the certificate registry.
type Ledger interface {
	// Create records a new active certificate. It fails with ErrDuplicate if
	// fid has any record, active or inactive.
	Create(ctx context.Context, fid, cid, email, issuer string) (*Receipt, error)

	// Read returns the record for fid.
	Read(ctx context.Context, fid string) (*Certificate, error)

	// UpdatePointer replaces the content address of an active record.
	UpdatePointer(ctx context.Context, fid, newCID, actor string) (*Receipt, error)

	// Deactivate marks the record inactive. Deactivating an inactive record
	// succeeds with Receipt.Noop set.
	Deactivate(ctx context.Context, fid, actor string) (*Receipt, error)

	// VerifyEmail compares email byte-for-byte with the recorded email.
	VerifyEmail(ctx context.Context, fid, email string) (*EmailCheck, error)

	// Exists reports whether fid has a record.
	Exists(ctx context.Context, fid string) (bool, error)

	// FIDsByEmail returns the fids issued to email, sorted.
	FIDsByEmail(ctx context.Context, email string) ([]string, error)

	// Events returns the events of fid in emission order.
	Events(ctx context.Context, fid string) ([]Event, error)
}
