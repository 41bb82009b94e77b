package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
)

// This file holds the state machine shared by every local Ledger.

// MaxFieldLength bounds every string argument of a ledger call.
const MaxFieldLength = 1024

func requireArgs(args ...string) error {
	for _, a := range args {
		if a == "" {
			return fmt.Errorf("%w: empty argument", ErrInvalidArgument)
		}
		if len(a) > MaxFieldLength {
			return fmt.Errorf("%w: argument exceeds %d bytes", ErrInvalidArgument, MaxFieldLength)
		}
	}
	return nil
}

func newRecord(fid, cid, email, issuer string, at time.Time) *Certificate {
	return &Certificate{
		FID:            fid,
		CID:            cid,
		Email:          email,
		Issuer:         issuer,
		IssuedAt:       at,
		LastModifiedAt: at,
		IsActive:       true,
		Revision:       1,
	}
}

// authorize checks a mutation against rec: issuer first, then status.
func authorize(rec *Certificate, actor string) error {
	if rec.Issuer != actor {
		return fmt.Errorf("%w: fid %s", ErrUnauthorized, rec.FID)
	}
	if !rec.IsActive {
		return fmt.Errorf("%w: fid %s", ErrInactive, rec.FID)
	}
	return nil
}

func checkEmail(rec *Certificate, email string) *EmailCheck {
	return &EmailCheck{
		Active:       rec.IsActive,
		EmailMatches: rec.Email == email,
	}
}

func newEvent(op Op, fid, cid, actor string, at time.Time) Event {
	e := Event{Op: op, FID: fid, CID: cid, Actor: actor, At: at}
	e.TxID = hex.EncodeToString(bsvhash.Sha256d(canonicalEvent(e)))
	return e
}

// canonicalEvent encodes op, fid, cid, actor (each length-prefixed) and the
// event time in unix nanoseconds.
func canonicalEvent(e Event) []byte {
	buf := make([]byte, 0, 64+len(e.FID)+len(e.CID)+len(e.Actor))
	for _, s := range []string{string(e.Op), e.FID, e.CID, e.Actor} {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return binary.BigEndian.AppendUint64(buf, uint64(e.At.UnixNano()))
}

func (e Event) receipt() *Receipt {
	return &Receipt{TxID: e.TxID, FID: e.FID, Op: e.Op, At: e.At}
}

// noopReceipt acknowledges a repeated deactivation with the TxID of the
// original one.
func noopReceipt(rec *Certificate, events []Event) *Receipt {
	r := &Receipt{FID: rec.FID, Op: OpDeactivate, At: rec.LastModifiedAt, Noop: true}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Op == OpDeactivate {
			r.TxID = events[i].TxID
			r.At = events[i].At
			break
		}
	}
	return r
}

func nowUTC() time.Time { return time.Now().UTC() }
