package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketCerts      = []byte("certs")
	bucketEmailIndex = []byte("email_index")
	bucketEvents     = []byte("events")
)

// BoltLedger is a durable embedded Ledger backed by bbolt.
//
// Buckets:
//
//	certs        fid -> gob(Certificate)
//	email_index  len(email) || email || fid -> empty
//	events       len(fid) || fid || seq(8) -> gob(Event)
//
// bbolt serializes writers, so each mutation is one atomic read-check-write.
type BoltLedger struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ Ledger = (*BoltLedger)(nil)

// OpenBoltLedger opens or creates the ledger database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltLedger(dbPath string) (*BoltLedger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("ledger: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCerts, bucketEmailIndex, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}

	return &BoltLedger{db: db, now: nowUTC}, nil
}

// Close closes the underlying database.
func (l *BoltLedger) Close() error { return l.db.Close() }

// prefixKey length-prefixes s so that prefix scans cannot match a longer key.
func prefixKey(s string) []byte {
	k := make([]byte, 0, 2+len(s))
	k = binary.BigEndian.AppendUint16(k, uint16(len(s)))
	return append(k, s...)
}

func emailKey(email, fid string) []byte {
	return append(prefixKey(email), fid...)
}

func eventKey(fid string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(prefixKey(fid), seq)
}

// encodeGob serializes a value using gob encoding.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob deserializes gob-encoded data into a value.
func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func getCert(tx *bbolt.Tx, fid string) (*Certificate, error) {
	data := tx.Bucket(bucketCerts).Get([]byte(fid))
	if data == nil {
		return nil, fmt.Errorf("%w: fid %s", ErrNotFound, fid)
	}
	var rec Certificate
	if err := decodeGob(data, &rec); err != nil {
		return nil, fmt.Errorf("ledger: decode certificate: %w", err)
	}
	return &rec, nil
}

func putCert(tx *bbolt.Tx, rec *Certificate) error {
	data, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("ledger: encode certificate: %w", err)
	}
	if err := tx.Bucket(bucketCerts).Put([]byte(rec.FID), data); err != nil {
		return fmt.Errorf("ledger: put certificate: %w", err)
	}
	return nil
}

func appendEvent(tx *bbolt.Tx, ev Event) error {
	b := tx.Bucket(bucketEvents)
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("ledger: event sequence: %w", err)
	}
	data, err := encodeGob(ev)
	if err != nil {
		return fmt.Errorf("ledger: encode event: %w", err)
	}
	if err := b.Put(eventKey(ev.FID, seq), data); err != nil {
		return fmt.Errorf("ledger: put event: %w", err)
	}
	return nil
}

func listEvents(tx *bbolt.Tx, fid string) ([]Event, error) {
	prefix := prefixKey(fid)
	var events []Event
	c := tx.Bucket(bucketEvents).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var ev Event
		if err := decodeGob(v, &ev); err != nil {
			return nil, fmt.Errorf("ledger: decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (l *BoltLedger) Create(ctx context.Context, fid, cid, email, issuer string) (*Receipt, error) {
	if err := requireArgs(fid, cid, email, issuer); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := l.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketCerts).Get([]byte(fid)) != nil {
			return fmt.Errorf("%w: fid %s", ErrDuplicate, fid)
		}
		at := l.now()
		if err := putCert(tx, newRecord(fid, cid, email, issuer, at)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEmailIndex).Put(emailKey(email, fid), []byte{}); err != nil {
			return fmt.Errorf("ledger: put email index: %w", err)
		}
		ev := newEvent(OpCreate, fid, cid, issuer, at)
		if err := appendEvent(tx, ev); err != nil {
			return err
		}
		receipt = ev.receipt()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (l *BoltLedger) Read(ctx context.Context, fid string) (*Certificate, error) {
	if err := requireArgs(fid); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Certificate
	err := l.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = getCert(tx, fid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *BoltLedger) UpdatePointer(ctx context.Context, fid, newCID, actor string) (*Receipt, error) {
	if err := requireArgs(fid, newCID, actor); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := l.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getCert(tx, fid)
		if err != nil {
			return err
		}
		if err := authorize(rec, actor); err != nil {
			return err
		}
		at := l.now()
		rec.CID = newCID
		rec.LastModifiedAt = at
		rec.Revision++
		if err := putCert(tx, rec); err != nil {
			return err
		}
		ev := newEvent(OpUpdatePointer, fid, newCID, actor, at)
		if err := appendEvent(tx, ev); err != nil {
			return err
		}
		receipt = ev.receipt()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (l *BoltLedger) Deactivate(ctx context.Context, fid, actor string) (*Receipt, error) {
	if err := requireArgs(fid, actor); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := l.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getCert(tx, fid)
		if err != nil {
			return err
		}
		if rec.Issuer != actor {
			return fmt.Errorf("%w: fid %s", ErrUnauthorized, fid)
		}
		if !rec.IsActive {
			events, err := listEvents(tx, fid)
			if err != nil {
				return err
			}
			receipt = noopReceipt(rec, events)
			return nil
		}
		at := l.now()
		rec.IsActive = false
		rec.LastModifiedAt = at
		rec.Revision++
		if err := putCert(tx, rec); err != nil {
			return err
		}
		ev := newEvent(OpDeactivate, fid, rec.CID, actor, at)
		if err := appendEvent(tx, ev); err != nil {
			return err
		}
		receipt = ev.receipt()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (l *BoltLedger) VerifyEmail(ctx context.Context, fid, email string) (*EmailCheck, error) {
	rec, err := l.Read(ctx, fid)
	if err != nil {
		return nil, err
	}
	return checkEmail(rec, email), nil
}

func (l *BoltLedger) Exists(ctx context.Context, fid string) (bool, error) {
	_, err := l.Read(ctx, fid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *BoltLedger) FIDsByEmail(ctx context.Context, email string) ([]string, error) {
	if err := requireArgs(email); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := prefixKey(email)
	out := []string{}
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEmailIndex).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			out = append(out, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: scan email index: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func (l *BoltLedger) Events(ctx context.Context, fid string) ([]Event, error) {
	if err := requireArgs(fid); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []Event
	err := l.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketCerts).Get([]byte(fid)) == nil {
			return fmt.Errorf("%w: fid %s", ErrNotFound, fid)
		}
		var err error
		events, err = listEvents(tx, fid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// RebuildIndex drops the email index and rebuilds it from the certificate
// records. It returns the number of index entries written.
func (l *BoltLedger) RebuildIndex(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketEmailIndex); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("ledger: drop email index: %w", err)
		}
		idx, err := tx.CreateBucket(bucketEmailIndex)
		if err != nil {
			return fmt.Errorf("ledger: create email index: %w", err)
		}
		return tx.Bucket(bucketCerts).ForEach(func(k, v []byte) error {
			var rec Certificate
			if err := decodeGob(v, &rec); err != nil {
				return fmt.Errorf("ledger: decode certificate %s: %w", k, err)
			}
			if err := idx.Put(emailKey(rec.Email, rec.FID), []byte{}); err != nil {
				return fmt.Errorf("ledger: put email index: %w", err)
			}
			n++
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
