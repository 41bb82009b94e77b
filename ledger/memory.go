package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Ledger guarded by a single mutex.
// It is intended for tests and local development.
type Memory struct {
	mu      sync.Mutex
	certs   map[string]*Certificate
	byEmail map[string][]string
	events  map[string][]Event
	now     func() time.Time
}

var _ Ledger = (*Memory)(nil)

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		certs:   make(map[string]*Certificate),
		byEmail: make(map[string][]string),
		events:  make(map[string][]Event),
		now:     nowUTC,
	}
}

func (m *Memory) Create(ctx context.Context, fid, cid, email, issuer string) (*Receipt, error) {
	if err := requireArgs(fid, cid, email, issuer); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.certs[fid]; ok {
		return nil, fmt.Errorf("%w: fid %s", ErrDuplicate, fid)
	}
	at := m.now()
	m.certs[fid] = newRecord(fid, cid, email, issuer, at)
	m.byEmail[email] = append(m.byEmail[email], fid)

	ev := newEvent(OpCreate, fid, cid, issuer, at)
	m.events[fid] = append(m.events[fid], ev)
	return ev.receipt(), nil
}

func (m *Memory) Read(ctx context.Context, fid string) (*Certificate, error) {
	if err := requireArgs(fid); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.certs[fid]
	if !ok {
		return nil, fmt.Errorf("%w: fid %s", ErrNotFound, fid)
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) UpdatePointer(ctx context.Context, fid, newCID, actor string) (*Receipt, error) {
	if err := requireArgs(fid, newCID, actor); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.certs[fid]
	if !ok {
		return nil, fmt.Errorf("%w: fid %s", ErrNotFound, fid)
	}
	if err := authorize(rec, actor); err != nil {
		return nil, err
	}

	at := m.now()
	rec.CID = newCID
	rec.LastModifiedAt = at
	rec.Revision++

	ev := newEvent(OpUpdatePointer, fid, newCID, actor, at)
	m.events[fid] = append(m.events[fid], ev)
	return ev.receipt(), nil
}

func (m *Memory) Deactivate(ctx context.Context, fid, actor string) (*Receipt, error) {
	if err := requireArgs(fid, actor); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.certs[fid]
	if !ok {
		return nil, fmt.Errorf("%w: fid %s", ErrNotFound, fid)
	}
	if rec.Issuer != actor {
		return nil, fmt.Errorf("%w: fid %s", ErrUnauthorized, fid)
	}
	if !rec.IsActive {
		return noopReceipt(rec, m.events[fid]), nil
	}

	at := m.now()
	rec.IsActive = false
	rec.LastModifiedAt = at
	rec.Revision++

	ev := newEvent(OpDeactivate, fid, rec.CID, actor, at)
	m.events[fid] = append(m.events[fid], ev)
	return ev.receipt(), nil
}

func (m *Memory) VerifyEmail(ctx context.Context, fid, email string) (*EmailCheck, error) {
	rec, err := m.Read(ctx, fid)
	if err != nil {
		return nil, err
	}
	return checkEmail(rec, email), nil
}

func (m *Memory) Exists(ctx context.Context, fid string) (bool, error) {
	if err := requireArgs(fid); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.certs[fid]
	return ok, nil
}

func (m *Memory) FIDsByEmail(ctx context.Context, email string) ([]string, error) {
	if err := requireArgs(email); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]string{}, m.byEmail[email]...)
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Events(ctx context.Context, fid string) ([]Event, error) {
	if err := requireArgs(fid); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.certs[fid]; !ok {
		return nil, fmt.Errorf("%w: fid %s", ErrNotFound, fid)
	}
	return append([]Event(nil), m.events[fid]...), nil
}
