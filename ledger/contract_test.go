package ledger

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/certvault-go/identity"
)

// actors holds the identities used across the contract tests.
type actors struct {
	issuer   *identity.Identity
	intruder *identity.Identity
}

func newActors(t *testing.T) actors {
	t.Helper()
	issuer, err := identity.Generate()
	require.NoError(t, err)
	intruder, err := identity.Generate()
	require.NoError(t, err)
	return actors{issuer: issuer, intruder: intruder}
}

// ledgerFactory builds a fresh, empty Ledger for one subtest.
type ledgerFactory func(t *testing.T, a actors) Ledger

func newTestBolt(t *testing.T) *BoltLedger {
	t.Helper()
	l, err := OpenBoltLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newTestRPC(t *testing.T, a actors) *RPCClient {
	t.Helper()
	srv := httptest.NewServer(NewRPCHandler(NewMemory(), HandlerOptions{RequireSignatures: true}))
	t.Cleanup(srv.Close)
	return NewRPCClient(RPCConfig{
		URL:     srv.URL,
		Signers: []Signer{a.issuer, a.intruder},
	})
}

func TestMemoryContract(t *testing.T) {
	runContract(t, func(t *testing.T, a actors) Ledger { return NewMemory() })
}

func TestBoltContract(t *testing.T) {
	runContract(t, func(t *testing.T, a actors) Ledger { return newTestBolt(t) })
}

func TestRPCContract(t *testing.T) {
	runContract(t, func(t *testing.T, a actors) Ledger { return newTestRPC(t, a) })
}

func runContract(t *testing.T, newLedger ledgerFactory) {
	ctx := context.Background()

	setup := func(t *testing.T) (Ledger, actors) {
		a := newActors(t)
		return newLedger(t, a), a
	}

	t.Run("CreateRead", func(t *testing.T) {
		l, a := setup(t)
		r, err := l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)
		assert.Len(t, r.TxID, 64)
		assert.Equal(t, OpCreate, r.Op)
		assert.Equal(t, "fid-1", r.FID)
		assert.False(t, r.Noop)

		rec, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)
		assert.Equal(t, "cid-1", rec.CID)
		assert.Equal(t, "alice@example.com", rec.Email)
		assert.Equal(t, a.issuer.ID(), rec.Issuer)
		assert.True(t, rec.IsActive)
		assert.True(t, rec.IssuedAt.Equal(rec.LastModifiedAt))
		assert.Equal(t, uint64(1), rec.Revision)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		l, _ := setup(t)
		_, err := l.Read(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err := l.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CreateInvalidArgument", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.Create(ctx, "", "cid", "e@x", a.issuer.ID())
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = l.Create(ctx, "fid", "", "e@x", a.issuer.ID())
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = l.Create(ctx, "fid", "cid", "", a.issuer.ID())
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("DuplicateActive", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)

		_, err = l.Create(ctx, "fid-1", "cid-other", "mallory@example.com", a.issuer.ID())
		assert.ErrorIs(t, err, ErrDuplicate)

		rec, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)
		assert.Equal(t, "cid-1", rec.CID, "duplicate create must not overwrite")
		assert.Equal(t, "alice@example.com", rec.Email)
	})

	t.Run("DuplicateInactive", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)
		_, err = l.Deactivate(ctx, "fid-1", a.issuer.ID())
		require.NoError(t, err)

		_, err = l.Create(ctx, "fid-1", "cid-2", "alice@example.com", a.issuer.ID())
		assert.ErrorIs(t, err, ErrDuplicate, "an inactive fid cannot be re-issued")

		rec, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)
		assert.False(t, rec.IsActive)
	})

	t.Run("UpdatePointer", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)
		before, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)

		r, err := l.UpdatePointer(ctx, "fid-1", "cid-2", a.issuer.ID())
		require.NoError(t, err)
		assert.Equal(t, OpUpdatePointer, r.Op)

		after, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)
		assert.Equal(t, "cid-2", after.CID)
		assert.Equal(t, before.Email, after.Email)
		assert.Equal(t, before.Issuer, after.Issuer)
		assert.True(t, before.IssuedAt.Equal(after.IssuedAt))
		assert.False(t, after.LastModifiedAt.Before(before.LastModifiedAt))
		assert.True(t, after.IsActive)
		assert.Equal(t, before.Revision+1, after.Revision)
	})

	t.Run("UpdatePointerErrors", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.UpdatePointer(ctx, "missing", "cid-2", a.issuer.ID())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)

		_, err = l.UpdatePointer(ctx, "fid-1", "", a.issuer.ID())
		assert.ErrorIs(t, err, ErrInvalidArgument)

		_, err = l.UpdatePointer(ctx, "fid-1", "cid-evil", a.intruder.ID())
		assert.ErrorIs(t, err, ErrUnauthorized)

		rec, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)
		assert.Equal(t, "cid-1", rec.CID, "rejected mutation leaves record unchanged")
	})

	t.Run("DeactivateTerminal", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)

		r, err := l.Deactivate(ctx, "fid-1", a.issuer.ID())
		require.NoError(t, err)
		assert.Equal(t, OpDeactivate, r.Op)
		assert.False(t, r.Noop)

		_, err = l.UpdatePointer(ctx, "fid-1", "cid-2", a.issuer.ID())
		assert.ErrorIs(t, err, ErrInactive)

		again, err := l.Deactivate(ctx, "fid-1", a.issuer.ID())
		require.NoError(t, err, "re-deactivation is idempotent")
		assert.True(t, again.Noop)
		assert.Equal(t, r.TxID, again.TxID)

		rec, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)
		assert.False(t, rec.IsActive)
		assert.Equal(t, "cid-1", rec.CID)
		assert.Equal(t, uint64(2), rec.Revision, "a no-op deactivation keeps the revision")

		events, err := l.Events(ctx, "fid-1")
		require.NoError(t, err)
		require.Len(t, events, 2, "no event for a no-op deactivation")
		assert.Equal(t, OpCreate, events[0].Op)
		assert.Equal(t, OpDeactivate, events[1].Op)
	})

	t.Run("AuthorizationBeforeStatus", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)

		_, err = l.Deactivate(ctx, "fid-1", a.intruder.ID())
		assert.ErrorIs(t, err, ErrUnauthorized)
		rec, err := l.Read(ctx, "fid-1")
		require.NoError(t, err)
		assert.True(t, rec.IsActive)

		_, err = l.Deactivate(ctx, "fid-1", a.issuer.ID())
		require.NoError(t, err)

		_, err = l.Deactivate(ctx, "fid-1", a.intruder.ID())
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = l.UpdatePointer(ctx, "fid-1", "cid-2", a.intruder.ID())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("VerifyEmail", func(t *testing.T) {
		l, a := setup(t)
		_, err := l.VerifyEmail(ctx, "missing", "alice@example.com")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)

		c, err := l.VerifyEmail(ctx, "fid-1", "alice@example.com")
		require.NoError(t, err)
		assert.True(t, c.Valid())

		c, err = l.VerifyEmail(ctx, "fid-1", "Alice@example.com")
		require.NoError(t, err)
		assert.True(t, c.Active)
		assert.False(t, c.EmailMatches, "comparison is case-sensitive")

		_, err = l.Deactivate(ctx, "fid-1", a.issuer.ID())
		require.NoError(t, err)

		c, err = l.VerifyEmail(ctx, "fid-1", "alice@example.com")
		require.NoError(t, err, "inactive is a result, not an error")
		assert.False(t, c.Active)
		assert.True(t, c.EmailMatches)
		assert.False(t, c.Valid())
	})

	t.Run("FIDsByEmail", func(t *testing.T) {
		l, a := setup(t)
		for _, fid := range []string{"fid-b", "fid-a", "fid-c"} {
			email := "alice@example.com"
			if fid == "fid-c" {
				email = "bob@example.com"
			}
			_, err := l.Create(ctx, fid, "cid-"+fid, email, a.issuer.ID())
			require.NoError(t, err)
		}

		fids, err := l.FIDsByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"fid-a", "fid-b"}, fids)

		fids, err = l.FIDsByEmail(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, fids)
	})

	t.Run("EventsCarryTxIDs", func(t *testing.T) {
		l, a := setup(t)
		c, err := l.Create(ctx, "fid-1", "cid-1", "alice@example.com", a.issuer.ID())
		require.NoError(t, err)
		u, err := l.UpdatePointer(ctx, "fid-1", "cid-2", a.issuer.ID())
		require.NoError(t, err)

		events, err := l.Events(ctx, "fid-1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, c.TxID, events[0].TxID)
		assert.Equal(t, u.TxID, events[1].TxID)
		assert.Equal(t, "cid-2", events[1].CID)
		assert.Equal(t, a.issuer.ID(), events[1].Actor)

		_, err = l.Events(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConcurrentCreateOneWinner", func(t *testing.T) {
		l, a := setup(t)
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Create(ctx, "fid-race", "cid", "alice@example.com", a.issuer.ID())
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrDuplicate)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
