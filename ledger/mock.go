package ledger

import "context"

// MockLedger is a test double for Ledger.
// All function fields must be set before the corresponding method is called.
type MockLedger struct {
	CreateFn        func(ctx context.Context, fid, cid, email, issuer string) (*Receipt, error)
	ReadFn          func(ctx context.Context, fid string) (*Certificate, error)
	UpdatePointerFn func(ctx context.Context, fid, newCID, actor string) (*Receipt, error)
	DeactivateFn    func(ctx context.Context, fid, actor string) (*Receipt, error)
	VerifyEmailFn   func(ctx context.Context, fid, email string) (*EmailCheck, error)
	ExistsFn        func(ctx context.Context, fid string) (bool, error)
	FIDsByEmailFn   func(ctx context.Context, email string) ([]string, error)
	EventsFn        func(ctx context.Context, fid string) ([]Event, error)
}

var _ Ledger = (*MockLedger)(nil)

func (m *MockLedger) Create(ctx context.Context, fid, cid, email, issuer string) (*Receipt, error) {
	return m.CreateFn(ctx, fid, cid, email, issuer)
}
func (m *MockLedger) Read(ctx context.Context, fid string) (*Certificate, error) {
	return m.ReadFn(ctx, fid)
}
func (m *MockLedger) UpdatePointer(ctx context.Context, fid, newCID, actor string) (*Receipt, error) {
	return m.UpdatePointerFn(ctx, fid, newCID, actor)
}
func (m *MockLedger) Deactivate(ctx context.Context, fid, actor string) (*Receipt, error) {
	return m.DeactivateFn(ctx, fid, actor)
}
func (m *MockLedger) VerifyEmail(ctx context.Context, fid, email string) (*EmailCheck, error) {
	return m.VerifyEmailFn(ctx, fid, email)
}
func (m *MockLedger) Exists(ctx context.Context, fid string) (bool, error) {
	return m.ExistsFn(ctx, fid)
}
func (m *MockLedger) FIDsByEmail(ctx context.Context, email string) ([]string, error) {
	return m.FIDsByEmailFn(ctx, email)
}
func (m *MockLedger) Events(ctx context.Context, fid string) ([]Event, error) {
	return m.EventsFn(ctx, fid)
}
