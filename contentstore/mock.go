package contentstore

import "context"

// MockStore is a test double for Store.
// All function fields must be set before the corresponding method is called.
type MockStore struct {
	PutFn    func(ctx context.Context, blob []byte) (string, error)
	GetFn    func(ctx context.Context, address string) ([]byte, error)
	RemoveFn func(ctx context.Context, address string) error
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) Put(ctx context.Context, blob []byte) (string, error) {
	return m.PutFn(ctx, blob)
}
func (m *MockStore) Get(ctx context.Context, address string) ([]byte, error) {
	return m.GetFn(ctx, address)
}
func (m *MockStore) Remove(ctx context.Context, address string) error {
	return m.RemoveFn(ctx, address)
}
