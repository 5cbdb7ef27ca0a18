package mocks

import (
	"context"
	"sync/atomic"

	"github.com/phrazzld/tasksync/internal/store"
)

// MockTransactor runs fn directly with a nil transaction; the in-memory
// stores ignore it. InTxFn overrides the behavior.
type MockTransactor struct {
	InTxFn func(ctx context.Context, fn store.TxFn) error
	Calls  atomic.Int64
}

// InTx implements store.Transactor.
func (m *MockTransactor) InTx(ctx context.Context, fn store.TxFn) error {
	m.Calls.Add(1)
	if m.InTxFn != nil {
		return m.InTxFn(ctx, fn)
	}
	return fn(ctx, nil)
}

var _ store.Transactor = (*MockTransactor)(nil)
