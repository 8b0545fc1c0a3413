package testutils

import (
	"sync"

	"github.com/evdnx/trisignal/types"
)

// MockExecutor implements the Executor interface in-memory. It never
// checks cash; use FailWith to simulate a rejecting venue.
type MockExecutor struct {
	mu        sync.RWMutex
	equity    float64
	positions map[string]float64 // qty (signed)
	orders    []types.Order      // captured for assertions
	failWith  error
}

// NewMockExecutor creates a fresh executor with the supplied starting equity.
func NewMockExecutor(startEquity float64) *MockExecutor {
	return &MockExecutor{
		equity:    startEquity,
		positions: make(map[string]float64),
	}
}

// FailWith makes every following Submit return err without recording the
// order. Pass nil to accept orders again.
func (m *MockExecutor) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Submit records the order and moves the signed position.
func (m *MockExecutor) Submit(o types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if o.Qty == 0 {
		return nil
	}
	if o.Side == types.Buy {
		m.positions[o.Symbol] += o.Qty
	} else {
		m.positions[o.Symbol] -= o.Qty
	}
	m.orders = append(m.orders, o)
	return nil
}

// Equity returns the starting equity; fills are not marked.
func (m *MockExecutor) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// Position returns the signed qty for a symbol. The mock does not track
// an average price.
func (m *MockExecutor) Position(symbol string) (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[symbol], 0
}

// Orders returns a copy of all submitted orders (useful for assertions).
func (m *MockExecutor) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}
