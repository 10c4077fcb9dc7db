package verification

import (
	"context"
	"sync"
)

// MemoryCodeStore keeps codes in process memory.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[int64]Code
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[int64]Code)}
}

func (m *MemoryCodeStore) Put(_ context.Context, c Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[c.TransactionID] = c
	return nil
}

func (m *MemoryCodeStore) Get(_ context.Context, transactionID int64) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[transactionID]
	if !ok {
		return Code{}, ErrUnknownCode
	}
	return c, nil
}

func (m *MemoryCodeStore) Update(_ context.Context, transactionID int64, fn func(*Code) error) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[transactionID]
	if !ok {
		return Code{}, ErrUnknownCode
	}
	if err := fn(&c); err != nil {
		return Code{}, err
	}
	m.codes[transactionID] = c
	return c, nil
}
