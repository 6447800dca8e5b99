package testutil

import (
	"context"
	"sync"

	"github.com/ifebuche/twifesh/internal/records"
)

// MockStore is a thread-safe in-memory implementation of
// archive.RecordStore for testing.
type MockStore struct {
	mu sync.Mutex

	Records []records.Record

	InsertErr error

	InsertCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{Records: make([]records.Record, 0)}
}

func (m *MockStore) InsertRecords(_ context.Context, recs []records.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Records = append(m.Records, recs...)
	return nil
}

func (m *MockStore) QueryRecent(_ context.Context, limit int) ([]records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]records.Record, n)
	for i := 0; i < n; i++ {
		out[i] = m.Records[len(m.Records)-1-i]
	}
	return out, nil
}

func (m *MockStore) Close() {}

// SetInsertErr toggles the failure injected into InsertRecords.
func (m *MockStore) SetInsertErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertErr = err
}

// GetInsertCalls returns how many times InsertRecords was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}

// GetRecordCount returns total records stored.
func (m *MockStore) GetRecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}
