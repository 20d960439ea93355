package usage

import (
	"context"
	"sync"
)

// Store persists ledger entries. Load returns entries oldest first.
// Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, e Entry) error

	// Trim deletes all but the keep most recently appended entries.
	Trim(ctx context.Context, keep int) error

	Clear(ctx context.Context) error
}

// MemStore is a process-local [Store]. The zero value is ready to use.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
}

// Load implements [Store].
func (m *MemStore) Load(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Trim implements [Store].
func (m *MemStore) Trim(_ context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if len(m.entries) > keep {
		m.entries = append([]Entry(nil), m.entries[len(m.entries)-keep:]...)
	}
	return nil
}

// Clear implements [Store].
func (m *MemStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

var _ Store = (*MemStore)(nil)
