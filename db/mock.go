package db

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
)

// Compile-time interface check.
var _ Store = (*MockStore)(nil)

// MockStore is a fully functional, thread-safe, in-memory implementation of
// [Store]. Records are kept in ascending k-mer order. It requires no files,
// which makes it the store of choice for unit tests.
//
//	store := db.NewMockStore(db.Header{KmerLength: 5, CounterSize: 4})
//	store.Put(km, 3)
//	defer store.Close()
type MockStore struct {
	mu     sync.RWMutex
	header Header
	counts map[string]uint64 // packed k-mer -> count
	closed atomic.Bool
}

// NewMockStore creates an empty store with the given header. Format and
// TotalKmers are maintained by the store.
func NewMockStore(h Header) *MockStore {
	h.Format = FormatMock
	h.TotalKmers = 0
	return &MockStore{
		header: h,
		counts: make(map[string]uint64),
	}
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

func (m *MockStore) Header() Header {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.header
	h.TotalKmers = uint64(len(m.counts))
	return h
}

func (m *MockStore) Get(km *kmer.Kmer) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return 0, ErrClosed
	}
	if err := m.checkLen(km); err != nil {
		return 0, err
	}

	v, ok := m.counts[string(km.Bytes())]
	if !ok {
		return 0, ErrKeyNotFound
	}
	return v, nil
}

// NewCursor iterates a sorted snapshot of the current records.
func (m *MockStore) NewCursor() (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(m.counts))
	for k := range m.counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	entries := make([]mockEntry, len(keys))
	for i, k := range keys {
		entries[i] = mockEntry{key: []byte(k), count: m.counts[k]}
	}
	return &mockCursor{entries: entries, pos: -1, k: int(m.header.KmerLength)}, nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	m.closed.Store(true)
	m.counts = nil
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// Put stores km with the given count, replacing any previous count.
func (m *MockStore) Put(km *kmer.Kmer, count uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.checkLen(km); err != nil {
		return err
	}
	if count > m.header.MaxCounter() {
		return fmt.Errorf("%w: %d with %d-byte counters", ErrCounterOverflow, count, m.header.CounterSize)
	}
	m.counts[string(km.Bytes())] = count
	return nil
}

// Delete removes km. Deleting a missing k-mer is not an error.
func (m *MockStore) Delete(km *kmer.Kmer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.checkLen(km); err != nil {
		return err
	}
	delete(m.counts, string(km.Bytes()))
	return nil
}

// Len returns the number of stored k-mers, or -1 once the store is closed.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return -1
	}
	return len(m.counts)
}

// Reset removes every record without closing the store.
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed.Load() {
		m.counts = make(map[string]uint64)
	}
}

func (m *MockStore) checkLen(km *kmer.Kmer) error {
	if km.Len() != int(m.header.KmerLength) {
		return fmt.Errorf("%w: got %d, want %d", ErrKmerLength, km.Len(), m.header.KmerLength)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Cursor implementation
// ---------------------------------------------------------------------------

type mockEntry struct {
	key   []byte
	count uint64
}

type mockCursor struct {
	entries []mockEntry
	pos     int
	k       int
}

func (c *mockCursor) Next() bool {
	if c.pos < len(c.entries) {
		c.pos++
	}
	return c.pos < len(c.entries)
}

func (c *mockCursor) Kmer(dst *kmer.Kmer) error {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return fmt.Errorf("db: cursor not positioned on a record")
	}
	if dst.Len() != c.k {
		return fmt.Errorf("%w: got %d, want %d", ErrKmerLength, dst.Len(), c.k)
	}
	return dst.SetBytes(c.entries[c.pos].key)
}

func (c *mockCursor) Count() uint64 {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return 0
	}
	return c.entries[c.pos].count
}

func (c *mockCursor) Err() error   { return nil }
func (c *mockCursor) Close() error { return nil }
