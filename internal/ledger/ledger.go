// Package ledger records which tickers have already produced a buy alert.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store is the backing set. Add must report whether the ticker was newly inserted
// in a single atomic step.
type Store interface {
	Add(ctx context.Context, ticker string) (bool, error)
	Contains(ctx context.Context, ticker string) (bool, error)
	Members(ctx context.Context) ([]string, error)
	Reset(ctx context.Context) error
}

// Ledger guarantees at most one alert per ticker for as long as its store retains the entry.
// Entries never expire on their own; Reset is the only way to clear them.
type Ledger struct {
	mu    sync.Mutex
	store Store
}

// New wraps store. A nil store keeps the ledger in memory.
func New(store Store) *Ledger {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Ledger{store: store}
}

// MarkIfNew adds ticker and reports true only the first time it is seen.
func (l *Ledger) MarkIfNew(ctx context.Context, ticker string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	added, err := l.store.Add(ctx, ticker)
	if err != nil {
		return false, fmt.Errorf("ledger add %s: %w", ticker, err)
	}
	return added, nil
}

// Contains reports whether ticker has already been alerted.
func (l *Ledger) Contains(ctx context.Context, ticker string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Contains(ctx, ticker)
}

// Members returns every alerted ticker in sorted order.
func (l *Ledger) Members(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	members, err := l.store.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger members: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

// Reset clears the ledger.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Reset(ctx); err != nil {
		return fmt.Errorf("ledger reset: %w", err)
	}
	return nil
}

// MemoryStore keeps the set in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	set map[string]struct{}
}

// NewMemoryStore returns an empty in-memory set.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{set: make(map[string]struct{})}
}

func (m *MemoryStore) Add(_ context.Context, ticker string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.set[ticker]; ok {
		return false, nil
	}
	m.set[ticker] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Contains(_ context.Context, ticker string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.set[ticker]
	return ok, nil
}

func (m *MemoryStore) Members(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.set))
	for t := range m.set {
		out = append(out, t)
	}
	return out, nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = make(map[string]struct{})
	return nil
}

var _ Store = (*MemoryStore)(nil)
