package subscription

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[int64]*Subscription
}

// NewMemoryStore creates a new in-memory subscription store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[int64]*Subscription)}
}

func (m *MemoryStore) Get(ctx context.Context, userID int64) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) ExtendEnd(ctx context.Context, userID int64, d time.Duration, now time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := now
	if sub, ok := m.subs[userID]; ok && sub.EndDate.After(now) {
		base = sub.EndDate
	}
	end := base.Add(d)
	m.subs[userID] = &Subscription{UserID: userID, EndDate: end, UpdatedAt: now}
	return end, nil
}
