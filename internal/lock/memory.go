package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is the single-process Locker. TTLs still apply so a leaked
// lease eventually heals; process death releases everything anyway.
type MemoryLocker struct {
	mu    sync.Mutex
	seq   uint64
	held  map[string]memoryGrant
	nowFn func() time.Time
}

// memoryGrant ties the current holder's token to its expiry, so a stale
// Release after the TTL cannot free a lease granted to someone else.
type memoryGrant struct {
	token  uint64
	expiry time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryGrant),
		nowFn: time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if g, ok := l.held[key]; ok && now.Before(g.expiry) {
		return nil, false, nil
	}
	l.seq++
	l.held[key] = memoryGrant{token: l.seq, expiry: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: l.seq}, true, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  uint64
	once   sync.Once
}

func (m *memoryLease) Release(context.Context) error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		if g, ok := m.locker.held[m.key]; ok && g.token == m.token {
			delete(m.locker.held, m.key)
		}
		m.locker.mu.Unlock()
	})
	return nil
}
