package locking

import (
	"context"
	"sync"

	"github.com/cuemby/vaultfs/pkg/types"
)

// lockMap maps BlockIds to mutexes created on demand and reclaimed once no
// task references them. The map mutex is held only while adjusting the
// bookkeeping, never while waiting for a per-id lock.
type lockMap struct {
	mu    sync.Mutex
	locks map[types.BlockId]*idLock
}

type idLock struct {
	refs int
	sem  chan struct{} // capacity 1; holding the token means owning the lock
}

func newLockMap() *lockMap {
	return &lockMap{
		locks: make(map[types.BlockId]*idLock),
	}
}

// acquire returns the id's lock entry with its refcount incremented.
func (m *lockMap) acquire(id types.BlockId) *idLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.locks[id]
	if l == nil {
		l = &idLock{sem: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

// releaseRef drops one reference and deletes the entry when unreferenced.
func (m *lockMap) releaseRef(id types.BlockId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.locks[id]
	if l == nil {
		panic("lockMap: releasing reference to unknown id " + id.String())
	}
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

// lock blocks until the per-id lock is owned or ctx is done.
func (m *lockMap) lock(ctx context.Context, id types.BlockId) error {
	l := m.acquire(id)
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.releaseRef(id)
		return ctx.Err()
	}
}

// tryLock attempts to take the per-id lock without blocking.
func (m *lockMap) tryLock(id types.BlockId) bool {
	l := m.acquire(id)
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		m.releaseRef(id)
		return false
	}
}

// unlock releases a lock owned by the caller.
func (m *lockMap) unlock(id types.BlockId) {
	m.mu.Lock()
	l := m.locks[id]
	m.mu.Unlock()
	if l == nil {
		panic("lockMap: unlocking unknown id " + id.String())
	}
	<-l.sem
	m.releaseRef(id)
}
