package matching

import "sync"

// ownerLocks serializes matching per owner within this process. The store
// transaction additionally holds a row lock on the owner's node, so two
// processes cannot interleave either; this mutex just keeps a single
// process from queueing redundant transactions against itself.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *ownerLocks) lock(ownerID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[ownerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[ownerID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
