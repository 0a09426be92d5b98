package deploy

import "sync"

// lockTable serializes deployments per (site, extension) pair within this
// process. Acquisition is non-blocking: a second deployment for the same
// pair is rejected rather than queued.
type lockTable struct {
	mu     sync.Mutex
	locked map[string]bool
}

func newLockTable() *lockTable {
	return &lockTable{locked: make(map[string]bool)}
}

func lockKey(siteID, extensionID string) string {
	return siteID + "/" + extensionID
}

// TryAcquire claims the key, returning false when already held.
func (l *lockTable) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[key] {
		return false
	}
	l.locked[key] = true
	return true
}

// Release frees the key.
func (l *lockTable) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locked, key)
}
