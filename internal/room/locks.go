package room

import (
	"sync"
	"time"
)

// LockTable is the per-room element lock manager: advisory, exclusive,
// at most one holder per element id. Locks are ephemeral; a restart
// releases everything.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	owner        int64
	lastActivity time.Time
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*lockEntry)}
}

// Acquire claims the element for userID. Re-acquiring an element you
// already hold is a no-op success; a foreign holder fails with
// AlreadyLockedError.
func (t *LockTable) Acquire(elementID string, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, held := t.locks[elementID]; held {
		if entry.owner == userID {
			entry.lastActivity = time.Now()
			return nil
		}
		return &AlreadyLockedError{Owner: entry.owner}
	}

	t.locks[elementID] = &lockEntry{owner: userID, lastActivity: time.Now()}
	return nil
}

// Release drops the claim. Releasing an unlocked element is a no-op
// success; releasing a foreign lock fails with NotOwnerError.
func (t *LockTable) Release(elementID string, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, held := t.locks[elementID]
	if !held {
		return nil
	}
	if entry.owner != userID {
		return &NotOwnerError{Owner: entry.owner}
	}

	delete(t.locks, elementID)
	return nil
}

// ForceRelease drops the claim regardless of holder. Used by moderation
// and element deletion. Reports whether a lock existed and its holder.
func (t *LockTable) ForceRelease(elementID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, held := t.locks[elementID]
	if !held {
		return 0, false
	}
	delete(t.locks, elementID)
	return entry.owner, true
}

// Owner reports the current holder, if any.
func (t *LockTable) Owner(elementID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, held := t.locks[elementID]
	if !held {
		return 0, false
	}
	return entry.owner, true
}

// Touch refreshes the idle clock on a lock the user holds.
func (t *LockTable) Touch(elementID string, userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, held := t.locks[elementID]; held && entry.owner == userID {
		entry.lastActivity = time.Now()
	}
}

// ReleaseAllBy releases every lock held by userID and returns the
// affected element ids. Used on disconnect and kick.
func (t *LockTable) ReleaseAllBy(userID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string
	for id, entry := range t.locks {
		if entry.owner == userID {
			delete(t.locks, id)
			released = append(released, id)
		}
	}
	return released
}

// ReleaseIdle releases locks with no activity for longer than idle and
// returns them with their former holders. This is the server-side sweep:
// a client that crashes without a disconnect cannot pin a lock forever.
func (t *LockTable) ReleaseIdle(idle time.Duration, now time.Time) map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	released := make(map[string]int64)
	for id, entry := range t.locks {
		if now.Sub(entry.lastActivity) > idle {
			released[id] = entry.owner
			delete(t.locks, id)
		}
	}
	return released
}

// Snapshot copies the table for the join-time state snapshot.
func (t *LockTable) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]int64, len(t.locks))
	for id, entry := range t.locks {
		snap[id] = entry.owner
	}
	return snap
}

// Clear drops every lock (board clear, room teardown).
func (t *LockTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.locks = make(map[string]*lockEntry)
}

// Len reports the number of held locks.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.locks)
}
