package storage

// LockTable maps keys to the transaction that exclusively owns them.
// Absence of an entry means unlocked. Only exclusive locks exist; there
// is no queueing and no blocking.
type LockTable struct {
	owners map[string]string
}

// NewLockTable creates an empty lock table
func NewLockTable() *LockTable {
	return &LockTable{
		owners: make(map[string]string),
	}
}

// Acquire attempts to lock key for txID. It succeeds when the key is
// unlocked or already owned by txID (re-locking is idempotent). On
// conflict it returns false and the current owner.
func (lt *LockTable) Acquire(key, txID string) (bool, string) {
	if owner, held := lt.owners[key]; held && owner != txID {
		return false, owner
	}
	lt.owners[key] = txID
	return true, ""
}

// Release unlocks key if txID is the current owner. Releasing a key
// owned by someone else, or not locked at all, is a no-op: the caller
// may have aborted elsewhere and be sweeping blindly.
func (lt *LockTable) Release(key, txID string) {
	if owner, held := lt.owners[key]; held && owner == txID {
		delete(lt.owners, key)
	}
}

// Owner returns the owner of key and whether it is locked
func (lt *LockTable) Owner(key string) (string, bool) {
	owner, held := lt.owners[key]
	return owner, held
}

// HeldBy returns every key currently owned by txID
func (lt *LockTable) HeldBy(txID string) []string {
	var keys []string
	for key, owner := range lt.owners {
		if owner == txID {
			keys = append(keys, key)
		}
	}
	return keys
}

// Len returns the number of locked keys
func (lt *LockTable) Len() int {
	return len(lt.owners)
}
