// Package storage holds a data node's in-memory state: the key-value
// table and the exclusive lock table. Neither type synchronizes itself;
// the owning node serializes every request under a single mutex so that
// store and lock table always change together atomically.
package storage

// Table is a key-value mapping. Keys are opaque printable identifiers,
// values opaque strings.
type Table struct {
	data map[string]string
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		data: make(map[string]string),
	}
}

// Get returns the value for key and whether it exists
func (t *Table) Get(key string) (string, bool) {
	v, ok := t.data[key]
	return v, ok
}

// Put stores value under key, overwriting unconditionally
func (t *Table) Put(key, value string) {
	t.data[key] = value
}

// Delete removes key; deleting an absent key is a no-op
func (t *Table) Delete(key string) {
	delete(t.data, key)
}

// Len returns the number of stored keys
func (t *Table) Len() int {
	return len(t.data)
}
