package tracker

import (
	"sort"
	"time"
)

// CacheEntry is the last known state of one device.
type CacheEntry struct {
	LastSeen    *time.Time
	UserName    string
	DeviceModel string
}

// Cache maps device id to its last known state for the lifetime of the
// process. Entries are created on first observation, overwritten on every
// later observation and never deleted.
type Cache struct {
	entries map[string]CacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]CacheEntry)}
}

// Get returns the entry for id, if any.
func (c *Cache) Get(id string) (CacheEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Apply overwrites the entry for id with the snapshot values (last write wins).
func (c *Cache) Apply(id string, e SnapshotEntry) {
	c.entries[id] = CacheEntry{
		LastSeen:    copyTime(e.LastConnection),
		UserName:    e.UserName,
		DeviceModel: e.DeviceModel,
	}
}

// Seed applies every entry of s without classifying anything.
func (c *Cache) Seed(s Snapshot) {
	for id, e := range s {
		c.Apply(id, e)
	}
}

// Len returns the number of known devices.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Change is the classification of one snapshot entry against the cache.
type Change struct {
	DeviceID string
	IsNew    bool
	Entry    SnapshotEntry

	// Previous is the cached timestamp the entry was compared against.
	Previous *time.Time
}

// Diff classifies every device of s against c, in ascending id order.
// It does not modify the cache; callers Apply each entry once handled.
func Diff(c *Cache, s Snapshot) []Change {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		entry := s[id]
		var prev *time.Time
		if cached, ok := c.Get(id); ok {
			prev = cached.LastSeen
		}
		changes = append(changes, Change{
			DeviceID: id,
			IsNew:    IsNewEvent(prev, entry.LastConnection),
			Entry:    entry,
			Previous: prev,
		})
	}
	return changes
}

// IsNewEvent reports whether next represents a power-on after prev: next must
// be known, and either prev is unknown or next is strictly later.
func IsNewEvent(prev, next *time.Time) bool {
	if next == nil {
		return false
	}
	return prev == nil || next.After(*prev)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
