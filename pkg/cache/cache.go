// Package cache holds the last reconciled value of each observable.
//
// A Cache is not safe for concurrent use; the client guards it with the
// same lock as its registry.
package cache

import "sort"

// Entry is the last known value of an observable and its checksum.
type Entry struct {
	ObsID    uint32
	Value    []byte
	Checksum uint64
}

// Cache maps obs-ids to entries.
//
// Besides live entries it keeps hints: entries restored from a snapshot
// that no observable has claimed yet. Hints are never visible through Get.
type Cache struct {
	entries map[uint32]Entry
	hints   map[uint32]Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[uint32]Entry),
		hints:   make(map[uint32]Entry),
	}
}

// Get returns the entry for obsID.
func (c *Cache) Get(obsID uint32) (Entry, bool) {
	e, ok := c.entries[obsID]
	return e, ok
}

// Checksum returns the cached checksum for obsID, or 0 if there is none.
func (c *Cache) Checksum(obsID uint32) uint64 {
	return c.entries[obsID].Checksum
}

// Set replaces the entry for obsID.
func (c *Cache) Set(obsID uint32, value []byte, checksum uint64) {
	c.entries[obsID] = Entry{ObsID: obsID, Value: value, Checksum: checksum}
}

// Delete removes the entry for obsID.
func (c *Cache) Delete(obsID uint32) {
	delete(c.entries, obsID)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Restore stores entries as hints. Existing hints are replaced.
func (c *Cache) Restore(entries []Entry) {
	c.hints = make(map[uint32]Entry, len(entries))
	for _, e := range entries {
		if e.Checksum == 0 {
			continue
		}
		c.hints[e.ObsID] = e
	}
}

// Adopt promotes the hint for obsID to a live entry. It reports whether a
// hint existed. A live entry is never overwritten.
func (c *Cache) Adopt(obsID uint32) bool {
	h, ok := c.hints[obsID]
	if !ok {
		return false
	}
	delete(c.hints, obsID)
	if _, live := c.entries[obsID]; live {
		return false
	}
	c.entries[obsID] = h
	return true
}

// Snapshot returns the live entries ordered by obs-id.
func (c *Cache) Snapshot() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObsID < out[j].ObsID })
	return out
}
