package store

import "sync"

// Memory is the in-session audio map. Entries for the active chapter live
// here so playback never touches the durable layer on the hot path.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// NewMemory creates an empty memory layer.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]*Entry)}
}

// Get returns the entry for a key.
func (m *Memory) Get(key Key) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

// Put stores an entry, honoring the tier guard. Reports whether the write
// happened.
func (m *Memory) Put(e *Entry, mode PutMode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mode == Monotonic {
		if cur, ok := m.entries[e.Key]; ok && cur.Tier >= e.Tier {
			return false
		}
	}
	m.entries[e.Key] = e
	return true
}

// ReleaseChapter removes all entries for a chapter and returns how many were
// dropped.
func (m *Memory) ReleaseChapter(bookID, chapterID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if k.BookID == bookID && k.ChapterID == chapterID {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Clear empties the layer.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[Key]*Entry)
}

// Len returns the number of held entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
