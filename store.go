package overgrid

import (
	"sync"
	"time"
)

// MemoryImageStore is a goroutine-safe in-memory ImageStore.
type MemoryImageStore struct {
	mu      sync.RWMutex
	entries map[string]ImageEntry
}

// NewMemoryImageStore creates an empty store.
func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{entries: make(map[string]ImageEntry)}
}

// Get returns the entry for id.
func (s *MemoryImageStore) Get(id string) (ImageEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

// Set stores entry, replacing any previous bytes under the same id. The
// caller is responsible for invalidating the bitmap cache when replacing.
func (s *MemoryImageStore) Set(entry ImageEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
}

// Delete removes the entry for id.
func (s *MemoryImageStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len returns the number of stored entries.
func (s *MemoryImageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// DefaultReleaseGrace is how long RefCountedImageStore retains bytes after
// the last reference is released.
const DefaultReleaseGrace = 30 * time.Second

type refEntry struct {
	entry ImageEntry
	refs  int
	purge *time.Timer
}

// RefCountedImageStore is an ImageStore whose entries are shared across
// referencing sheets. Each sheet acquires a reference per use; when the last
// reference is released, the bytes linger for a grace period before being
// dropped, so an undo or a cut-and-paste across sheets does not refetch.
type RefCountedImageStore struct {
	mu      sync.Mutex
	entries map[string]*refEntry
	grace   time.Duration
}

// NewRefCountedImageStore creates a store with the given release grace
// period. Zero or negative grace means DefaultReleaseGrace.
func NewRefCountedImageStore(grace time.Duration) *RefCountedImageStore {
	if grace <= 0 {
		grace = DefaultReleaseGrace
	}
	return &RefCountedImageStore{
		entries: make(map[string]*refEntry),
		grace:   grace,
	}
}

// Get returns the entry for id, whether referenced or in its grace period.
func (s *RefCountedImageStore) Get(id string) (ImageEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.entry, true
	}
	return ImageEntry{}, false
}

// Set stores entry with zero references, starting its grace period: bytes
// not acquired within the grace window are dropped.
func (s *RefCountedImageStore) Set(entry ImageEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[entry.ID]; ok {
		e.entry = entry
		return
	}
	e := &refEntry{entry: entry}
	s.entries[entry.ID] = e
	s.schedulePurge(entry.ID, e)
}

// Acquire adds a reference to id, cancelling any pending purge. Returns
// false if the id is unknown (already purged or never stored).
func (s *RefCountedImageStore) Acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.refs++
	if e.purge != nil {
		e.purge.Stop()
		e.purge = nil
	}
	return true
}

// Release drops a reference to id. When the count reaches zero the entry's
// bytes are retained for the grace period, then dropped if still unreferenced.
func (s *RefCountedImageStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs == 0 {
		s.schedulePurge(id, e)
	}
}

// Refs returns the current reference count for id.
func (s *RefCountedImageStore) Refs(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of entries, including those in their grace period.
func (s *RefCountedImageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// schedulePurge arms the grace timer for e. Caller holds the mutex.
func (s *RefCountedImageStore) schedulePurge(id string, e *refEntry) {
	if e.purge != nil {
		e.purge.Stop()
	}
	e.purge = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.entries[id]; ok && cur == e && cur.refs == 0 {
			delete(s.entries, id)
		}
	})
}
