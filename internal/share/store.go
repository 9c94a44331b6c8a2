package share

import (
	"sync"
	"time"
)

// payloadTTL bounds how long a precomputed share payload may be served
// without recomputation. Fixed globally; entries cannot choose their own.
const payloadTTL = 90 * time.Second

// Payload is anything the store can cache under its own identifier.
type Payload interface {
	CacheKey() string
}

// Store is a process-local cache for precomputed share payloads. It exists
// purely to skip recomputing expensive payloads within a short window: losing
// the whole store is never a correctness issue because every payload is
// reconstructible from the database.
//
// Expiry is lazy: entries are evicted on the read that finds them stale.
// There is no background sweep, and reads never extend an entry's lifetime.
type Store struct {
	mu      sync.Mutex
	entries map[string]storeEntry
	now     func() time.Time
}

type storeEntry struct {
	payload   Payload
	expiresAt time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]storeEntry),
		now:     time.Now,
	}
}

// Save inserts or overwrites the payload under its own key with an absolute
// expiry of now plus the fixed TTL, and returns the payload for chaining.
func (s *Store) Save(p Payload) Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.CacheKey()] = storeEntry{
		payload:   p,
		expiresAt: s.now().Add(payloadTTL),
	}
	return p
}

// Get returns the live payload under id, or nil. A stale entry is evicted on
// the spot.
func (s *Store) Get(id string) Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, id)
		return nil
	}
	return entry.payload
}
