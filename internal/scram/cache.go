package scram

import (
	"strings"
	"sync"
	"time"
)

// CacheEntry is the per-credential secret cache record (§3 "Cache entry"):
// the derived SaltedPassword/ClientKey/ServerKey for one (hashedPassword,
// salt, iterations) triple. Entries are immutable after construction;
// callers that need a different triple build a new entry rather than
// mutating this one. Copies are always deep (Clone), and Destroy zeroizes
// every secret field so a discarded entry leaves nothing recoverable on
// the heap.
type CacheEntry struct {
	hashedPassword string
	salt           []byte
	iterations     int

	saltedPassword secret
	clientKey      secret
	serverKey      secret
}

func newCacheEntry(hashedPassword string, salt []byte, iterations int, saltedPassword, clientKey, serverKey []byte) *CacheEntry {
	e := &CacheEntry{
		hashedPassword: strings.Clone(hashedPassword),
		iterations:     iterations,
	}
	e.salt = append([]byte(nil), salt...)
	if saltedPassword != nil {
		e.saltedPassword = append(secret(nil), saltedPassword...)
	}
	if clientKey != nil {
		e.clientKey = append(secret(nil), clientKey...)
	}
	if serverKey != nil {
		e.serverKey = append(secret(nil), serverKey...)
	}
	return e
}

// Clone returns a deep copy of e, suitable for attaching to another
// Session or storing in a Store.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	return newCacheEntry(e.hashedPassword, e.salt, e.iterations, e.saltedPassword, e.clientKey, e.serverKey)
}

// Destroy zeroizes every secret field of e. Safe to call more than once.
func (e *CacheEntry) Destroy() {
	if e == nil {
		return
	}
	zeroString(&e.hashedPassword)
	e.saltedPassword.zero()
	e.clientKey.zero()
	e.serverKey.zero()
}

// matches reports whether e was derived from the same (hashedPassword,
// salt, iterations) triple as the given presecrets. The hashedPassword and
// salt comparisons go through ct_equal: a cache lookup is, in effect, a
// comparison of password-equivalent secrets, and the spec's constant-time
// requirement for "cache-key comparison over decoded_salt" extends
// naturally to the hashed_password half of the key.
func (e *CacheEntry) matches(a *algo, hashedPassword string, salt []byte, iterations int) bool {
	if e == nil {
		return false
	}
	if e.iterations != iterations {
		return false
	}
	if !a.ctEqual([]byte(e.hashedPassword), []byte(hashedPassword)) {
		return false
	}
	return a.ctEqual(e.salt, salt)
}

// storeItem is a Store's bookkeeping wrapper around a CacheEntry.
type storeItem struct {
	entry      *CacheEntry
	lastAccess time.Time
}

// Store is a shared, concurrency-safe table of CacheEntry values keyed by
// an arbitrary caller-chosen identity (e.g. a configured credential name).
// It is the ambient container the authenticator and self-check use to
// persist a Session's cache across repeated authentications; the entries
// themselves remain the core's immutable, copy-in/copy-out CacheEntry.
// A background sweep goroutine, modeled on the idle-connection sweep a
// connection pool runs, evicts entries idle past ttl or beyond
// maxEntries, zeroizing whatever it evicts exactly as Destroy would.
type Store struct {
	mu         sync.RWMutex
	items      map[string]*storeItem
	ttl        time.Duration
	maxEntries int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStore creates a Store. ttl <= 0 disables idle eviction; maxEntries <=
// 0 disables the entry-count cap.
func NewStore(ttl time.Duration, maxEntries int) *Store {
	return &Store{
		items:      make(map[string]*storeItem),
		ttl:        ttl,
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
}

// Get returns a deep copy of the entry stored under key, if any.
func (s *Store) Get(key string) (*CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	it.lastAccess = time.Now()
	return it.entry.Clone(), true
}

// Put stores a deep copy of entry under key, destroying and replacing any
// prior entry under that key.
func (s *Store) Put(key string, entry *CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.items[key]; ok {
		old.entry.Destroy()
	}
	s.items[key] = &storeItem{entry: entry.Clone(), lastAccess: time.Now()}
	s.evictLocked()
}

// Len returns the number of entries currently cached.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Remove destroys and removes the entry stored under key, if any.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[key]; ok {
		it.entry.Destroy()
		delete(s.items, key)
	}
}

// evictLocked drops idle-expired entries, then the oldest entries beyond
// maxEntries. Callers must hold s.mu.
func (s *Store) evictLocked() {
	now := time.Now()
	if s.ttl > 0 {
		for k, it := range s.items {
			if now.Sub(it.lastAccess) > s.ttl {
				it.entry.Destroy()
				delete(s.items, k)
			}
		}
	}
	if s.maxEntries > 0 {
		for len(s.items) > s.maxEntries {
			var oldestKey string
			var oldest time.Time
			first := true
			for k, it := range s.items {
				if first || it.lastAccess.Before(oldest) {
					oldestKey, oldest, first = k, it.lastAccess, false
				}
			}
			if first {
				break
			}
			s.items[oldestKey].entry.Destroy()
			delete(s.items, oldestKey)
		}
	}
}

// CacheKeyInfo is a secret-free snapshot of one Store entry, safe to expose
// over an API or log: the caller-chosen key, the iteration count the
// backend demanded, and when the entry was last touched.
type CacheKeyInfo struct {
	Key        string    `json:"key"`
	Iterations int       `json:"iterations"`
	LastAccess time.Time `json:"last_access"`
}

// Snapshot returns secret-free metadata for every entry currently cached.
func (s *Store) Snapshot() []CacheKeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CacheKeyInfo, 0, len(s.items))
	for k, it := range s.items {
		out = append(out, CacheKeyInfo{
			Key:        k,
			Iterations: it.entry.iterations,
			LastAccess: it.lastAccess,
		})
	}
	return out
}

// StartSweep runs evictLocked on a ticker until Stop is called.
func (s *Store) StartSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.evictLocked()
				s.mu.Unlock()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop stops the sweep goroutine and destroys every remaining entry. Safe
// to call multiple times.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, it := range s.items {
		it.entry.Destroy()
		delete(s.items, k)
	}
}
