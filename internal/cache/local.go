package cache

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

// Entry is the cached snapshot of one hot key. Presence of an entry in Local
// means the key is hot; a deleted key keeps its entry with valid=false until
// it is demoted.
type Entry struct {
	key         string
	val         []byte
	valid       bool
	refreshedAt time.Time
	failures    int
	version     uint64
}

func (e *Entry) Key() string { return e.key }

// EntryInfo is a copy of an entry's state taken under its shard lock.
type EntryInfo struct {
	Valid       bool
	RefreshedAt time.Time
	Failures    int
	Version     uint64
	Size        int
}

type AdmitResult int

const (
	Admitted AdmitResult = iota
	AlreadyCached
	Replaced
	Full
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case AlreadyCached:
		return "already_cached"
	case Replaced:
		return "replaced"
	default:
		return "full"
	}
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*Entry
}

// Local holds at most Capacity hot-key entries spread over 64 shards.
// Admissions are serialised so the bound is exact.
type Local struct {
	capacity int
	now      func() time.Time

	admitMu sync.Mutex
	size    atomic.Int64
	shards  [numShards]shard
}

func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		capacity = 1
	}
	l := &Local{capacity: capacity, now: time.Now}
	for i := range l.shards {
		l.shards[i].m = make(map[string]*Entry)
	}
	return l
}

// WithClock replaces the time source; used by tests.
func (l *Local) WithClock(now func() time.Time) *Local {
	l.now = now
	return l
}

func (l *Local) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	return &l.shards[h&(numShards-1)]
}

// Get returns a copy of the value of a live entry. Missing and invalidated
// entries miss.
func (l *Local) Get(key string) ([]byte, bool) {
	s := l.pick(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.m[key]
	if e == nil || !e.valid {
		return nil, false
	}
	return slices.Clone(e.val), true
}

// Lookup returns the entry of a cached key whether or not it is valid, and
// the version to pass to Refresh.
func (l *Local) Lookup(key string) (*Entry, uint64, bool) {
	s := l.pick(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.m[key]
	if e == nil {
		return nil, 0, false
	}
	return e, e.version, true
}

func (l *Local) Contains(key string) bool {
	_, _, ok := l.Lookup(key)
	return ok
}

func (l *Local) Info(key string) (EntryInfo, bool) {
	s := l.pick(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.m[key]
	if e == nil {
		return EntryInfo{}, false
	}
	return EntryInfo{
		Valid:       e.valid,
		RefreshedAt: e.refreshedAt,
		Failures:    e.failures,
		Version:     e.version,
		Size:        len(e.val),
	}, true
}

// Admit inserts key with val. At capacity it removes victim first, provided
// victim is still cached; otherwise the admission is refused. Admitting a
// key that is already cached returns the existing entry.
func (l *Local) Admit(key string, val []byte, victim string) (*Entry, AdmitResult, *Entry) {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()

	if e, _, ok := l.Lookup(key); ok {
		return e, AlreadyCached, nil
	}

	res := Admitted
	var evicted *Entry
	if int(l.size.Load()) >= l.capacity {
		if victim == "" || victim == key {
			return nil, Full, nil
		}
		v, ok := l.Remove(victim)
		if !ok {
			return nil, Full, nil
		}
		evicted = v
		res = Replaced
	}

	e := &Entry{key: key, val: val, valid: true, refreshedAt: l.now()}
	s := l.pick(key)
	s.mu.Lock()
	s.m[key] = e
	l.size.Add(1)
	s.mu.Unlock()
	return e, res, evicted
}

// Update overwrites the value of a cached key after a write-through and
// clears its failure count. It reports false when the key is not cached.
func (l *Local) Update(key string, val []byte) bool {
	s := l.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.m[key]
	if e == nil {
		return false
	}
	e.val = val
	e.valid = true
	e.failures = 0
	e.version++
	e.refreshedAt = l.now()
	return true
}

// Invalidate marks a cached key stale so reads fall through to the store.
// The key stays cached, and therefore hot, until demotion removes it.
func (l *Local) Invalidate(key string) bool {
	s := l.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.m[key]
	if e == nil {
		return false
	}
	e.val = nil
	e.valid = false
	e.version++
	return true
}

// Refresh applies a value fetched in the background. It is rejected when the
// entry was removed or replaced, or a write happened after version was read.
func (l *Local) Refresh(e *Entry, version uint64, val []byte) bool {
	s := l.pick(e.key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[e.key] != e || e.version != version {
		return false
	}
	e.val = val
	e.valid = true
	e.failures = 0
	e.refreshedAt = l.now()
	return true
}

// RecordFailure bumps the consecutive refresh failure count of e and returns
// it. Zero means e is no longer cached.
func (l *Local) RecordFailure(e *Entry) int {
	s := l.pick(e.key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[e.key] != e {
		return 0
	}
	e.failures++
	return e.failures
}

func (l *Local) Remove(key string) (*Entry, bool) {
	s := l.pick(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.m[key]
	if e == nil {
		return nil, false
	}
	delete(s.m, key)
	l.size.Add(-1)
	return e, true
}

func (l *Local) Keys() []string {
	out := make([]string, 0, l.Len())
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.RLock()
		for k := range s.m {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	return out
}

func (l *Local) Len() int { return int(l.size.Load()) }

func (l *Local) Capacity() int { return l.capacity }
