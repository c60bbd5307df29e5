// Package store implements the keyspace of the server: a progressive-rehash
// map of entries, each optionally scheduled on an indexed TTL min-heap and
// tracked on a recency list.
//
// A Store is confined to a single goroutine. The server's store loop is the
// only caller; nothing here locks. The one concession to concurrency is the
// optional free pool, which only ever receives subgraphs already unlinked
// from every structure in this package.
package store

import (
	"bytes"
	"errors"
	"time"

	"github.com/lhartmann/kedis/lib/container/dlist"
	"github.com/lhartmann/kedis/lib/container/hmap"
	"github.com/lhartmann/kedis/lib/container/minheap"
	"github.com/lhartmann/kedis/lib/pool"
	"github.com/lhartmann/kedis/lib/zset"
)

var (
	// ErrNotFound reports a missing (or expired) key or member.
	ErrNotFound = errors.New("key not found")
	// ErrWrongType reports an operation against a payload of the other kind.
	ErrWrongType = errors.New("value has the wrong type")
)

const (
	// largeSetMembers is the payload size from which teardown is handed to
	// the free pool instead of running on the store loop.
	largeSetMembers = 10000
	// maxExpireBatch caps expirations per sweep to stay fair to traffic.
	maxExpireBatch = 2000
)

// Options configures a Store.
type Options struct {
	// FreePool, if set, runs large payload teardowns off the store loop.
	FreePool *pool.Pool
	// Now overrides the millisecond clock (tests).
	Now func() uint64
}

// Store is the keyspace.
type Store struct {
	keys    hmap.Map[*Entry]
	ttl     *minheap.Heap[*Entry]
	recency dlist.Node[*Entry] // most recently touched entries at the back
	free    *pool.Pool
	seed    uint64
	now     func() uint64

	expiredTotal uint64
}

// New creates an empty keyspace.
func New(opts Options) *Store {
	s := &Store{
		free: opts.FreePool,
		seed: hmap.NewSeed(),
		now:  opts.Now,
	}
	if s.now == nil {
		s.now = func() uint64 { return uint64(time.Now().UnixMilli()) }
	}
	s.ttl = minheap.New(func(e *Entry, idx int) { e.heapIdx = idx })
	s.recency.Init()
	return s
}

// --------------------------------------------------------------------------
// String operations
// --------------------------------------------------------------------------

// Get returns the string value stored at key.
func (s *Store) Get(key []byte) ([]byte, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, ErrNotFound
	}
	if e.kind != KindString {
		return nil, ErrWrongType
	}
	return e.val, nil
}

// Set stores a string value, creating the entry on demand. An existing TTL
// is left in place.
func (s *Store) Set(key, val []byte) error {
	if e := s.lookup(key); e != nil {
		if e.kind != KindString {
			return ErrWrongType
		}
		e.val = append(e.val[:0], val...)
		return nil
	}
	e := &Entry{
		key:     append([]byte(nil), key...),
		kind:    KindString,
		val:     append([]byte(nil), val...),
		heapIdx: minheap.NoIndex,
	}
	s.insert(e)
	return nil
}

// Del removes the entry of any kind and reports whether one existed.
func (s *Store) Del(key []byte) bool {
	e := s.lookup(key)
	if e == nil {
		return false
	}
	s.drop(e, false)
	return true
}

// --------------------------------------------------------------------------
// TTL operations
// --------------------------------------------------------------------------

// PExpire schedules the key to expire in ms milliseconds, or clears the TTL
// when ms is negative. It reports whether the key exists.
func (s *Store) PExpire(key []byte, ms int64) bool {
	e := s.lookup(key)
	if e == nil {
		return false
	}
	if ms < 0 {
		if e.heapIdx != minheap.NoIndex {
			s.ttl.Remove(e.heapIdx)
		}
		return true
	}
	s.ttl.Update(e.heapIdx, s.now()+uint64(ms), e)
	return true
}

// PTTL returns the remaining lifetime in milliseconds, -1 when the key has
// no TTL. The bool reports whether the key exists.
func (s *Store) PTTL(key []byte) (int64, bool) {
	e := s.lookup(key)
	if e == nil {
		return 0, false
	}
	if e.heapIdx == minheap.NoIndex {
		return -1, true
	}
	return int64(s.ttl.Deadline(e.heapIdx) - s.now()), true
}

// NextDeadline returns the earliest scheduled expiration.
func (s *Store) NextDeadline() (uint64, bool) {
	item, ok := s.ttl.PeekMin()
	return item.Deadline, ok
}

// ExpireDue removes entries whose deadline has passed, at most
// maxExpireBatch per call, and returns how many were removed.
func (s *Store) ExpireDue() int {
	now := s.now()
	n := 0
	for n < maxExpireBatch {
		item, ok := s.ttl.PeekMin()
		if !ok || item.Deadline > now {
			break
		}
		s.drop(item.Elem, true)
		n++
	}
	return n
}

// --------------------------------------------------------------------------
// Key enumeration
// --------------------------------------------------------------------------

// Keys returns all keys matching the glob pattern. Entries past their
// deadline are skipped even before the sweep removes them.
func (s *Store) Keys(pattern []byte) [][]byte {
	now := s.now()
	var out [][]byte
	s.keys.ForEach(func(e *Entry) bool {
		if e.heapIdx != minheap.NoIndex && s.ttl.Deadline(e.heapIdx) <= now {
			return true
		}
		if Match(pattern, e.key) {
			out = append(out, e.key)
		}
		return true
	})
	return out
}

// --------------------------------------------------------------------------
// Sorted-set operations
// --------------------------------------------------------------------------

// ZAdd adds member with score to the sorted set at key, creating the set on
// demand. It reports whether a new member was created.
func (s *Store) ZAdd(key []byte, score float64, member []byte) (bool, error) {
	e := s.lookup(key)
	if e == nil {
		e = &Entry{
			key:     append([]byte(nil), key...),
			kind:    KindZSet,
			set:     zset.New(),
			heapIdx: minheap.NoIndex,
		}
		s.insert(e)
	} else if e.kind != KindZSet {
		return false, ErrWrongType
	}
	return e.set.Insert(member, score), nil
}

// ZRem removes member from the sorted set at key and reports whether it was
// present. A missing key removes nothing.
func (s *Store) ZRem(key, member []byte) (bool, error) {
	set, err := s.zsetAt(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	n := set.Lookup(member)
	if n == nil {
		return false, nil
	}
	set.Delete(n)
	return true, nil
}

// ZScore returns the member's score.
func (s *Store) ZScore(key, member []byte) (float64, error) {
	set, err := s.zsetAt(key)
	if err != nil {
		return 0, err
	}
	n := set.Lookup(member)
	if n == nil {
		return 0, ErrNotFound
	}
	return n.Score(), nil
}

// Pair is one (score, name) element of a range query result.
type Pair struct {
	Score float64
	Name  []byte
}

// ZQuery seeks the first member with key >= (minScore, minName), skips
// offset rank positions, and walks forward collecting up to limit pairs.
// A missing key yields an empty result.
func (s *Store) ZQuery(key []byte, minScore float64, minName []byte, offset, limit int64) ([]Pair, error) {
	set, err := s.zsetAt(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	n := set.SeekGE(minScore, minName)
	if n != nil && offset != 0 {
		n = set.Offset(n, offset)
	}
	var out []Pair
	for n != nil && int64(len(out)) < limit {
		out = append(out, Pair{Score: n.Score(), Name: n.Name()})
		n = set.Offset(n, +1)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Len returns the number of live entries.
func (s *Store) Len() int {
	return s.keys.Len()
}

// TTLCount returns the number of entries with a scheduled expiration.
func (s *Store) TTLCount() int {
	return s.ttl.Len()
}

// ExpiredTotal returns the number of entries removed by expiration since
// startup.
func (s *Store) ExpiredTotal() uint64 {
	return s.expiredTotal
}

// IdleKey returns the key that has gone longest without being accessed.
func (s *Store) IdleKey() ([]byte, bool) {
	if s.recency.Empty() {
		return nil, false
	}
	return s.recency.Next().Elem.key, true
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

// lookup finds a live entry, expiring it on the spot when its deadline has
// passed, and records the access on the recency list.
func (s *Store) lookup(key []byte) *Entry {
	hcode := hmap.Hash(key, s.seed)
	e, ok := s.keys.Lookup(hcode, func(cand *Entry) bool {
		return bytes.Equal(cand.key, key)
	})
	if !ok {
		return nil
	}
	if e.heapIdx != minheap.NoIndex && s.ttl.Deadline(e.heapIdx) <= s.now() {
		s.drop(e, true)
		return nil
	}
	e.recent.Detach()
	s.recency.InsertBefore(&e.recent)
	return e
}

func (s *Store) insert(e *Entry) {
	e.node.Init(e, hmap.Hash(e.key, s.seed))
	e.recent.Elem = e
	s.keys.Insert(&e.node)
	s.recency.InsertBefore(&e.recent)
}

// drop unlinks the entry from every structure and disposes its payload.
func (s *Store) drop(e *Entry, expired bool) {
	s.keys.Delete(e.node.Hash(), func(cand *Entry) bool { return cand == e })
	if e.heapIdx != minheap.NoIndex {
		s.ttl.Remove(e.heapIdx)
	}
	e.recent.Detach()
	s.dispose(e)
	if expired {
		s.expiredTotal++
	}
}

// dispose frees the payload, handing large sets to the free pool. The
// subgraph is fully unlinked at this point, so the job shares nothing.
func (s *Store) dispose(e *Entry) {
	set := e.set
	e.set = nil
	e.val = nil
	if set == nil {
		return
	}
	if s.free != nil && set.Len() >= largeSetMembers {
		s.free.Submit(set.Clear)
		return
	}
	set.Clear()
}

// zsetAt resolves the sorted set stored at key.
func (s *Store) zsetAt(key []byte) (*zset.Set, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, ErrNotFound
	}
	if e.kind != KindZSet {
		return nil, ErrWrongType
	}
	return e.set, nil
}
