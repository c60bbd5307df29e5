// Package hmap provides a progressive-rehash hash map over intrusive chain
// nodes.
//
// The map is logically one mapping from 64-bit hash codes plus caller-defined
// equality to elements. Physically it is two tables: growth allocates a
// larger table and migrates buckets from the old one incrementally on
// subsequent operations, so no single operation ever pays for a full rehash.
package hmap

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

const (
	initCap     = 4   // buckets in a freshly initialized table
	maxLoad     = 8   // chain nodes per bucket before a rehash starts
	migrateWork = 128 // nodes moved per help step
)

// Node is an intrusive chain link. Embed it in the element, point Elem back
// at the element and set the hash code once; the map never allocates per
// entry.
type Node[T any] struct {
	next  *Node[T]
	hcode uint64
	Elem  T
}

// Init prepares the node for insertion.
func (n *Node[T]) Init(elem T, hcode uint64) {
	n.next = nil
	n.hcode = hcode
	n.Elem = elem
}

// Hash returns the node's stored hash code.
func (n *Node[T]) Hash() uint64 {
	return n.hcode
}

// table is one power-of-two sized array of chains.
type table[T any] struct {
	slots []*Node[T]
	mask  uint64
	size  int
}

func (t *table[T]) init(cap int) {
	t.slots = make([]*Node[T], cap)
	t.mask = uint64(cap - 1)
	t.size = 0
}

func (t *table[T]) insert(n *Node[T]) {
	pos := n.hcode & t.mask
	n.next = t.slots[pos]
	t.slots[pos] = n
	t.size++
}

// lookupRef finds the "from" pointer whose target matches, so the caller can
// splice the node out without re-walking the chain.
func (t *table[T]) lookupRef(hcode uint64, eq func(T) bool) **Node[T] {
	if t.slots == nil {
		return nil
	}
	from := &t.slots[hcode&t.mask]
	for *from != nil {
		n := *from
		if n.hcode == hcode && eq(n.Elem) {
			return from
		}
		from = &n.next
	}
	return nil
}

func (t *table[T]) detach(from **Node[T]) *Node[T] {
	n := *from
	*from = n.next
	n.next = nil
	t.size--
	return n
}

// Map is the two-table progressive-rehash container.
type Map[T any] struct {
	newer      table[T]
	older      table[T]
	migratePos uint64
}

// Lookup finds the element with the given hash code for which eq returns
// true, scanning the newer table first.
func (m *Map[T]) Lookup(hcode uint64, eq func(T) bool) (T, bool) {
	m.helpMigrate()
	from := m.newer.lookupRef(hcode, eq)
	if from == nil {
		from = m.older.lookupRef(hcode, eq)
	}
	if from == nil {
		var zero T
		return zero, false
	}
	return (*from).Elem, true
}

// Insert adds the node to the map. The caller guarantees the key is not
// already present. A rehash is started when the newer table's load factor
// exceeds the threshold.
func (m *Map[T]) Insert(n *Node[T]) {
	if m.newer.slots == nil {
		m.newer.init(initCap)
	}
	m.newer.insert(n)

	if m.older.slots == nil && m.newer.size > maxLoad*int(m.newer.mask+1) {
		// Shift the full table aside and restart with double the capacity;
		// migration happens on subsequent operations.
		m.older = m.newer
		m.newer = table[T]{}
		m.newer.init(2 * len(m.older.slots))
		m.migratePos = 0
	}
	m.helpMigrate()
}

// Delete detaches and returns the matching element. Nothing is freed;
// ownership returns to the caller.
func (m *Map[T]) Delete(hcode uint64, eq func(T) bool) (T, bool) {
	m.helpMigrate()
	if from := m.newer.lookupRef(hcode, eq); from != nil {
		return m.newer.detach(from).Elem, true
	}
	if from := m.older.lookupRef(hcode, eq); from != nil {
		return m.older.detach(from).Elem, true
	}
	var zero T
	return zero, false
}

// Len returns the number of elements across both tables.
func (m *Map[T]) Len() int {
	return m.newer.size + m.older.size
}

// Clear drops both tables.
func (m *Map[T]) Clear() {
	*m = Map[T]{}
}

// ForEach visits every element in both tables until fn returns false.
func (m *Map[T]) ForEach(fn func(T) bool) {
	for _, t := range []*table[T]{&m.newer, &m.older} {
		for _, n := range t.slots {
			for ; n != nil; n = n.next {
				if !fn(n.Elem) {
					return
				}
			}
		}
	}
}

// helpMigrate moves a bounded amount of nodes from the older table into the
// newer one, then releases the older table once it is drained. This bounds
// per-operation work to O(migrateWork) regardless of table size.
func (m *Map[T]) helpMigrate() {
	if m.older.slots == nil {
		return
	}
	work := 0
	for work < migrateWork && m.older.size > 0 {
		from := &m.older.slots[m.migratePos]
		if *from == nil {
			m.migratePos++
			continue
		}
		m.newer.insert(m.older.detach(from))
		work++
	}
	if m.older.size == 0 {
		m.older = table[T]{}
	}
}

// --------------------------------------------------------------------------
// Hashing helpers
// --------------------------------------------------------------------------

// NewSeed produces a random seed for hash distribution, falling back to the
// clock if the system source is unavailable.
func NewSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// Hash computes an FNV-1a hash of data mixed with the given seed.
func Hash(data []byte, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64) ^ seed
	for _, c := range data {
		h ^= uint64(c)
		h *= prime64
	}
	return h
}
