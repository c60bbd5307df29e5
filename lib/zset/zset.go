// Package zset implements a sorted set: a collection of named members, each
// carrying a float64 score, ordered lexicographically by (score, name).
//
// Every member lives in two indexes at once — a hash map for O(1) lookup by
// name and an order-statistic AVL tree for ordered seeks and rank offsets.
// Both indexes link intrusive nodes embedded in the member itself, so one
// allocation covers both.
package zset

import (
	"bytes"

	"github.com/lhartmann/kedis/lib/container/avl"
	"github.com/lhartmann/kedis/lib/container/hmap"
)

// hashSeed randomizes member hashing per process.
var hashSeed = hmap.NewSeed()

// Node is one member of a sorted set.
type Node struct {
	hnode hmap.Node[*Node]
	tnode avl.Node[*Node]
	score float64
	name  []byte
}

// Score returns the member's score.
func (n *Node) Score() float64 { return n.score }

// Name returns the member's name. The slice is owned by the set.
func (n *Node) Name() []byte { return n.name }

// less orders members by (score, name).
func less(a, b *Node) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return bytes.Compare(a.name, b.name) < 0
}

// Set pairs the by-name hash map with the (score, name) tree. The zero
// value is an empty set ready for use; New is provided for symmetry.
type Set struct {
	byName hmap.Map[*Node]
	root   *avl.Node[*Node]
}

// New returns an empty sorted set.
func New() *Set {
	return &Set{}
}

// Len returns the number of members.
func (s *Set) Len() int {
	return s.byName.Len()
}

// Lookup finds a member by name, or returns nil.
func (s *Set) Lookup(name []byte) *Node {
	hcode := hmap.Hash(name, hashSeed)
	n, ok := s.byName.Lookup(hcode, func(cand *Node) bool {
		return bytes.Equal(cand.name, name)
	})
	if !ok {
		return nil
	}
	return n
}

// Insert adds the member or updates its score. It reports whether a new
// member was created. An update with an unchanged score is a no-op.
func (s *Set) Insert(name []byte, score float64) bool {
	if n := s.Lookup(name); n != nil {
		if n.score == score {
			return false
		}
		// Detach from the tree only; the name (and hash slot) is stable.
		s.root = avl.Delete(&n.tnode)
		n.score = score
		n.tnode.Init(n)
		s.root = avl.Insert(s.root, &n.tnode, less)
		return false
	}

	n := &Node{score: score, name: append([]byte(nil), name...)}
	n.hnode.Init(n, hmap.Hash(n.name, hashSeed))
	n.tnode.Init(n)
	s.byName.Insert(&n.hnode)
	s.root = avl.Insert(s.root, &n.tnode, less)
	return true
}

// Delete detaches the member from both indexes.
func (s *Set) Delete(n *Node) {
	s.root = avl.Delete(&n.tnode)
	s.byName.Delete(n.hnode.Hash(), func(cand *Node) bool {
		return cand == n
	})
	n.name = nil
}

// SeekGE returns the first member whose (score, name) key is greater than
// or equal to the given one, or nil when every member is smaller.
func (s *Set) SeekGE(score float64, name []byte) *Node {
	key := &Node{score: score, name: name}
	var best *avl.Node[*Node]
	for cur := s.root; cur != nil; {
		if less(cur.Elem, key) {
			cur = cur.Right()
		} else {
			best = cur // candidate, look for a smaller one on the left
			cur = cur.Left()
		}
	}
	if best == nil {
		return nil
	}
	return best.Elem
}

// Offset returns the member offset rank positions away from n in score
// order, or nil when the rank falls outside the set.
func (s *Set) Offset(n *Node, offset int64) *Node {
	t := avl.Offset(&n.tnode, offset)
	if t == nil {
		return nil
	}
	return t.Elem
}

// Clear tears the set down member by member. Used directly and as the
// background free job for large sets.
func (s *Set) Clear() {
	for s.root != nil {
		n := s.root.Elem
		s.root = avl.Delete(&n.tnode)
		n.name = nil
	}
	s.byName.Clear()
}
