package store

import (
	"github.com/lhartmann/kedis/lib/container/dlist"
	"github.com/lhartmann/kedis/lib/container/hmap"
	"github.com/lhartmann/kedis/lib/zset"
)

// Kind tags what an Entry's payload is.
type Kind uint8

const (
	KindString Kind = iota
	KindZSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindZSet:
		return "zset"
	default:
		return "unknown"
	}
}

// Entry is the top-level keyspace record: an owned key tied to either string
// bytes or a sorted set, plus the links that place it in the keyspace map,
// the TTL heap and the recency list.
//
// heapIdx is either minheap.NoIndex or a valid slot in the store's TTL heap
// whose element back-references this entry.
type Entry struct {
	key  []byte
	kind Kind
	val  []byte    // KindString payload
	set  *zset.Set // KindZSet payload

	node    hmap.Node[*Entry]
	heapIdx int
	recent  dlist.Node[*Entry]
}

// Key returns the entry's key. The slice is owned by the store.
func (e *Entry) Key() []byte { return e.key }

// Kind returns the payload type tag.
func (e *Entry) Kind() Kind { return e.kind }
