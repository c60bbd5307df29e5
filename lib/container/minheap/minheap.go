// Package minheap provides an array-backed binary min-heap ordered by a
// 64-bit deadline.
//
// Every element's current slot is mirrored back into the element through a
// caller-supplied setter on every move, so owners can update or remove their
// slot in O(log n) without searching. Forgetting a back-index update on a
// sift swap is the classic way to corrupt such a heap; all movement funnels
// through a single place here.
package minheap

// NoIndex is the back-index value of an element that is not on the heap.
const NoIndex = -1

// Item is one heap slot.
type Item[T any] struct {
	Deadline uint64
	Elem     T
}

// Heap is a min-heap on Item.Deadline.
type Heap[T any] struct {
	items    []Item[T]
	setIndex func(T, int)
}

// New creates a heap. setIndex is invoked with the element's new slot every
// time the element moves, and with NoIndex when it leaves the heap.
func New[T any](setIndex func(T, int)) *Heap[T] {
	return &Heap[T]{setIndex: setIndex}
}

// Len returns the number of elements on the heap.
func (h *Heap[T]) Len() int {
	return len(h.items)
}

// PeekMin returns the slot with the smallest deadline without removing it.
func (h *Heap[T]) PeekMin() (Item[T], bool) {
	if len(h.items) == 0 {
		return Item[T]{}, false
	}
	return h.items[0], true
}

// Deadline returns the deadline stored at the given slot.
func (h *Heap[T]) Deadline(idx int) uint64 {
	return h.items[idx].Deadline
}

// Update sets the deadline of the element at idx, or pushes elem as a new
// slot when idx is NoIndex, then restores heap order in whichever direction
// is needed.
func (h *Heap[T]) Update(idx int, deadline uint64, elem T) {
	if idx == NoIndex {
		h.items = append(h.items, Item[T]{Deadline: deadline, Elem: elem})
		idx = len(h.items) - 1
		h.set(idx)
		h.up(idx)
		return
	}
	old := h.items[idx].Deadline
	h.items[idx].Deadline = deadline
	if deadline < old {
		h.up(idx)
	} else {
		h.down(idx)
	}
}

// Remove takes the element at idx off the heap and marks it with NoIndex.
func (h *Heap[T]) Remove(idx int) T {
	elem := h.items[idx].Elem
	last := len(h.items) - 1
	if idx != last {
		h.items[idx] = h.items[last]
		h.items = h.items[:last]
		h.set(idx)
		if h.up(idx) == idx {
			h.down(idx)
		}
	} else {
		h.items = h.items[:last]
	}
	h.setIndex(elem, NoIndex)
	return elem
}

// PopMin removes and returns the slot with the smallest deadline.
func (h *Heap[T]) PopMin() (Item[T], bool) {
	if len(h.items) == 0 {
		return Item[T]{}, false
	}
	top := h.items[0]
	h.Remove(0)
	return top, true
}

func (h *Heap[T]) set(i int) {
	h.setIndex(h.items[i].Elem, i)
}

func (h *Heap[T]) less(i, j int) bool {
	return h.items[i].Deadline < h.items[j].Deadline
}

func (h *Heap[T]) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.set(i)
	h.set(j)
}

// up sifts the element at i toward the root and returns its final slot.
func (h *Heap[T]) up(i int) int {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
	return i
}

// down sifts the element at i toward the leaves and returns its final slot.
func (h *Heap[T]) down(i int) int {
	n := len(h.items)
	for {
		child := 2*i + 1
		if child >= n {
			break
		}
		if r := child + 1; r < n && h.less(r, child) {
			child = r
		}
		if !h.less(child, i) {
			break
		}
		h.swap(child, i)
		i = child
	}
	return i
}
