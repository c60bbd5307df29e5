package avl

import (
	"math/rand"
	"sort"
	"testing"
)

func intLess(a, b int) bool { return a < b }

// verify checks the AVL balance rule and the subtree-size augmentation for
// every node, returning the in-order element sequence.
func verify(t *testing.T, root *Node[int]) []int {
	t.Helper()
	var walk func(n *Node[int]) []int
	walk = func(n *Node[int]) []int {
		if n == nil {
			return nil
		}
		l, r := height(n.left), height(n.right)
		if l > r+1 || r > l+1 {
			t.Fatalf("node %d out of balance: heights %d/%d", n.Elem, l, r)
		}
		if n.height != 1+max(l, r) {
			t.Fatalf("node %d has stale height", n.Elem)
		}
		if n.count != 1+count(n.left)+count(n.right) {
			t.Fatalf("node %d has stale count", n.Elem)
		}
		if n.left != nil && n.left.parent != n {
			t.Fatalf("node %d: left child parent link broken", n.Elem)
		}
		if n.right != nil && n.right.parent != n {
			t.Fatalf("node %d: right child parent link broken", n.Elem)
		}
		out := walk(n.left)
		out = append(out, n.Elem)
		return append(out, walk(n.right)...)
	}
	return walk(root)
}

func build(values []int) (*Node[int], map[int]*Node[int]) {
	nodes := map[int]*Node[int]{}
	var root *Node[int]
	for _, v := range values {
		n := &Node[int]{}
		n.Init(v)
		nodes[v] = n
		root = Insert(root, n, intLess)
	}
	return root, nodes
}

func TestInsertKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	values := rng.Perm(512)
	root, _ := build(values)

	got := verify(t, root)
	if len(got) != len(values) {
		t.Fatalf("expected %d elements, got %d", len(values), len(got))
	}
	if !sort.IntsAreSorted(got) {
		t.Fatal("in-order walk is not sorted")
	}
	if root.parent != nil {
		t.Fatal("root must not have a parent")
	}
}

func TestDeleteKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	values := rng.Perm(256)
	root, nodes := build(values)

	order := rng.Perm(256)
	for i, v := range order {
		root = Delete(nodes[v])
		delete(nodes, v)

		got := verify(t, root)
		if len(got) != 256-i-1 {
			t.Fatalf("expected %d elements after %d deletes, got %d", 256-i-1, i+1, len(got))
		}
		if !sort.IntsAreSorted(got) {
			t.Fatal("in-order walk is not sorted after delete")
		}
	}
	if root != nil {
		t.Fatal("tree should be empty")
	}
}

// Deleting an internal node must relink its successor, not copy payloads,
// so references to untouched nodes stay valid.
func TestDeleteRelinksSuccessor(t *testing.T) {
	root, nodes := build([]int{50, 25, 75, 60, 90, 55, 65})

	keep := nodes[60]
	root = Delete(nodes[50])

	got := verify(t, root)
	want := []int{25, 55, 60, 65, 75, 90}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if keep.Elem != 60 {
		t.Fatal("untouched node was rewritten")
	}
	if Offset(keep, 0) != keep {
		t.Fatal("reference into the tree went stale")
	}
}

func TestOffset(t *testing.T) {
	const n = 200
	root, nodes := build(rand.New(rand.NewSource(3)).Perm(n))
	_ = root

	for start := 0; start < n; start += 17 {
		for k := -start; start+int(k) < n; k += 13 {
			got := Offset(nodes[start], int64(k))
			if got == nil {
				t.Fatalf("Offset(%d, %d) unexpectedly out of range", start, k)
			}
			if got.Elem != start+int(k) {
				t.Fatalf("Offset(%d, %d) = %d", start, k, got.Elem)
			}
		}
	}

	if Offset(nodes[0], -1) != nil {
		t.Error("offset below rank 0 should be nil")
	}
	if Offset(nodes[n-1], 1) != nil {
		t.Error("offset past the last rank should be nil")
	}
	if Offset(nodes[3], int64(n)) != nil {
		t.Error("offset far past the last rank should be nil")
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	const n = 128
	_, nodes := build(rand.New(rand.NewSource(4)).Perm(n))

	for v := 0; v < n; v += 7 {
		for k := int64(0); int(k)+v < n; k += 11 {
			there := Offset(nodes[v], k)
			back := Offset(there, -k)
			if back != nodes[v] {
				t.Fatalf("offset round trip from %d by %d did not return", v, k)
			}
		}
	}
}
