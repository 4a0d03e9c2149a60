package btree

import "slices"

// Entry is a single indexed record: a canonical key, an opaque address tag and
// a payload. Key and Address never change once the entry is in the tree.
type Entry[V any] struct {
	Key     string `json:"key" cbor:"key"`
	Address string `json:"address" cbor:"address"`
	Value   V      `json:"value" cbor:"value"`
}

// Node represents an in-memory B-tree node. An internal node with e entries
// owns exactly e+1 children; a leaf owns none.
type Node[V any] struct {
	entries  []Entry[V]
	children []*Node[V]
	isLeaf   bool
}

func newNode[V any](leaf bool) *Node[V] {
	return &Node[V]{isLeaf: leaf}
}

// IsLeaf reports whether the node has no children.
func (n *Node[V]) IsLeaf() bool { return n.isLeaf }

// NumEntries returns the number of entries held by the node.
func (n *Node[V]) NumEntries() int { return len(n.entries) }

// lowerBound returns the first index whose key orders at or after key.
func (n *Node[V]) lowerBound(key string, cmp func(a, b string) int) int {
	i, _ := slices.BinarySearchFunc(n.entries, key, func(e Entry[V], k string) int {
		return cmp(e.Key, k)
	})
	return i
}

// upperBound returns the first index whose key orders strictly after key.
func (n *Node[V]) upperBound(key string, cmp func(a, b string) int) int {
	i, _ := slices.BinarySearchFunc(n.entries, key, func(e Entry[V], k string) int {
		if cmp(e.Key, k) <= 0 {
			return -1
		}
		return 1
	})
	return i
}

// seek returns the position of target under the full entry order and
// whether an identical key/address pair sits there.
func (n *Node[V]) seek(target Entry[V], cmp func(a, b Entry[V]) int) (int, bool) {
	return slices.BinarySearchFunc(n.entries, target, cmp)
}

// insertPos returns the first index whose entry orders strictly after e.
func (n *Node[V]) insertPos(e Entry[V], cmp func(a, b Entry[V]) int) int {
	i, _ := slices.BinarySearchFunc(n.entries, e, func(x, y Entry[V]) int {
		if cmp(x, y) <= 0 {
			return -1
		}
		return 1
	})
	return i
}

// truncateEntries drops entries from index i on, clearing the tail so payloads are
// not kept alive by the backing array.
func (n *Node[V]) truncateEntries(i int) {
	clear(n.entries[i:])
	n.entries = n.entries[:i]
}

func (n *Node[V]) truncateChildren(i int) {
	clear(n.children[i:])
	n.children = n.children[:i]
}
