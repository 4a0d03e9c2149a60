package btree

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// --- Error Definitions ---

var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrInvalidDegree      = errors.New("btree order must be at least 3")
	ErrUnsupportedKeyType = errors.New("key type not supported for normalization")
	ErrCorruptStructure   = errors.New("btree structure is corrupt")
	ErrSerialization      = errors.New("error during serialization")
	ErrDeserialization    = errors.New("error during deserialization")
)

// TraversalOrder selects the visiting order used by Walk.
type TraversalOrder int

const (
	InOrder TraversalOrder = iota
	PreOrder
	PostOrder
)

type removeKind int

const (
	removeKey   removeKind = iota // any entry with the key
	removeExact                   // the entry with the key and address
	removeMin
	removeMax
)

// BTree is an in-memory B-tree keyed by canonical strings. It permits
// duplicate keys; entries sharing a key are kept in address order. A BTree
// is not safe for concurrent mutation; readers may run concurrently with each
// other but never with a writer.
type BTree[V any] struct {
	root       *Node[V]
	order      int // maximum fanout m
	degree     int // t = ceil(m/2)
	codec      *KeyCodec
	size       int
	cloneValue func(V) V
	logger     *zap.Logger
}

// NewBTree creates an empty tree with maximum fanout order (t = ceil(order/2)).
// A nil codec selects DefaultKeyCodec and a nil logger disables logging.
func NewBTree[V any](order int, codec *KeyCodec, logger *zap.Logger) (*BTree[V], error) {
	if order < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDegree, order)
	}
	if codec == nil {
		codec = DefaultKeyCodec()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BTree[V]{
		root:       newNode[V](true),
		order:      order,
		degree:     (order + 1) / 2,
		codec:      codec,
		cloneValue: func(v V) V { return v },
		logger:     logger,
	}, nil
}

// WithValueCloner sets the function used to copy payloads into snapshots.
// Payload types holding references (slices, maps, pointers) need one for
// snapshots to stay alias-free.
func (bt *BTree[V]) WithValueCloner(fn func(V) V) *BTree[V] {
	if fn != nil {
		bt.cloneValue = fn
	}
	return bt
}

func (bt *BTree[V]) Codec() *KeyCodec { return bt.codec }
func (bt *BTree[V]) Order() int       { return bt.order }
func (bt *BTree[V]) Degree() int      { return bt.degree }
func (bt *BTree[V]) Len() int         { return bt.size }

func (bt *BTree[V]) maxEntries() int { return 2*bt.degree - 1 }

// compareEntries is the full entry order: key first, then address.
func (bt *BTree[V]) compareEntries(a, b Entry[V]) int {
	if c := bt.codec.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return strings.Compare(a.Address, b.Address)
}

// Height returns the number of levels; an empty tree has height 1.
func (bt *BTree[V]) Height() int {
	h := 1
	for n := bt.root; !n.isLeaf; n = n.children[0] {
		h++
	}
	return h
}

// --- Search ---

// Search returns an entry whose canonical key equals key. With duplicates,
// use SearchAll to see every one of them.
func (bt *BTree[V]) Search(key any) (Entry[V], bool, error) {
	k, err := bt.codec.Normalize(key)
	if err != nil {
		return Entry[V]{}, false, err
	}
	n, i := bt.find(k)
	if n == nil {
		return Entry[V]{}, false, nil
	}
	return n.entries[i], true, nil
}

// SearchAll returns every entry whose canonical key equals key, in tree order.
func (bt *BTree[V]) SearchAll(key any) ([]Entry[V], error) {
	k, err := bt.codec.Normalize(key)
	if err != nil {
		return nil, err
	}
	return bt.collect(bt.root, k, nil), nil
}

func (bt *BTree[V]) find(key string) (*Node[V], int) {
	n := bt.root
	for {
		i := n.lowerBound(key, bt.codec.Compare)
		if i < len(n.entries) && n.entries[i].Key == key {
			return n, i
		}
		if n.isLeaf {
			return nil, -1
		}
		n = n.children[i]
	}
}

// collect appends, in order, all entries equal to key below n. Equal keys may
// sit on both sides of an equal separator, so every child in [lo, hi] is visited.
func (bt *BTree[V]) collect(n *Node[V], key string, out []Entry[V]) []Entry[V] {
	lo := n.lowerBound(key, bt.codec.Compare)
	hi := n.upperBound(key, bt.codec.Compare)
	for i := lo; i <= hi; i++ {
		if !n.isLeaf {
			out = bt.collect(n.children[i], key, out)
		}
		if i < hi {
			out = append(out, n.entries[i])
		}
	}
	return out
}

// locate finds the entry with exactly this key and address.
func (bt *BTree[V]) locate(key, address string) (*Node[V], int) {
	target := Entry[V]{Key: key, Address: address}
	n := bt.root
	for {
		i, found := n.seek(target, bt.compareEntries)
		if found {
			return n, i
		}
		if n.isLeaf {
			return nil, -1
		}
		n = n.children[i]
	}
}

// --- Update ---

// UpdateValue replaces the payload of the entry Search would return. Key and
// address are left untouched.
func (bt *BTree[V]) UpdateValue(key any, value V) (bool, error) {
	k, err := bt.codec.Normalize(key)
	if err != nil {
		return false, err
	}
	n, i := bt.find(k)
	if n == nil {
		return false, nil
	}
	n.entries[i].Value = value
	return true, nil
}

// UpdateEntry replaces the payload of the entry with this key and address and
// returns the previous payload.
func (bt *BTree[V]) UpdateEntry(key any, address string, value V) (V, bool, error) {
	var zeroV V
	k, err := bt.codec.Normalize(key)
	if err != nil {
		return zeroV, false, err
	}
	n, i := bt.locate(k, address)
	if n == nil {
		return zeroV, false, nil
	}
	prev := n.entries[i].Value
	n.entries[i].Value = value
	return prev, true, nil
}

// --- Insert ---

// Insert adds a new entry. Equal keys are never merged: inserting a key that
// is already present stores a second, independent entry, placed among its
// duplicates by address.
func (bt *BTree[V]) Insert(key any, address string, value V) error {
	k, err := bt.codec.Normalize(key)
	if err != nil {
		return err
	}
	entry := Entry[V]{Key: k, Address: address, Value: value}

	if len(bt.root.entries) == bt.maxEntries() {
		newRoot := newNode[V](false)
		newRoot.children = append(newRoot.children, bt.root)
		bt.splitChild(newRoot, 0)
		bt.root = newRoot
		bt.logger.Debug("root split", zap.Int("height", bt.Height()))
	}
	bt.insertNonFull(bt.root, entry)
	bt.size++
	return nil
}

// insertNonFull descends from a node known to have room, splitting any full
// child before entering it so no split ever propagates upward.
func (bt *BTree[V]) insertNonFull(n *Node[V], entry Entry[V]) {
	for {
		i := n.insertPos(entry, bt.compareEntries)
		if n.isLeaf {
			n.entries = slices.Insert(n.entries, i, entry)
			return
		}
		if len(n.children[i].entries) == bt.maxEntries() {
			bt.splitChild(n, i)
			if bt.compareEntries(entry, n.entries[i]) >= 0 {
				i++
			}
		}
		n = n.children[i]
	}
}

// splitChild splits the full child at index i of parent. The median entry
// moves up; the upper half moves to a new sibling placed right after the child.
func (bt *BTree[V]) splitChild(parent *Node[V], i int) {
	t := bt.degree
	child := parent.children[i]
	sibling := newNode[V](child.isLeaf)

	middle := child.entries[t-1]
	sibling.entries = append(make([]Entry[V], 0, bt.maxEntries()), child.entries[t:]...)
	if !child.isLeaf {
		sibling.children = append(make([]*Node[V], 0, bt.maxEntries()+1), child.children[t:]...)
		child.truncateChildren(t)
	}
	child.truncateEntries(t - 1)

	parent.entries = slices.Insert(parent.entries, i, middle)
	parent.children = slices.Insert(parent.children, i+1, sibling)
	bt.logger.Debug("split node", zap.String("promoted", middle.Key), zap.Int("childIndex", i))
}

// --- Delete ---

// Remove deletes an entry with this key. Removing an absent key is reported
// as not found and leaves the tree untouched.
func (bt *BTree[V]) Remove(key any) (Entry[V], bool, error) {
	k, err := bt.codec.Normalize(key)
	if err != nil {
		return Entry[V]{}, false, err
	}
	// Pre-check so that a miss never rebalances on the way down.
	if n, _ := bt.find(k); n == nil {
		return Entry[V]{}, false, nil
	}
	return bt.removeFromRoot(Entry[V]{Key: k}, removeKey)
}

// RemoveEntry deletes exactly the entry with this key and address, leaving
// other entries with the same key in place.
func (bt *BTree[V]) RemoveEntry(key any, address string) (Entry[V], bool, error) {
	k, err := bt.codec.Normalize(key)
	if err != nil {
		return Entry[V]{}, false, err
	}
	if n, _ := bt.locate(k, address); n == nil {
		return Entry[V]{}, false, nil
	}
	return bt.removeFromRoot(Entry[V]{Key: k, Address: address}, removeExact)
}

func (bt *BTree[V]) removeFromRoot(target Entry[V], kind removeKind) (Entry[V], bool, error) {
	removed, ok := bt.remove(bt.root, target, kind)
	bt.shrinkRoot()
	if !ok {
		return Entry[V]{}, false, fmt.Errorf("%w: %q@%s vanished during removal", ErrCorruptStructure, target.Key, target.Address)
	}
	bt.size--
	return removed, true, nil
}

func (bt *BTree[V]) shrinkRoot() {
	if len(bt.root.entries) == 0 && !bt.root.isLeaf {
		bt.root = bt.root.children[0]
		bt.logger.Debug("root collapsed", zap.Int("height", bt.Height()))
	}
}

// remove deletes from the subtree rooted at n, which the caller guarantees has
// at least t entries unless it is the root. Every child is topped up to t
// entries before the descent enters it.
func (bt *BTree[V]) remove(n *Node[V], target Entry[V], kind removeKind) (Entry[V], bool) {
	var i int
	found := false
	switch kind {
	case removeKey:
		i = n.lowerBound(target.Key, bt.codec.Compare)
		found = i < len(n.entries) && n.entries[i].Key == target.Key
	case removeExact:
		i, found = n.seek(target, bt.compareEntries)
	case removeMin:
		i = 0
		found = n.isLeaf
	case removeMax:
		i = len(n.entries)
		if n.isLeaf {
			i--
			found = true
		}
	}

	if n.isLeaf {
		if !found || len(n.entries) == 0 {
			return Entry[V]{}, false
		}
		e := n.entries[i]
		n.entries = slices.Delete(n.entries, i, i+1)
		return e, true
	}
	if found {
		return bt.removeInternal(n, i), true
	}

	atEnd := i == len(n.entries)
	if len(n.children[i].entries) < bt.degree {
		bt.fill(n, i)
	}
	if atEnd && i > len(n.entries) {
		// The last child was merged into its left sibling.
		i--
	}
	return bt.remove(n.children[i], target, kind)
}

// removeInternal deletes entries[i] of internal node n.
func (bt *BTree[V]) removeInternal(n *Node[V], i int) Entry[V] {
	t := bt.degree
	removed := n.entries[i]
	left, right := n.children[i], n.children[i+1]

	switch {
	case len(left.entries) >= t:
		pred, _ := bt.remove(left, Entry[V]{}, removeMax)
		n.entries[i] = pred
	case len(right.entries) >= t:
		succ, _ := bt.remove(right, Entry[V]{}, removeMin)
		n.entries[i] = succ
	default:
		bt.merge(n, i)
		e, _ := bt.remove(left, removed, removeExact)
		return e
	}
	return removed
}

// fill tops up children[i] of n to at least t entries.
func (bt *BTree[V]) fill(n *Node[V], i int) {
	t := bt.degree
	switch {
	case i > 0 && len(n.children[i-1].entries) >= t:
		bt.borrowFromLeft(n, i)
	case i < len(n.entries) && len(n.children[i+1].entries) >= t:
		bt.borrowFromRight(n, i)
	case i < len(n.entries):
		bt.merge(n, i)
	default:
		bt.merge(n, i-1)
	}
}

// borrowFromLeft rotates the left sibling's last entry up through the parent
// and the parent's separator down into children[i].
func (bt *BTree[V]) borrowFromLeft(n *Node[V], i int) {
	child, sibling := n.children[i], n.children[i-1]

	child.entries = slices.Insert(child.entries, 0, n.entries[i-1])
	if !child.isLeaf {
		last := sibling.children[len(sibling.children)-1]
		sibling.truncateChildren(len(sibling.children) - 1)
		child.children = slices.Insert(child.children, 0, last)
	}
	n.entries[i-1] = sibling.entries[len(sibling.entries)-1]
	sibling.truncateEntries(len(sibling.entries) - 1)
	bt.logger.Debug("borrowed from left sibling", zap.Int("childIndex", i))
}

// borrowFromRight is the mirror image of borrowFromLeft.
func (bt *BTree[V]) borrowFromRight(n *Node[V], i int) {
	child, sibling := n.children[i], n.children[i+1]

	child.entries = append(child.entries, n.entries[i])
	if !child.isLeaf {
		child.children = append(child.children, sibling.children[0])
		sibling.children = slices.Delete(sibling.children, 0, 1)
	}
	n.entries[i] = sibling.entries[0]
	sibling.entries = slices.Delete(sibling.entries, 0, 1)
	bt.logger.Debug("borrowed from right sibling", zap.Int("childIndex", i))
}

// merge folds entries[i] and children[i+1] of n into children[i].
func (bt *BTree[V]) merge(n *Node[V], i int) {
	child, sibling := n.children[i], n.children[i+1]

	child.entries = append(child.entries, n.entries[i])
	child.entries = append(child.entries, sibling.entries...)
	if !child.isLeaf {
		child.children = append(child.children, sibling.children...)
	}
	n.entries = slices.Delete(n.entries, i, i+1)
	n.children = slices.Delete(n.children, i+1, i+2)
	bt.logger.Debug("merged children", zap.Int("childIndex", i), zap.Int("entries", len(child.entries)))
}

// --- Traversal ---

// Walk visits every entry in the given order until fn returns false.
func (bt *BTree[V]) Walk(order TraversalOrder, fn func(Entry[V]) bool) {
	bt.walk(bt.root, order, fn)
}

func (bt *BTree[V]) walk(n *Node[V], order TraversalOrder, fn func(Entry[V]) bool) bool {
	switch order {
	case PreOrder:
		for _, e := range n.entries {
			if !fn(e) {
				return false
			}
		}
		for _, c := range n.children {
			if !bt.walk(c, order, fn) {
				return false
			}
		}
	case PostOrder:
		for _, c := range n.children {
			if !bt.walk(c, order, fn) {
				return false
			}
		}
		for _, e := range n.entries {
			if !fn(e) {
				return false
			}
		}
	default:
		for i, e := range n.entries {
			if !n.isLeaf && !bt.walk(n.children[i], order, fn) {
				return false
			}
			if !fn(e) {
				return false
			}
		}
		if !n.isLeaf {
			return bt.walk(n.children[len(n.entries)], order, fn)
		}
	}
	return true
}

// All returns an in-order iterator over the entries.
func (bt *BTree[V]) All() iter.Seq[Entry[V]] {
	return func(yield func(Entry[V]) bool) {
		bt.walk(bt.root, InOrder, yield)
	}
}

// Entries returns all entries in key order.
func (bt *BTree[V]) Entries() []Entry[V] {
	out := make([]Entry[V], 0, bt.size)
	for e := range bt.All() {
		out = append(out, e)
	}
	return out
}

// --- Validation ---

// Validate checks every structural invariant and returns an error wrapping
// ErrCorruptStructure on the first violation.
func (bt *BTree[V]) Validate() error {
	_, err := validateTree(bt.root, bt.degree, bt.compareEntries)
	return err
}

// validateTree checks the subtree rooted at root and returns its entry count.
func validateTree[V any](root *Node[V], t int, cmp func(a, b Entry[V]) int) (int, error) {
	leafDepth := -1
	var check func(n *Node[V], depth int, lo, hi *Entry[V]) (int, error)
	check = func(n *Node[V], depth int, lo, hi *Entry[V]) (int, error) {
		if n == nil {
			return 0, fmt.Errorf("%w: nil node at depth %d", ErrCorruptStructure, depth)
		}
		isRoot := depth == 0
		if len(n.entries) > 2*t-1 {
			return 0, fmt.Errorf("%w: node at depth %d holds %d entries, max %d", ErrCorruptStructure, depth, len(n.entries), 2*t-1)
		}
		if !isRoot && len(n.entries) < t-1 {
			return 0, fmt.Errorf("%w: node at depth %d holds %d entries, min %d", ErrCorruptStructure, depth, len(n.entries), t-1)
		}
		for j, e := range n.entries {
			if j > 0 && cmp(n.entries[j-1], e) > 0 {
				return 0, fmt.Errorf("%w: keys %q and %q out of order at depth %d", ErrCorruptStructure, n.entries[j-1].Key, e.Key, depth)
			}
			if (lo != nil && cmp(*lo, e) > 0) || (hi != nil && cmp(e, *hi) > 0) {
				return 0, fmt.Errorf("%w: key %q outside its separator range at depth %d", ErrCorruptStructure, e.Key, depth)
			}
		}

		if n.isLeaf {
			if len(n.children) != 0 {
				return 0, fmt.Errorf("%w: leaf at depth %d has %d children", ErrCorruptStructure, depth, len(n.children))
			}
			if leafDepth == -1 {
				leafDepth = depth
			} else if leafDepth != depth {
				return 0, fmt.Errorf("%w: leaves at depths %d and %d", ErrCorruptStructure, leafDepth, depth)
			}
			return len(n.entries), nil
		}

		if len(n.entries) == 0 {
			return 0, fmt.Errorf("%w: internal node at depth %d has no entries", ErrCorruptStructure, depth)
		}
		if len(n.children) != len(n.entries)+1 {
			return 0, fmt.Errorf("%w: internal node at depth %d has %d entries and %d children", ErrCorruptStructure, depth, len(n.entries), len(n.children))
		}
		count := len(n.entries)
		for j, c := range n.children {
			clo, chi := lo, hi
			if j > 0 {
				clo = &n.entries[j-1]
			}
			if j < len(n.entries) {
				chi = &n.entries[j]
			}
			sub, err := check(c, depth+1, clo, chi)
			if err != nil {
				return 0, err
			}
			count += sub
		}
		return count, nil
	}
	return check(root, 0, nil, nil)
}

// --- Debug ---

// String renders the tree structure for debugging.
func (bt *BTree[V]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BTree (order %d, t=%d, size %d)\n", bt.order, bt.degree, bt.size)
	bt.stringRecursive(&sb, bt.root, 0)
	return sb.String()
}

func (bt *BTree[V]) stringRecursive(sb *strings.Builder, n *Node[V], level int) {
	indent := strings.Repeat("  ", level)
	keys := make([]string, len(n.entries))
	for i, e := range n.entries {
		keys[i] = fmt.Sprintf("%s(%s)", e.Key, e.Address)
	}
	fmt.Fprintf(sb, "%s[%s] leaf=%v\n", indent, strings.Join(keys, " "), n.isLeaf)
	for _, c := range n.children {
		bt.stringRecursive(sb, c, level+1)
	}
}
