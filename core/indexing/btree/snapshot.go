package btree

import (
	"fmt"

	"go.uber.org/zap"
)

// maxSnapshotDepth bounds recursion when rebuilding from untrusted input.
const maxSnapshotDepth = 64

// SnapshotNode is the plain-record form of a node.
type SnapshotNode[V any] struct {
	Entries  []Entry[V]         `json:"entries" cbor:"entries"`
	Children []*SnapshotNode[V] `json:"children,omitempty" cbor:"children,omitempty"`
	Leaf     bool               `json:"leaf" cbor:"leaf"`
}

// Snapshot is an alias-free copy of a whole tree at one instant.
type Snapshot[V any] struct {
	Order int              `json:"order" cbor:"order"`
	Size  int              `json:"size" cbor:"size"`
	Root  *SnapshotNode[V] `json:"root" cbor:"root"`
}

// Serialize returns a structural copy of the tree that shares no mutable
// state with it.
func (bt *BTree[V]) Serialize() *Snapshot[V] {
	return &Snapshot[V]{
		Order: bt.order,
		Size:  bt.size,
		Root:  toSnapshotNode(bt.root, bt.cloneValue),
	}
}

func toSnapshotNode[V any](n *Node[V], cloneValue func(V) V) *SnapshotNode[V] {
	sn := &SnapshotNode[V]{
		Leaf:    n.isLeaf,
		Entries: make([]Entry[V], len(n.entries)),
	}
	for i, e := range n.entries {
		sn.Entries[i] = Entry[V]{Key: e.Key, Address: e.Address, Value: cloneValue(e.Value)}
	}
	if !n.isLeaf {
		sn.Children = make([]*SnapshotNode[V], len(n.children))
		for i, c := range n.children {
			sn.Children[i] = toSnapshotNode(c, cloneValue)
		}
	}
	return sn
}

// Restore replaces the whole tree with a copy of s. The snapshot is validated
// first; on failure the live tree is left untouched and the returned error
// wraps ErrCorruptStructure. Later mutation of the tree is never visible
// through s.
func (bt *BTree[V]) Restore(s *Snapshot[V]) error {
	if s == nil || s.Root == nil {
		return fmt.Errorf("%w: snapshot has no root", ErrCorruptStructure)
	}
	if s.Order != 0 && s.Order != bt.order {
		return fmt.Errorf("%w: snapshot order %d does not match tree order %d", ErrCorruptStructure, s.Order, bt.order)
	}
	root, err := fromSnapshotNode(s.Root, bt.cloneValue, 0)
	if err != nil {
		return err
	}
	size, err := validateTree(root, bt.degree, bt.compareEntries)
	if err != nil {
		return err
	}
	if s.Size != 0 && s.Size != size {
		return fmt.Errorf("%w: snapshot declares %d entries but holds %d", ErrCorruptStructure, s.Size, size)
	}

	bt.root = root
	bt.size = size
	bt.logger.Debug("restored tree from snapshot", zap.Int("size", size), zap.Int("height", bt.Height()))
	return nil
}

// NewFromSnapshot builds a fresh tree with the snapshot's order and contents.
func NewFromSnapshot[V any](s *Snapshot[V], codec *KeyCodec, logger *zap.Logger) (*BTree[V], error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrCorruptStructure)
	}
	bt, err := NewBTree[V](s.Order, codec, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStructure, err)
	}
	if err := bt.Restore(s); err != nil {
		return nil, err
	}
	return bt, nil
}

func fromSnapshotNode[V any](sn *SnapshotNode[V], cloneValue func(V) V, depth int) (*Node[V], error) {
	if sn == nil {
		return nil, fmt.Errorf("%w: nil node at depth %d", ErrCorruptStructure, depth)
	}
	if depth > maxSnapshotDepth {
		return nil, fmt.Errorf("%w: snapshot deeper than %d levels", ErrCorruptStructure, maxSnapshotDepth)
	}
	n := &Node[V]{
		isLeaf:  sn.Leaf,
		entries: make([]Entry[V], len(sn.Entries)),
	}
	for i, e := range sn.Entries {
		n.entries[i] = Entry[V]{Key: e.Key, Address: e.Address, Value: cloneValue(e.Value)}
	}
	if len(sn.Children) > 0 {
		n.children = make([]*Node[V], len(sn.Children))
		for i, c := range sn.Children {
			child, err := fromSnapshotNode(c, cloneValue, depth+1)
			if err != nil {
				return nil, err
			}
			n.children[i] = child
		}
	}
	return n, nil
}
