// Package history records index mutations and reverses or replays them
// using periodic tree checkpoints plus the operations logged in between.
package history

import (
	"errors"
	"fmt"

	"github.com/sushant-115/memindex/core/indexing/btree"
)

var (
	ErrInvalidCheckpointIndex = errors.New("invalid checkpoint index")
	ErrInvalidInterval        = errors.New("checkpoint interval must be at least 1")
	ErrHistoryDiverged        = errors.New("history no longer matches the tree")
)

// OpKind defines the type of a recorded mutation.
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpDelete
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation is an immutable record of one mutation. Key is canonical and
// Address pins the exact entry among duplicates.
type Operation[V any] struct {
	Kind          OpKind
	Key           string
	Address       string
	PreviousValue V
	NewValue      V
}

// InsertOp records that key/address was inserted with value.
func InsertOp[V any](key, address string, value V) Operation[V] {
	return Operation[V]{Kind: OpInsert, Key: key, Address: address, NewValue: value}
}

// DeleteOp records that key/address was removed while holding previous.
func DeleteOp[V any](key, address string, previous V) Operation[V] {
	return Operation[V]{Kind: OpDelete, Key: key, Address: address, PreviousValue: previous}
}

// UpdateOp records a payload change on key/address.
func UpdateOp[V any](key, address string, previous, next V) Operation[V] {
	return Operation[V]{Kind: OpUpdate, Key: key, Address: address, PreviousValue: previous, NewValue: next}
}

// Inverse returns the operation that undoes op.
func (op Operation[V]) Inverse() Operation[V] {
	switch op.Kind {
	case OpInsert:
		return DeleteOp(op.Key, op.Address, op.NewValue)
	case OpDelete:
		return InsertOp(op.Key, op.Address, op.PreviousValue)
	default:
		return UpdateOp(op.Key, op.Address, op.NewValue, op.PreviousValue)
	}
}

// Apply performs the forward effect of op on tree.
func (op Operation[V]) Apply(tree *btree.BTree[V]) error {
	switch op.Kind {
	case OpInsert:
		return tree.Insert(op.Key, op.Address, op.NewValue)
	case OpDelete:
		_, ok, err := tree.RemoveEntry(op.Key, op.Address)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: delete of %q@%s found no entry", ErrHistoryDiverged, op.Key, op.Address)
		}
		return nil
	case OpUpdate:
		_, ok, err := tree.UpdateEntry(op.Key, op.Address, op.NewValue)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: update of %q@%s found no entry", ErrHistoryDiverged, op.Key, op.Address)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation kind %d", int(op.Kind))
	}
}

func (op Operation[V]) String() string {
	return fmt.Sprintf("%s %q@%s", op.Kind, op.Key, op.Address)
}
