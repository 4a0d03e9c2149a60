package indexmanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/sushant-115/memindex/core/history"
	"github.com/sushant-115/memindex/core/indexing/btree"
)

// Mode selects which projection of an entry Get returns.
type Mode int

const (
	ModeEntry Mode = iota
	ModeKey
	ModeAddress
	ModeValue
)

func (m Mode) String() string {
	switch m {
	case ModeKey:
		return "key"
	case ModeAddress:
		return "address"
	case ModeValue:
		return "value"
	default:
		return "entry"
	}
}

// ParseMode accepts key, address, value or entry; empty means entry.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "entry", "all":
		return ModeEntry, nil
	case "key":
		return ModeKey, nil
	case "address", "addr":
		return ModeAddress, nil
	case "value", "val":
		return ModeValue, nil
	default:
		return ModeEntry, fmt.Errorf("unknown search mode %q", s)
	}
}

// IndexManager is the surface the presentation layer drives: lookups, the
// three mutations, history navigation and snapshot transfer.
type IndexManager[V any] interface {
	Put(ctx context.Context, key any, value V) (btree.Entry[V], error)
	Get(ctx context.Context, key any, mode Mode) (any, bool, error)
	GetAll(ctx context.Context, key any) ([]btree.Entry[V], error)
	Entries(ctx context.Context) []btree.Entry[V]
	Update(ctx context.Context, key any, value V) (bool, error)
	Delete(ctx context.Context, key any) (bool, error)

	Undo(ctx context.Context) (history.UndoOutcome, error)
	Redo(ctx context.Context) (history.RedoOutcome, error)
	RestoreToCheckpoint(ctx context.Context, i int) error
	Checkpoints(ctx context.Context) []history.CheckpointInfo

	// ExportSnapshot encodes the current tree.
	ExportSnapshot(ctx context.Context, format btree.SnapshotFormat) ([]byte, error)
	// ImportSnapshot replaces the tree with a decoded snapshot and starts a
	// fresh history from it.
	ImportSnapshot(ctx context.Context, data []byte, format btree.SnapshotFormat) error

	// Name returns the index type, e.g. "btree".
	Name() string
}
