package history

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/memindex/core/indexing/btree"
)

// DefaultCheckpointInterval is the number of operations between checkpoints.
const DefaultCheckpointInterval = 5

// UndoOutcome reports which path an Undo took.
type UndoOutcome int

const (
	NothingToUndo UndoOutcome = iota
	UndoFromLog
	UndoFromCheckpoint
)

func (o UndoOutcome) String() string {
	switch o {
	case UndoFromLog:
		return "undone from log"
	case UndoFromCheckpoint:
		return "undone from checkpoint"
	default:
		return "nothing to undo"
	}
}

// RedoOutcome reports whether a Redo did anything.
type RedoOutcome int

const (
	NothingToRedo RedoOutcome = iota
	Redone
)

func (o RedoOutcome) String() string {
	if o == Redone {
		return "redone"
	}
	return "nothing to redo"
}

// Checkpoint is a full copy of the tree taken right before the operations
// it covers, together with those operations.
type Checkpoint[V any] struct {
	ID        uuid.UUID
	Index     int
	Snapshot  *btree.Snapshot[V]
	Ops       []Operation[V]
	CreatedAt time.Time
}

// CheckpointInfo describes a checkpoint without exposing its snapshot.
type CheckpointInfo struct {
	ID         uuid.UUID `json:"id"`
	Index      int       `json:"index"`
	Operations int       `json:"operations"`
	Entries    int       `json:"entries"`
	CreatedAt  time.Time `json:"created_at"`
}

// CheckpointManager owns the undo and redo history of one tree.
//
// The manager keeps base, the tree state at the start of the pending window.
// When the window fills up, base and the window's operations are pushed as a
// checkpoint and the live state becomes the new base. This keeps the
// invariant OpCounter() == len(checkpoints)*interval + PendingLen().
//
// CheckpointManager is not safe for concurrent use; callers serialize all
// mutations of the tree and every call on the manager.
type CheckpointManager[V any] struct {
	tree        *btree.BTree[V]
	interval    int
	base        *btree.Snapshot[V]
	checkpoints []*Checkpoint[V]
	pending     []Operation[V]
	redo        []Operation[V]
	opCounter   int
	logger      *zap.Logger
}

// NewCheckpointManager starts an empty history for tree. The current tree
// contents are the point Undo can never go past.
func NewCheckpointManager[V any](tree *btree.BTree[V], interval int, logger *zap.Logger) (*CheckpointManager[V], error) {
	if interval < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidInterval, interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointManager[V]{
		tree:     tree,
		interval: interval,
		base:     tree.Serialize(),
		logger:   logger,
	}, nil
}

// Interval returns the number of operations between checkpoints.
func (cm *CheckpointManager[V]) Interval() int { return cm.interval }

// OpCounter returns the number of operations applied since the history began.
func (cm *CheckpointManager[V]) OpCounter() int { return cm.opCounter }

// PendingLen returns the number of operations logged since the last checkpoint.
func (cm *CheckpointManager[V]) PendingLen() int { return len(cm.pending) }

// RedoLen returns the number of undone operations Redo can reapply.
func (cm *CheckpointManager[V]) RedoLen() int { return len(cm.redo) }

// Pending returns a copy of the operations logged since the last checkpoint.
func (cm *CheckpointManager[V]) Pending() []Operation[V] { return slices.Clone(cm.pending) }

// Checkpoints lists the checkpoints, oldest first.
func (cm *CheckpointManager[V]) Checkpoints() []CheckpointInfo {
	out := make([]CheckpointInfo, len(cm.checkpoints))
	for i, cp := range cm.checkpoints {
		out[i] = CheckpointInfo{
			ID:         cp.ID,
			Index:      cp.Index,
			Operations: len(cp.Ops),
			Entries:    cp.Snapshot.Size,
			CreatedAt:  cp.CreatedAt,
		}
	}
	return out
}

// Record logs op, whose forward effect the caller has already applied to the
// tree. A fresh mutation invalidates every undone operation, so the redo
// stack is cleared. Every interval operations the history is checkpointed.
func (cm *CheckpointManager[V]) Record(op Operation[V]) {
	if len(cm.redo) > 0 {
		cm.logger.Debug("mutation discards redo history", zap.Int("discarded", len(cm.redo)))
		clear(cm.redo)
		cm.redo = cm.redo[:0]
	}
	cm.record(op)
}

// record appends op to the pending log without touching the redo stack.
func (cm *CheckpointManager[V]) record(op Operation[V]) {
	cm.pending = append(cm.pending, op)
	cm.opCounter++
	if cm.opCounter%cm.interval == 0 {
		cm.checkpoint()
	}
}

func (cm *CheckpointManager[V]) checkpoint() {
	cp := &Checkpoint[V]{
		ID:        uuid.New(),
		Index:     len(cm.checkpoints),
		Snapshot:  cm.base,
		Ops:       cm.pending,
		CreatedAt: time.Now(),
	}
	cm.checkpoints = append(cm.checkpoints, cp)
	cm.base = cm.tree.Serialize()
	cm.pending = nil
	if len(cm.redo) > 0 {
		cm.logger.Debug("checkpoint discards redo history", zap.Int("discarded", len(cm.redo)))
	}
	cm.redo = nil
	cm.logger.Debug("checkpoint taken",
		zap.Int("index", cp.Index),
		zap.Stringer("id", cp.ID),
		zap.Int("operations", len(cp.Ops)),
		zap.Int("opCounter", cm.opCounter),
	)
}

// Undo reverts the most recent operation. With an empty pending log it
// restores the latest checkpoint and replays that checkpoint's operations up
// to, but excluding, the last one.
func (cm *CheckpointManager[V]) Undo() (UndoOutcome, error) {
	if n := len(cm.pending); n > 0 {
		op := cm.pending[n-1]
		if err := op.Inverse().Apply(cm.tree); err != nil {
			return NothingToUndo, fmt.Errorf("undo %s: %w", op, err)
		}
		cm.pending = cm.pending[:n-1]
		cm.redo = append(cm.redo, op)
		cm.opCounter--
		return UndoFromLog, nil
	}

	if len(cm.checkpoints) == 0 {
		cm.logger.Info("nothing to undo")
		return NothingToUndo, nil
	}

	last := len(cm.checkpoints) - 1
	cp := cm.checkpoints[last]
	if err := cm.tree.Restore(cp.Snapshot); err != nil {
		return NothingToUndo, fmt.Errorf("undo to checkpoint %d: %w", cp.Index, err)
	}
	keep := cp.Ops[:len(cp.Ops)-1]
	for _, op := range keep {
		if err := op.Apply(cm.tree); err != nil {
			// The pending log is empty, so base is the state Undo started from.
			if rerr := cm.tree.Restore(cm.base); rerr != nil {
				cm.logger.Error("failed to roll back aborted undo", zap.Error(rerr))
			}
			return NothingToUndo, fmt.Errorf("replay %s after checkpoint %d: %w", op, cp.Index, err)
		}
	}
	cm.checkpoints = cm.checkpoints[:last]
	cm.base = cp.Snapshot
	cm.pending = slices.Clone(keep)
	cm.redo = append(cm.redo, cp.Ops[len(cp.Ops)-1])
	cm.opCounter--
	cm.logger.Debug("undo restored checkpoint",
		zap.Int("index", cp.Index),
		zap.Int("replayed", len(keep)),
		zap.Int("opCounter", cm.opCounter),
	)
	return UndoFromCheckpoint, nil
}

// Redo reapplies the most recently undone operation.
func (cm *CheckpointManager[V]) Redo() (RedoOutcome, error) {
	n := len(cm.redo)
	if n == 0 {
		cm.logger.Info("nothing to redo")
		return NothingToRedo, nil
	}
	op := cm.redo[n-1]
	cm.redo = cm.redo[:n-1]
	if err := op.Apply(cm.tree); err != nil {
		// A failed Apply leaves the tree untouched; the stale entry is dropped.
		return NothingToRedo, fmt.Errorf("redo %s: %w", op, err)
	}
	cm.record(op)
	return Redone, nil
}

// RestoreToCheckpoint rewinds the tree to the state checkpoint i was taken
// from, which is the state after i*interval operations. Later checkpoints
// and all pending and redo history are discarded.
func (cm *CheckpointManager[V]) RestoreToCheckpoint(i int) error {
	if i < 0 || i >= len(cm.checkpoints) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidCheckpointIndex, i, len(cm.checkpoints))
	}
	cp := cm.checkpoints[i]
	if err := cm.tree.Restore(cp.Snapshot); err != nil {
		return fmt.Errorf("restore checkpoint %d: %w", i, err)
	}
	clear(cm.checkpoints[i:])
	cm.checkpoints = cm.checkpoints[:i]
	cm.base = cp.Snapshot
	cm.pending = nil
	cm.redo = nil
	cm.opCounter = i * cm.interval
	cm.logger.Info("restored checkpoint", zap.Int("index", i), zap.Stringer("id", cp.ID), zap.Int("opCounter", cm.opCounter))
	return nil
}

// Truncate drops all history; the current tree becomes the new starting point.
func (cm *CheckpointManager[V]) Truncate() {
	cm.base = cm.tree.Serialize()
	cm.checkpoints = nil
	cm.pending = nil
	cm.redo = nil
	cm.opCounter = 0
	cm.logger.Debug("history truncated", zap.Int("entries", cm.tree.Len()))
}
