package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func populatedTree(t *testing.T, order, n int) *BTree[string] {
	t.Helper()
	bt := setupTree(t, order)
	for i := range n {
		require.NoError(t, bt.Insert(i, fmt.Sprintf("a%d", i), fmt.Sprintf("v%d", i)))
	}
	return bt
}

// lastLeaf follows the rightmost path; for 12 ascending keys at order 3 it
// holds two entries.
func lastLeaf(s *Snapshot[string]) *SnapshotNode[string] {
	n := s.Root
	for !n.Leaf {
		n = n.Children[len(n.Children)-1]
	}
	return n
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	src := populatedTree(t, 3, 40)
	snap := src.Serialize()
	require.Equal(t, 40, snap.Size)
	require.Equal(t, 3, snap.Order)

	dst, err := NewFromSnapshot(snap, DefaultKeyCodec(), nil)
	require.NoError(t, err)
	require.Equal(t, src.String(), dst.String())

	for i := range 40 {
		want, ok, err := src.Search(i)
		require.NoError(t, err)
		require.True(t, ok)
		got, ok, err := dst.Search(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestSnapshotIsAliasFree(t *testing.T) {
	bt := populatedTree(t, 3, 10)
	snap := bt.Serialize()
	frozen := bt.String()

	// Mutating the tree must not reach the snapshot.
	_, err := bt.UpdateValue(3, "mutated")
	require.NoError(t, err)
	_, _, err = bt.Remove(5)
	require.NoError(t, err)
	require.NoError(t, bt.Insert(100, "a100", "v100"))

	other, err := NewFromSnapshot(snap, nil, nil)
	require.NoError(t, err)
	require.Equal(t, frozen, other.String())

	// Nor may a tree restored from it write back into the snapshot.
	_, err = other.UpdateValue(3, "again")
	require.NoError(t, err)
	require.NoError(t, bt.Restore(snap))
	require.Equal(t, frozen, bt.String())
}

func TestValueClonerKeepsReferencePayloadsApart(t *testing.T) {
	bt, err := NewBTree[[]string](3, nil, nil)
	require.NoError(t, err)
	bt.WithValueCloner(func(v []string) []string { return append([]string(nil), v...) })

	payload := []string{"x"}
	require.NoError(t, bt.Insert("k", "a", payload))
	snap := bt.Serialize()
	payload[0] = "changed"

	require.Equal(t, "x", snap.Root.Entries[0].Value[0])
}

func TestRestoreRejectsCorruptSnapshots(t *testing.T) {
	cases := []struct {
		name    string
		corrupt func(s *Snapshot[string])
	}{
		{"nil root", func(s *Snapshot[string]) { s.Root = nil }},
		{"order mismatch", func(s *Snapshot[string]) { s.Order = 7 }},
		{"size mismatch", func(s *Snapshot[string]) { s.Size = 99 }},
		{"keys out of order", func(s *Snapshot[string]) {
			leaf := lastLeaf(s)
			leaf.Entries[0], leaf.Entries[1] = leaf.Entries[1], leaf.Entries[0]
		}},
		{"missing child", func(s *Snapshot[string]) {
			s.Root.Children = s.Root.Children[:len(s.Root.Children)-1]
		}},
		{"overfull node", func(s *Snapshot[string]) {
			leaf := lastLeaf(s)
			for i := range 4 {
				leaf.Entries = append(leaf.Entries, Entry[string]{Key: fmt.Sprintf("9%02d", i)})
			}
			s.Size += 4
		}},
		{"key outside separator range", func(s *Snapshot[string]) {
			s.Root.Children[0].Entries[0].Key = "zzz"
		}},
		{"uneven leaf depth", func(s *Snapshot[string]) {
			s.Root.Children[0] = &SnapshotNode[string]{Leaf: true, Entries: s.Root.Children[0].Entries}
		}},
		{"internal node without children", func(s *Snapshot[string]) {
			s.Root.Children[0].Children = nil
		}},
		{"nil child", func(s *Snapshot[string]) { s.Root.Children[1] = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bt := populatedTree(t, 3, 12)
			before := bt.String()

			snap := populatedTree(t, 3, 12).Serialize()
			tc.corrupt(snap)

			err := bt.Restore(snap)
			require.ErrorIs(t, err, ErrCorruptStructure)
			require.Equal(t, before, bt.String(), "failed restore must leave the tree untouched")
		})
	}
}

func TestEncodeDecodeSnapshot(t *testing.T) {
	bt := populatedTree(t, 4, 30)
	require.NoError(t, bt.Insert("dup", "d1", "first"))
	require.NoError(t, bt.Insert("dup", "d2", "second"))

	for _, format := range []SnapshotFormat{FormatJSON, FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			data, err := EncodeSnapshot(bt.Serialize(), format)
			require.NoError(t, err)

			again, err := EncodeSnapshot(bt.Serialize(), format)
			require.NoError(t, err)
			require.Equal(t, data, again, "encoding should be deterministic")

			snap, err := DecodeSnapshot[string](data, format)
			require.NoError(t, err)
			restored, err := NewFromSnapshot(snap, DefaultKeyCodec(), nil)
			require.NoError(t, err)
			require.Equal(t, bt.Entries(), restored.Entries())
			require.Equal(t, bt.String(), restored.String())

			_, err = DecodeSnapshot[string](data[:len(data)/2], format)
			require.ErrorIs(t, err, ErrDeserialization)
		})
	}
}

func TestSnapshotJSONShape(t *testing.T) {
	bt := setupTree(t, 3)
	require.NoError(t, bt.Insert(1, "a", "one"))

	data, err := EncodeSnapshot(bt.Serialize(), FormatJSON)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"order":3,"size":1,"root":{"entries":[{"key":"001","address":"a","value":"one"}],"leaf":true}}`,
		string(data))
}

func TestParseSnapshotFormat(t *testing.T) {
	f, err := ParseSnapshotFormat(" CBOR ")
	require.NoError(t, err)
	require.Equal(t, FormatCBOR, f)

	f, err = ParseSnapshotFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)

	_, err = ParseSnapshotFormat("xml")
	require.Error(t, err)

	_, err = EncodeSnapshot(setupTree(t, 3).Serialize(), SnapshotFormat("xml"))
	require.ErrorIs(t, err, ErrSerialization)
}
