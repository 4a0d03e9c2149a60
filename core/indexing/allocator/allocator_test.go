package allocator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAllocator(t *testing.T, space uint64) *AddressAllocator {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return New(Config{Space: space, Seed: 42, Format: func(n uint64) string { return fmt.Sprintf("%03d", n) }}, logger)
}

func TestInsertSearchDelete(t *testing.T) {
	a := setupAllocator(t, 100)

	require.True(t, a.Insert(7))
	require.False(t, a.Insert(7), "duplicates are rejected")
	require.True(t, a.Search(7))
	require.False(t, a.Search(8))
	require.Equal(t, 1, a.Len())

	require.True(t, a.Delete(7))
	require.False(t, a.Delete(7))
	require.False(t, a.Search(7))
}

func TestAllocateNeverRepeats(t *testing.T) {
	const space = 64
	a := setupAllocator(t, space)

	seen := map[uint64]bool{}
	for range space {
		n, s, err := a.Allocate()
		require.NoError(t, err)
		require.Less(t, n, uint64(space))
		require.False(t, seen[n], "address %d handed out twice", n)
		require.Equal(t, fmt.Sprintf("%03d", n), s)
		seen[n] = true
	}
	require.Equal(t, space, a.Len())

	_, _, err := a.Allocate()
	require.ErrorIs(t, err, ErrAddressSpaceExhausted)

	// A released address becomes available again.
	require.True(t, a.Delete(17))
	n, _, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, uint64(17), n)
}

func TestAllocateSeedIsDeterministic(t *testing.T) {
	a, b := setupAllocator(t, 1000), setupAllocator(t, 1000)
	for range 20 {
		x, _, err := a.Allocate()
		require.NoError(t, err)
		y, _, err := b.Allocate()
		require.NoError(t, err)
		require.Equal(t, x, y)
	}
}

func TestReserve(t *testing.T) {
	a := setupAllocator(t, 10)
	require.NoError(t, a.Reserve("007"))
	require.True(t, a.Search(7))
	require.Equal(t, "007", a.Format(7))

	require.Error(t, a.Reserve("abc"))

	for i := range uint64(10) {
		a.Insert(i)
	}
	_, _, err := a.Allocate()
	require.ErrorIs(t, err, ErrAddressSpaceExhausted)
}

func TestDefaults(t *testing.T) {
	a := New(Config{}, nil)
	n, s, err := a.Allocate()
	require.NoError(t, err)
	require.Less(t, n, uint64(DefaultSpace))
	require.Equal(t, fmt.Sprint(n), s)
}
