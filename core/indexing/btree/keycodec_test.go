package btree

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type roomID int

func (r roomID) String() string { return "room-" + string(rune('a'+int(r))) }

func TestNormalize(t *testing.T) {
	kc := DefaultKeyCodec()

	cases := []struct {
		name string
		raw  any
		want string
	}{
		{"small int", 7, "007"},
		{"three digits", 123, "123"},
		{"wider than width", 1234, "1234"},
		{"negative", -5, "-05"},
		{"uint8", uint8(9), "009"},
		{"int64", int64(42), "042"},
		{"float", 2.5, "2.5"},
		{"short float", float32(0.5), "0.5"},
		{"string", "abc", "abc"},
		{"numeric string untouched", "5", "5"},
		{"stringer", roomID(1), "room-b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := kc.Normalize(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := kc.Normalize(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedKeyType)
	_, err = kc.Normalize([]byte("x"))
	require.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestNormalizeWidth(t *testing.T) {
	kc, err := NewKeyCodec(0, "")
	require.NoError(t, err)
	got, err := kc.Normalize(7)
	require.NoError(t, err)
	require.Equal(t, "7", got)
	require.Equal(t, DefaultLocale, kc.Locale())

	kc, err = NewKeyCodec(6, "de")
	require.NoError(t, err)
	got, err = kc.Normalize(42)
	require.NoError(t, err)
	require.Equal(t, "000042", got)
	require.Equal(t, "000042", kc.FormatNumber(42))
	require.Equal(t, 6, kc.Width())

	_, err = NewKeyCodec(3, "!!")
	require.Error(t, err)
}

func TestPriorityClass(t *testing.T) {
	require.Equal(t, ClassDigit, PriorityClass('0'))
	require.Equal(t, ClassDigit, PriorityClass('9'))
	require.Equal(t, ClassUpper, PriorityClass('A'))
	require.Equal(t, ClassUpper, PriorityClass('Z'))
	require.Equal(t, ClassLower, PriorityClass('a'))
	require.Equal(t, ClassLower, PriorityClass('z'))
	require.Equal(t, ClassOther, PriorityClass('_'))
	require.Equal(t, ClassOther, PriorityClass('é'))
	require.Equal(t, ClassOther, keyClass(""))
}

func TestCompareOrdersByClassThenCollation(t *testing.T) {
	kc := DefaultKeyCodec()

	keys := []string{"b", "_x", "Apple", "a", "B", "1", "apple", "", "010", "002"}
	slices.SortFunc(keys, kc.Compare)
	require.Equal(t, []string{"002", "010", "1", "Apple", "B", "a", "apple", "b", "", "_x"}, keys)

	require.Negative(t, kc.Compare("9", "A"))
	require.Negative(t, kc.Compare("Z", "a"))
	require.Positive(t, kc.Compare("a", "Z"))
	require.Zero(t, kc.Compare("same", "same"))
}

func TestCompareIsZeroOnlyForIdenticalKeys(t *testing.T) {
	kc := DefaultKeyCodec()

	// Canonically equivalent under collation, but different strings.
	composed, decomposed := "caf\u00e9", "cafe\u0301"
	c := kc.Compare(composed, decomposed)
	require.NotZero(t, c)
	require.Equal(t, -c, kc.Compare(decomposed, composed))
}

func TestCompareConcurrentReaders(t *testing.T) {
	kc := DefaultKeyCodec()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if kc.Compare("alpha", "beta") >= 0 {
					t.Error("alpha should order before beta")
					return
				}
			}
		}()
	}
	wg.Wait()
}
