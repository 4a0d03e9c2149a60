package btree

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	// DefaultKeyWidth is the zero-padding width applied to numeric keys.
	// Numeric keys wider than this compare as text, so 1000 orders before 999.
	DefaultKeyWidth = 3
	// DefaultLocale drives the collation used to break ties inside a priority class.
	DefaultLocale = "en"
)

// Priority classes, in ascending order.
const (
	ClassDigit = iota
	ClassUpper
	ClassLower
	ClassOther
)

// KeyCodec normalizes raw keys and defines the total order used by the index.
// A KeyCodec is safe for concurrent use.
type KeyCodec struct {
	width  int
	locale language.Tag
	pool   sync.Pool // *collate.Collator, which is not goroutine safe
}

// NewKeyCodec returns a codec that pads numeric keys to width digits and
// collates with the given BCP 47 locale. A width <= 0 disables padding.
func NewKeyCodec(width int, locale string) (*KeyCodec, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid collation locale %q: %w", locale, err)
	}
	kc := &KeyCodec{width: width, locale: tag}
	kc.pool.New = func() any { return collate.New(tag) }
	return kc, nil
}

// DefaultKeyCodec returns a codec with width 3 and English collation.
func DefaultKeyCodec() *KeyCodec {
	kc, _ := NewKeyCodec(DefaultKeyWidth, DefaultLocale)
	return kc
}

// Width returns the numeric padding width.
func (kc *KeyCodec) Width() int { return kc.width }

// Locale returns the collation locale.
func (kc *KeyCodec) Locale() string { return kc.locale.String() }

// Normalize renders a raw key in canonical form. Integers and floats are zero
// padded to the codec width; strings pass through unchanged.
func (kc *KeyCodec) Normalize(raw any) (string, error) {
	switch k := raw.(type) {
	case string:
		return k, nil
	case int:
		return kc.pad(strconv.FormatInt(int64(k), 10)), nil
	case int8:
		return kc.pad(strconv.FormatInt(int64(k), 10)), nil
	case int16:
		return kc.pad(strconv.FormatInt(int64(k), 10)), nil
	case int32:
		return kc.pad(strconv.FormatInt(int64(k), 10)), nil
	case int64:
		return kc.pad(strconv.FormatInt(k, 10)), nil
	case uint:
		return kc.pad(strconv.FormatUint(uint64(k), 10)), nil
	case uint8:
		return kc.pad(strconv.FormatUint(uint64(k), 10)), nil
	case uint16:
		return kc.pad(strconv.FormatUint(uint64(k), 10)), nil
	case uint32:
		return kc.pad(strconv.FormatUint(uint64(k), 10)), nil
	case uint64:
		return kc.pad(strconv.FormatUint(k, 10)), nil
	case float32:
		return kc.pad(strconv.FormatFloat(float64(k), 'f', -1, 32)), nil
	case float64:
		return kc.pad(strconv.FormatFloat(k, 'f', -1, 64)), nil
	case fmt.Stringer:
		return k.String(), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKeyType, raw)
	}
}

// FormatNumber pads a non-negative number the same way Normalize does.
func (kc *KeyCodec) FormatNumber(n uint64) string {
	return kc.pad(strconv.FormatUint(n, 10))
}

// pad left-pads the digits of s with zeros, keeping a leading sign in front.
func (kc *KeyCodec) pad(s string) string {
	if len(s) >= kc.width {
		return s
	}
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	return sign + strings.Repeat("0", kc.width-len(sign)-len(s)) + s
}

// PriorityClass ranks the first character of a key: digits, then upper-case
// letters, then lower-case letters, then everything else.
func PriorityClass(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return ClassDigit
	case r >= 'A' && r <= 'Z':
		return ClassUpper
	case r >= 'a' && r <= 'z':
		return ClassLower
	default:
		return ClassOther
	}
}

func keyClass(key string) int {
	if key == "" {
		return ClassOther
	}
	r, _ := utf8.DecodeRuneInString(key)
	return PriorityClass(r)
}

// Compare orders two canonical keys. It returns 0 only for identical strings.
func (kc *KeyCodec) Compare(a, b string) int {
	if a == b {
		return 0
	}
	if ca, cb := keyClass(a), keyClass(b); ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	c := kc.pool.Get().(*collate.Collator)
	res := c.CompareString(a, b)
	kc.pool.Put(c)
	if res != 0 {
		return res
	}
	return strings.Compare(a, b)
}
