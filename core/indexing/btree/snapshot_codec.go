package btree

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotFormat names a self-describing encoding for snapshots.
type SnapshotFormat string

const (
	FormatJSON SnapshotFormat = "json"
	FormatCBOR SnapshotFormat = "cbor"
)

// cborEncMode produces deterministic output so equal snapshots encode to
// equal bytes.
var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ParseSnapshotFormat accepts "json" or "cbor" in any case.
func ParseSnapshotFormat(s string) (SnapshotFormat, error) {
	switch f := SnapshotFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCBOR:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown snapshot format %q", s)
	}
}

// EncodeSnapshot renders s so it can cross a process or session boundary.
func EncodeSnapshot[V any](s *Snapshot[V], format SnapshotFormat) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrSerialization)
	}
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = json.Marshal(s)
	case FormatCBOR:
		data, err = cborEncMode.Marshal(s)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrSerialization, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// DecodeSnapshot parses bytes produced by EncodeSnapshot. The result is not
// validated; Restore does that.
func DecodeSnapshot[V any](data []byte, format SnapshotFormat) (*Snapshot[V], error) {
	var (
		s   Snapshot[V]
		err error
	)
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &s)
	case FormatCBOR:
		err = cbor.Unmarshal(data, &s)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrDeserialization, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return &s, nil
}
