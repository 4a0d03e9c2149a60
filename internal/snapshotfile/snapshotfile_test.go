package snapshotfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	data := []byte(`{"order":3,"size":0,"root":{"entries":[],"leaf":true}}`)

	digest, err := Write(context.Background(), path, data, 0)
	require.NoError(t, err)
	require.Len(t, digest, 64)

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, data, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 2, "temp file left behind")
}

func TestReadDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.cbor")
	_, err := Write(context.Background(), path, []byte("payload"), 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("pay1oad"), 0o644))
	_, err = Read(path)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestReadWithoutChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), got)

	_, err = Read(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteMultipleChunksThrottled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.cbor")
	data := bytes.Repeat([]byte("abcdefgh"), chunkSize/4) // two chunks

	_, err := Write(context.Background(), path, data, 1<<30)
	require.NoError(t, err)
	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWriteCanceled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slow.json")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// One byte per second cannot fit the second chunk in the deadline.
	data := make([]byte, chunkSize+1)
	_, err := Write(ctx, path, data, 1)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
