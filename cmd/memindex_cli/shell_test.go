package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/memindex/config"
	"github.com/sushant-115/memindex/core/indexmanager"
)

func setupShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default().Index
	cfg.AddressSeed = 3
	index, err := indexmanager.NewBTreeIndexManager[string](cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(index.Close)
	out := &bytes.Buffer{}
	return &shell{index: index, level: zap.NewAtomicLevel(), out: out}, out
}

func runLine(t *testing.T, sh *shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, sh.processCommand(context.Background(), strings.Fields(line)))
	return out.String()
}

func TestShellCommands(t *testing.T) {
	sh, out := setupShell(t)

	require.Contains(t, runLine(t, sh, out, "insert 7 seven"), `inserted "007"`)
	require.Contains(t, runLine(t, sh, out, "get 7 value"), "seven")
	require.Contains(t, runLine(t, sh, out, "get 7"), `007 @ `)
	require.Contains(t, runLine(t, sh, out, "get 8"), "not found")

	runLine(t, sh, out, "insert 7 again")
	require.Equal(t, 2, strings.Count(runLine(t, sh, out, "getall 7"), "007 @"))

	require.Equal(t, "not found\n", runLine(t, sh, out, "update apple red"))
	runLine(t, sh, out, "insert apple green")
	require.Equal(t, "updated\n", runLine(t, sh, out, "update apple red"))
	require.Contains(t, runLine(t, sh, out, "get apple value"), "red")

	// The delete is the fifth operation and closes the first checkpoint window.
	require.Equal(t, "deleted\n", runLine(t, sh, out, "delete apple"))
	require.Equal(t, "undone from checkpoint\n", runLine(t, sh, out, "undo"))
	require.Contains(t, runLine(t, sh, out, "get apple value"), "red")
	require.Equal(t, "undone from log\n", runLine(t, sh, out, "undo"))
	require.Contains(t, runLine(t, sh, out, "get apple value"), "green")
	require.Equal(t, "redone\n", runLine(t, sh, out, "redo"))
	require.Equal(t, "redone\n", runLine(t, sh, out, "redo"))
	require.Equal(t, "nothing to redo\n", runLine(t, sh, out, "redo"))
	require.Contains(t, runLine(t, sh, out, "get apple"), "not found")

	require.Contains(t, runLine(t, sh, out, "history"), "operations=")
	require.Contains(t, runLine(t, sh, out, "help"), "restore <checkpoint>")
}

func TestShellRestoreAndCheckpoints(t *testing.T) {
	sh, out := setupShell(t)
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		runLine(t, sh, out, "insert "+k)
	}
	require.Contains(t, runLine(t, sh, out, "checkpoints"), `"index": 0`)
	require.Equal(t, "restored checkpoint 0\n", runLine(t, sh, out, "restore 0"))
	require.Empty(t, runLine(t, sh, out, "list"))

	err := sh.processCommand(context.Background(), []string{"restore", "0"})
	require.Error(t, err)
	err = sh.processCommand(context.Background(), []string{"restore", "x"})
	require.Error(t, err)
}

func TestShellSaveLoad(t *testing.T) {
	dir := t.TempDir()
	src, out := setupShell(t)
	for _, k := range []string{"1", "2", "B", "a"} {
		runLine(t, src, out, "insert "+k+" v"+k)
	}
	want := runLine(t, src, out, "list")

	for _, name := range []string{"snap.json", "snap.cbor"} {
		path := filepath.Join(dir, name)
		require.Contains(t, runLine(t, src, out, "save "+path), "saved")

		dst, dstOut := setupShell(t)
		require.Contains(t, runLine(t, dst, dstOut, "load "+path), "loaded 4 entries")
		require.Equal(t, want, runLine(t, dst, dstOut, "list"))
	}

	err := src.processCommand(context.Background(), []string{"save", filepath.Join(dir, "x"), "xml"})
	require.Error(t, err)
	err = src.processCommand(context.Background(), []string{"load", filepath.Join(dir, "missing.json")})
	require.Error(t, err)
}

func TestShellErrorsAndQuit(t *testing.T) {
	sh, _ := setupShell(t)
	ctx := context.Background()

	require.Error(t, sh.processCommand(ctx, []string{"frobnicate"}))
	require.Error(t, sh.processCommand(ctx, []string{"get"}))
	require.Error(t, sh.processCommand(ctx, []string{"get", "1", "everything"}))
	require.Error(t, sh.processCommand(ctx, []string{"update", "1"}))
	require.ErrorIs(t, sh.processCommand(ctx, []string{"exit"}), errQuit)
	require.NoError(t, sh.processCommand(ctx, nil))
}

func TestShellLogLevel(t *testing.T) {
	sh, out := setupShell(t)
	runLine(t, sh, out, "loglevel debug")
	require.Equal(t, "debug\n", runLine(t, sh, out, "loglevel"))
	require.Error(t, sh.processCommand(context.Background(), []string{"loglevel", "loud"}))
}

func TestParseKey(t *testing.T) {
	require.Equal(t, 7, parseKey("7"))
	require.Equal(t, -3, parseKey("-3"))
	require.Equal(t, "007x", parseKey("007x"))
}
