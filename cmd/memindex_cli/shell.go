package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sushant-115/memindex/core/indexing/btree"
	"github.com/sushant-115/memindex/core/indexmanager"
	"github.com/sushant-115/memindex/internal/snapshotfile"
)

// errQuit ends the interactive loop.
var errQuit = errors.New("quit")

// shell executes one command line at a time against an index.
type shell struct {
	index *indexmanager.BTreeIndexManager[string]
	level zap.AtomicLevel
	out   io.Writer
	// saveRate throttles snapshot writes in bytes per second; 0 is unlimited.
	saveRate int64
}

// parseKey turns anything that looks like an integer into one, so that
// "7" is stored as the padded numeric key.
func parseKey(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}

// snapshotFormat picks the explicit format if given, else the file extension.
func snapshotFormat(path string, args []string) (btree.SnapshotFormat, error) {
	if len(args) > 0 {
		return btree.ParseSnapshotFormat(args[0])
	}
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return btree.FormatCBOR, nil
	}
	return btree.FormatJSON, nil
}

func (s *shell) printJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// processCommand handles a single command, either from args or interactive mode.
func (s *shell) processCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}

	command := strings.ToLower(args[0])
	switch command {
	case "insert", "put":
		if len(args) < 2 {
			return errors.New("insert requires a key and an optional value")
		}
		e, err := s.index.Put(ctx, parseKey(args[1]), strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "inserted %q at address %s\n", e.Key, e.Address)

	case "get", "search":
		if len(args) < 2 {
			return errors.New("get requires a key")
		}
		mode := indexmanager.ModeEntry
		if len(args) > 2 {
			m, err := indexmanager.ParseMode(args[2])
			if err != nil {
				return err
			}
			mode = m
		}
		v, found, err := s.index.Get(ctx, parseKey(args[1]), mode)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(s.out, "not found")
			return nil
		}
		if e, ok := v.(btree.Entry[string]); ok {
			fmt.Fprintf(s.out, "%s @ %s = %q\n", e.Key, e.Address, e.Value)
			return nil
		}
		fmt.Fprintln(s.out, v)

	case "getall":
		if len(args) < 2 {
			return errors.New("getall requires a key")
		}
		entries, err := s.index.GetAll(ctx, parseKey(args[1]))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(s.out, "not found")
		}
		for _, e := range entries {
			fmt.Fprintf(s.out, "%s @ %s = %q\n", e.Key, e.Address, e.Value)
		}

	case "update":
		if len(args) < 3 {
			return errors.New("update requires a key and a value")
		}
		ok, err := s.index.Update(ctx, parseKey(args[1]), strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(s.out, "not found")
			return nil
		}
		fmt.Fprintln(s.out, "updated")

	case "delete", "remove":
		if len(args) < 2 {
			return errors.New("delete requires a key")
		}
		ok, err := s.index.Delete(ctx, parseKey(args[1]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(s.out, "not found")
			return nil
		}
		fmt.Fprintln(s.out, "deleted")

	case "undo":
		outcome, err := s.index.Undo(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, outcome)

	case "redo":
		outcome, err := s.index.Redo(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, outcome)

	case "restore":
		if len(args) < 2 {
			return errors.New("restore requires a checkpoint index")
		}
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad checkpoint index %q: %w", args[1], err)
		}
		if err := s.index.RestoreToCheckpoint(ctx, i); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "restored checkpoint %d\n", i)

	case "checkpoints":
		return s.printJSON(s.index.Checkpoints(ctx))

	case "history":
		opCounter, pending, redo := s.index.HistoryState()
		fmt.Fprintf(s.out, "operations=%d pending=%d redo=%d checkpoints=%d\n",
			opCounter, pending, redo, len(s.index.Checkpoints(ctx)))

	case "list":
		for _, e := range s.index.Entries(ctx) {
			fmt.Fprintf(s.out, "%s @ %s = %q\n", e.Key, e.Address, e.Value)
		}

	case "dump":
		fmt.Fprint(s.out, s.index.Dump())

	case "save":
		if len(args) < 2 {
			return errors.New("save requires a file path")
		}
		format, err := snapshotFormat(args[1], args[2:])
		if err != nil {
			return err
		}
		data, err := s.index.ExportSnapshot(ctx, format)
		if err != nil {
			return err
		}
		digest, err := snapshotfile.Write(ctx, args[1], data, s.saveRate)
		if err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		fmt.Fprintf(s.out, "saved %d bytes to %s (sha256 %s)\n", len(data), args[1], digest)

	case "load":
		if len(args) < 2 {
			return errors.New("load requires a file path")
		}
		format, err := snapshotFormat(args[1], args[2:])
		if err != nil {
			return err
		}
		data, err := snapshotfile.Read(args[1])
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		if err := s.index.ImportSnapshot(ctx, data, format); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "loaded %d entries from %s\n", len(s.index.Entries(ctx)), args[1])

	case "loglevel":
		if len(args) < 2 {
			fmt.Fprintln(s.out, s.level.Level())
			return nil
		}
		var lvl zapcore.Level
		if err := lvl.Set(args[1]); err != nil {
			return err
		}
		s.level.SetLevel(lvl)

	case "help":
		fmt.Fprint(s.out, helpText)

	case "exit", "quit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", command)
	}
	return nil
}

const helpText = `Commands:
  insert <key> [value]
  get <key> [entry|key|address|value]
  getall <key>
  update <key> <value>
  delete <key>
  undo
  redo
  restore <checkpoint>
  checkpoints
  history
  list
  dump
  save <file> [json|cbor]
  load <file> [json|cbor]
  loglevel [level]
  help
  exit / quit
`
