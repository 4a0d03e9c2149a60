// Command btree drives a rate limited read and write workload against an
// in-memory index and reports throughput and history depth.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sushant-115/memindex/config"
	"github.com/sushant-115/memindex/core/indexmanager"
	"github.com/sushant-115/memindex/pkg/logger"
)

var (
	order    = flag.Int("order", 32, "B-tree order")
	keys     = flag.Int("keys", 2000, "number of keys to write and read back")
	workers  = flag.Int("workers", 10, "concurrent readers")
	opsLimit = flag.Float64("rate", 0, "operations per second; 0 is unlimited")
	undos    = flag.Int("undos", 100, "undo then redo steps after the write phase")
)

func main() {
	flag.Parse()

	zlogger, err := logger.New(logger.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	cfg := config.Default().Index
	cfg.Order = *order
	cfg.KeyWidth = len(strconv.Itoa(*keys))
	cfg.AddressSpace = uint64(*keys) * 2
	index, err := indexmanager.NewBTreeIndexManager[string](cfg, nil, zlogger.Named("btree_index"))
	if err != nil {
		log.Fatalf("failed to create index: %v", err)
	}
	defer index.Close()

	limit := rate.Inf
	if *opsLimit > 0 {
		limit = rate.Limit(*opsLimit)
	}
	limiter := rate.NewLimiter(limit, *workers)
	ctx := context.Background()

	start := time.Now()
	if err := write(ctx, index, limiter); err != nil {
		log.Fatalf("write phase: %v", err)
	}
	report("write", *keys, time.Since(start))

	start = time.Now()
	if err := read(ctx, index, limiter); err != nil {
		log.Fatalf("read phase: %v", err)
	}
	report("read", *keys, time.Since(start))

	start = time.Now()
	if err := rewind(ctx, index); err != nil {
		log.Fatalf("history phase: %v", err)
	}
	report("undo+redo", 2**undos, time.Since(start))

	opCounter, pending, redo := index.HistoryState()
	zlogger.Info("done", zap.Int("operations", opCounter), zap.Int("pending", pending), zap.Int("redo", redo))
	fmt.Printf("checkpoints=%d operations=%d pending=%d\n", len(index.Checkpoints(ctx)), opCounter, pending)
}

func report(phase string, n int, d time.Duration) {
	fmt.Printf("%-10s %6d ops in %-12s %10.0f ops/s\n", phase, n, d.Round(time.Microsecond), float64(n)/d.Seconds())
}

// write inserts serially; the index admits one writer at a time anyway.
func write(ctx context.Context, index *indexmanager.BTreeIndexManager[string], limiter *rate.Limiter) error {
	for i := range *keys {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := index.Put(ctx, i, "value-"+strconv.Itoa(i)); err != nil {
			return fmt.Errorf("put %d: %w", i, err)
		}
	}
	return nil
}

func read(ctx context.Context, index *indexmanager.BTreeIndexManager[string], limiter *rate.Limiter) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for i := range *keys {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			v, found, err := index.Get(ctx, i, indexmanager.ModeValue)
			if err != nil {
				return fmt.Errorf("get %d: %w", i, err)
			}
			if !found {
				return fmt.Errorf("key %d not found", i)
			}
			if want := "value-" + strconv.Itoa(i); v != want {
				return fmt.Errorf("key %d: got %v, want %s", i, v, want)
			}
			return nil
		})
	}
	return g.Wait()
}

func rewind(ctx context.Context, index *indexmanager.BTreeIndexManager[string]) error {
	for range *undos {
		if _, err := index.Undo(ctx); err != nil {
			return err
		}
	}
	for range *undos {
		if _, err := index.Redo(ctx); err != nil {
			return err
		}
	}
	return nil
}
