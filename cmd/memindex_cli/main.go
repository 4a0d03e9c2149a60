package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/memindex/config"
	"github.com/sushant-115/memindex/core/indexmanager"
	"github.com/sushant-115/memindex/pkg/logger"
	"github.com/sushant-115/memindex/pkg/telemetry"
)

var (
	configPath = flag.String("config", "", "path to a YAML configuration file")
	logLevel   = flag.String("log-level", "", "overrides logger.level from the configuration")
	history    = flag.String("history", "", "readline history file; empty keeps history in memory")
	saveRate   = flag.Int64("save-rate", 0, "snapshot write throttle in bytes per second; 0 is unlimited")
)

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.Load(*configPath)
}

func newCompleter() *readline.PrefixCompleter {
	formats := []readline.PrefixCompleterInterface{readline.PcItem("json"), readline.PcItem("cbor")}
	return readline.NewPrefixCompleter(
		readline.PcItem("insert"),
		readline.PcItem("get"),
		readline.PcItem("getall"),
		readline.PcItem("update"),
		readline.PcItem("delete"),
		readline.PcItem("undo"),
		readline.PcItem("redo"),
		readline.PcItem("restore"),
		readline.PcItem("checkpoints"),
		readline.PcItem("history"),
		readline.PcItem("list"),
		readline.PcItem("dump"),
		readline.PcItem("save", readline.PcItemDynamic(listFiles, formats...)),
		readline.PcItem("load", readline.PcItemDynamic(listFiles, formats...)),
		readline.PcItem("loglevel",
			readline.PcItem("debug"), readline.PcItem("info"), readline.PcItem("warn"), readline.PcItem("error")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func listFiles(string) []string {
	entries, err := os.ReadDir(".")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}

	zapLogger, level, err := logger.NewWithLevel(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zapLogger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	index, err := indexmanager.NewBTreeIndexManager[string](cfg.Index, tel, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer index.Close()

	sh := &shell{index: index, level: level, out: os.Stdout, saveRate: *saveRate}

	// Process command from command-line arguments.
	if args := flag.Args(); len(args) > 0 {
		if err := sh.processCommand(ctx, args); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "memindex> ",
		HistoryFile:     *history,
		AutoComplete:    newCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start line editor: %w", err)
	}
	defer rl.Close()
	sh.out = rl.Stdout()

	fmt.Fprintln(sh.out, "memindex (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		err = sh.processCommand(ctx, strings.Fields(line))
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "memindex: %v\n", err)
		os.Exit(1)
	}
}
