// Command rebuild-aggregates restores aggregate snapshot rows from the
// event log, chunk by chunk. Run it after migrations or to repair rows that
// have drifted from their event history.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vinoma/cellar/pkg/config"
	"github.com/vinoma/cellar/pkg/eventsourcing"
	"github.com/vinoma/cellar/pkg/store/sqlite"
	"github.com/vinoma/cellar/pkg/winery"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration")
		model      = flag.String("model", "", "aggregate type to rebuild: wine_lot or action")
		onlyID     = flag.String("id", "", "rebuild only this aggregate id")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(context.Background(), log, *configPath, *model, *onlyID); err != nil {
		log.Error("rebuild failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger, configPath, model, onlyID string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	store, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	cellar := winery.New(store, nil, nil,
		winery.WithLogger(log),
		winery.WithCursorChunkSize(cfg.CursorChunkSize),
	)

	var source eventsourcing.RebuildSource
	var rebuild func(ctx context.Context, onlyID string, chunkSize int, chunkDone func(int)) error
	switch model {
	case winery.WineLotAggregateType:
		source = cellar.Lots().Rebuilder(cfg.CursorChunkSize)
		rebuild = cellar.RebuildWineLots
	case winery.ActionAggregateType:
		source = cellar.Actions().Rebuilder(cfg.CursorChunkSize)
		rebuild = cellar.RebuildActions
	default:
		return fmt.Errorf("unknown model %q: expected %q or %q", model, winery.WineLotAggregateType, winery.ActionAggregateType)
	}

	total, err := source.Count(ctx, onlyID)
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilding %d %s aggregate(s) in chunks of %d\n", total, model, cfg.RebuildChunkSize)

	err = rebuild(ctx, onlyID, cfg.RebuildChunkSize, func(index int) {
		fmt.Printf("  chunk %d done\n", index)
	})
	if err != nil {
		return err
	}

	fmt.Println("Rebuild complete")
	return nil
}
