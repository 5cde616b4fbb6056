// Command loadseries ingests price-series CSVs into the ClickHouse series
// table, so simulations can pull their inputs from storage instead of local
// files. Re-running over the same files is idempotent.
package main

import (
	"context"
	"flag"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradesim/services/clickhouse"
	"tradesim/services/config"
	"tradesim/services/marketdata"
)

func main() {
	csvList := flag.String("csv", "", "Comma-separated series CSVs, each 'name=path' or a bare path")
	table := flag.String("table", "series", "Destination ClickHouse table")
	resample := flag.Duration("resample", 0, "Optional coarser cadence before ingest, e.g. 15m")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *csvList == "" {
		logger.Fatal("no input series; pass -csv name=path[,name=path...]")
	}

	app, err := config.Load()
	if err != nil {
		logger.Fatal("load app config", zap.Error(err))
	}

	ctx := context.Background()
	ch, err := clickhouse.Open(ctx, clickhouse.Options{
		DSN:      app.ClickHouseDSN,
		Database: app.ClickHouseDatabase,
		User:     app.ClickHouseUser,
		Password: app.ClickHousePassword,
	})
	if err != nil {
		logger.Fatal("connect clickhouse", zap.Error(err))
	}
	defer ch.Close()

	if err := ch.EnsureSeriesSchema(ctx, *table); err != nil {
		logger.Fatal("ensure series schema", zap.Error(err))
	}

	for _, spec := range strings.Split(*csvList, ",") {
		name, path := splitSpec(strings.TrimSpace(spec))
		started := time.Now()

		s, err := marketdata.LoadCSV(path, name)
		if err != nil {
			logger.Fatal("load series", zap.String("path", path), zap.Error(err))
		}
		if *resample > 0 {
			if s, err = marketdata.Resample(s, *resample); err != nil {
				logger.Fatal("resample series", zap.String("name", name), zap.Error(err))
			}
		}
		if err := ch.SaveSeries(ctx, *table, s); err != nil {
			logger.Fatal("save series", zap.String("name", name), zap.Error(err))
		}
		logger.Info("series ingested",
			zap.String("name", name),
			zap.String("table", *table),
			zap.Int("points", len(s.Points)),
			zap.Duration("took", time.Since(started)),
		)
	}
}

// splitSpec resolves 'name=path' pairs, deriving the name from the file stem
// when only a path is given.
func splitSpec(spec string) (name, path string) {
	if i := strings.Index(spec, "="); i != -1 {
		return spec[:i], spec[i+1:]
	}
	base := filepath.Base(spec)
	return strings.TrimSuffix(base, filepath.Ext(base)), spec
}
