// Package ingestion loads raw per-source record batch files, normalizes
// them into canonical trade records and persists them for matching.
// Connector implementations for external venues live outside this module;
// this package only consumes their file drop format.
package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/logger"
	"github.com/guttosm/reconpulse/internal/storage"
)

const (
	fileDateLayout   = "2006-01-02"
	defaultBatchSize = 5000
)

// ProcessSources ingests one batch file per source for a trade date from
// dir. Files are named "<source>_<YYYY-MM-DD>.csv" and processed
// concurrently; the first error cancels the remaining files.
func ProcessSources(ctx context.Context, dir string, repo storage.TradeStore, tradeDate time.Time, sources []models.Source) error {
	day := tradeDate.Format(fileDateLayout)

	// Validate presence upfront so a half-missing drop fails fast.
	var missing []string
	files := make(map[models.Source]string, len(sources))
	for _, src := range sources {
		name := fmt.Sprintf("%s_%s.csv", src, day)
		full := filepath.Join(dir, name)
		files[src] = full
		if _, err := os.Stat(full); err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, name)
				continue
			}
			return fmt.Errorf("stat failed for %s: %w", full, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required files: %v", missing)
	}

	logger.L().Info().Int("files", len(files)).Str("dir", dir).Str("trade_date", day).Msg("ingestion start")

	g, gctx := errgroup.WithContext(ctx)
	for src, path := range files {
		src, path := src, path
		g.Go(func() error {
			start := time.Now()
			total, skipped, err := parseAndPersistFile(gctx, path, src, repo, defaultBatchSize)
			if err != nil {
				logger.L().Error().Str("file", filepath.Base(path)).Err(err).Msg("file failed")
				return fmt.Errorf("file %s: %w", path, err)
			}
			logger.L().Info().
				Str("file", filepath.Base(path)).
				Int("rows", total).
				Int("skipped", skipped).
				Int64("elapsed_ms", time.Since(start).Milliseconds()).
				Msg("file done")
			return nil
		})
	}
	return g.Wait()
}
