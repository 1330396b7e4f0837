// Package analyser moves rows from need_analysis to need_indexing by running
// the extraction service over each file. Each row is processed in its own
// transaction so one failed extraction costs exactly one row, not the run.
package analyser

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pym-cms/stoma/internal/catalog"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
	"github.com/pym-cms/stoma/internal/tika"
)

// Extractor is the extraction-service surface the analyser needs.
type Extractor interface {
	Extract(ctx context.Context, fn string) (*tika.Result, error)
}

// Analyser drains the need_analysis queue.
type Analyser struct {
	log       *slog.Logger
	store     *catalog.Store
	extractor Extractor
	workers   int
}

// New creates an Analyser with the given worker count. Fewer than one worker
// is clamped to one.
func New(log *slog.Logger, store *catalog.Store, extractor Extractor, workers int) *Analyser {
	if workers < 1 {
		workers = 1
	}
	return &Analyser{log: log, store: store, extractor: extractor, workers: workers}
}

// Analyse processes every row currently in need_analysis, optionally scoped
// to paths under prefix. Rows claimed away by a concurrent run are skipped
// silently; a failed extraction rolls the row back to need_analysis and the
// run continues.
func (a *Analyser) Analyse(ctx context.Context, prefix string) error {
	var paths []string
	err := a.store.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		paths, err = tx.ListPathsInState(ctx, catalog.StateNeedAnalysis, prefix)
		return err
	})
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	a.log.Info("analysing", "count", len(paths), "workers", a.workers)

	queue := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for _, p := range paths {
			select {
			case queue <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < a.workers; i++ {
		g.Go(func() error {
			for p := range queue {
				if err := a.analyseOne(gctx, p); err != nil {
					if stomaerr.IsFatal(err) {
						return err
					}
					a.log.Warn("analysis failed, row returns to queue",
						"path", p, "error", err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// analyseOne claims one row, extracts, and commits the result. Any failure
// after the claim rolls back, which atomically restores need_analysis.
func (a *Analyser) analyseOne(ctx context.Context, path string) error {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	claimed, err := tx.ClaimState(ctx, path, catalog.StateNeedAnalysis, catalog.StateAnalysing)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker owns the row.
		a.log.Debug("row already claimed", "path", path)
		return nil
	}

	a.log.Debug("analysing", "path", path)
	res, err := a.extractor.Extract(ctx, path)
	if err != nil {
		return err
	}

	if err := tx.UpdateAnalysis(ctx, path, catalog.AnalysisUpdate{
		MimeType:     res.MimeType,
		Language:     res.Language,
		MetaJSON:     res.MetaJSON,
		MetaXMP:      res.MetaXMP,
		DataText:     res.DataText,
		DataHTMLHead: res.DataHTMLHead,
		DataHTMLBody: res.DataHTMLBody,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
