// Package pipeline wires the three stages into one run: Walker, then
// Analyser, then Indexer, each with its own transaction boundaries. A
// cross-process file lock keeps concurrent runs on the same host from
// interleaving their walker baselines.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/pym-cms/stoma/internal/analyser"
	"github.com/pym-cms/stoma/internal/catalog"
	"github.com/pym-cms/stoma/internal/config"
	"github.com/pym-cms/stoma/internal/elastic"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
	"github.com/pym-cms/stoma/internal/indexer"
	"github.com/pym-cms/stoma/internal/mimeguess"
	"github.com/pym-cms/stoma/internal/tika"
	"github.com/pym-cms/stoma/internal/walker"
)

// Runner holds the wired pipeline for one configuration.
type Runner struct {
	log    *slog.Logger
	cfg    *config.Config
	store  *catalog.Store
	tika   *tika.Client
	search *elastic.Client
}

// New wires a Runner from the configuration and an open catalog store.
func New(log *slog.Logger, cfg *config.Config, store *catalog.Store) *Runner {
	return &Runner{
		log:    log,
		cfg:    cfg,
		store:  store,
		tika:   tika.New(cfg.Extractor),
		search: elastic.New(cfg.Search),
	}
}

// Index runs the full pipeline over startDir. Both remote services must be
// reachable before any row is touched, so a dead service costs nothing but
// the probe.
func (r *Runner) Index(ctx context.Context, startDir string) error {
	lock := NewRunLock(r.cfg.Pipeline.LockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return stomaerr.New(stomaerr.ErrCodeInvalidState,
			"another indexing run holds the lock: "+lock.Path(), nil)
	}
	defer lock.Unlock()

	if !r.tika.IsRunning() {
		return stomaerr.New(stomaerr.ErrCodeRemoteUnavailable,
			"extraction server is not running", nil)
	}
	if v, err := r.tika.Version(ctx); err == nil {
		r.log.Debug("extraction server", "version", v)
	}
	if !r.search.IsRunning() {
		return stomaerr.New(stomaerr.ErrCodeRemoteUnavailable,
			"search server is not running", nil)
	}
	if v, err := r.search.Version(ctx); err == nil {
		r.log.Debug("search server", "version", v)
	}

	guess, err := mimeguess.New()
	if err != nil {
		return stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
	}

	if err := walker.New(r.log, r.store, guess).Walk(ctx, startDir); err != nil {
		return err
	}
	if err := analyser.New(r.log, r.store, r.tika, r.cfg.Analyser.Workers).Analyse(ctx, ""); err != nil {
		return err
	}
	return indexer.New(r.log, r.store, r.search,
		r.cfg.Search.Index, r.cfg.Search.DocType).Index(ctx, "")
}

// InitDB creates the catalog schema and stamps the migration version.
func (r *Runner) InitDB(ctx context.Context) error {
	r.log.Info("initialising database")
	return r.store.InitSchema(ctx)
}

// Drop empties the catalog and deletes the search index. The catalog is
// emptied first; a missing index afterwards is not an error.
func (r *Runner) Drop(ctx context.Context) error {
	if !r.search.IsRunning() {
		return stomaerr.New(stomaerr.ErrCodeRemoteUnavailable,
			"search server is not running", nil)
	}
	r.log.Info("dropping index and catalog")
	if err := r.store.TruncateItems(ctx); err != nil {
		return err
	}
	if err := r.search.DeleteIndex(ctx, r.cfg.Search.Index); err != nil {
		if stomaerr.GetCode(err) == stomaerr.ErrCodeRemoteRejected {
			r.log.Warn("search index was not there", "index", r.cfg.Search.Index)
			return nil
		}
		return err
	}
	return nil
}
