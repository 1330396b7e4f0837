// Package walker reconciles a filesystem subtree with the catalog.
// It classifies every path as insert, update, delete, or noop and writes the
// outcome in one transaction, so a crashed run leaves no half-applied walk.
package walker

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pym-cms/stoma/internal/catalog"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
	"github.com/pym-cms/stoma/internal/mimeguess"
)

// Action classifies one path after comparing filesystem and catalog.
type Action byte

const (
	ActionInsert Action = 'i'
	ActionUpdate Action = 'u'
	ActionDelete Action = 'd'
	ActionNoop   Action = 'n'
)

// present is the filesystem's view of one regular file.
type present struct {
	stat   catalog.StatInfo
	size   int64
	ctime  int64 // unix nanoseconds
	mtime  int64 // unix nanoseconds
	action Action
	mime   string
	enc    string
}

// Walker runs the reconciliation for one start directory.
type Walker struct {
	log   *slog.Logger
	store *catalog.Store
	guess *mimeguess.Guesser

	startDir string
	items    map[string]*present
	known    map[string]catalog.KnownItem
}

// New creates a Walker over the given catalog store.
func New(log *slog.Logger, store *catalog.Store, guess *mimeguess.Guesser) *Walker {
	return &Walker{log: log, store: store, guess: guess}
}

// Walk reconciles the subtree under startDir with the catalog: collect the
// filesystem, load the known rows, classify, and write the outcome in a
// single transaction.
func (w *Walker) Walk(ctx context.Context, startDir string) error {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeInvalidPath,
			"cannot resolve start directory", err)
	}
	w.startDir = abs

	if err := w.collect(); err != nil {
		return err
	}
	if err := w.load(ctx); err != nil {
		return err
	}
	w.classify()
	return w.save(ctx)
}

// collect enumerates every regular file under startDir. Symlinks are not
// followed; a stat failure skips the file with a warning instead of aborting
// the walk.
func (w *Walker) collect() error {
	items := make(map[string]*present)
	err := filepath.WalkDir(w.startDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		st, err := os.Lstat(path)
		if err != nil {
			w.log.Warn("skipping unstatable file", "path", path, "error", err)
			return nil
		}
		p := &present{
			size:  st.Size(),
			mtime: st.ModTime().UnixNano(),
		}
		fillStat(st, p)
		items[path] = p
		return nil
	})
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeWalkFailed,
			"filesystem walk failed", err)
	}
	w.items = items
	w.log.Info("collected items", "start_dir", w.startDir, "count", len(items))
	return nil
}

// load reads the (path, mtime, state) projection for every known row under
// startDir.
func (w *Walker) load(ctx context.Context) error {
	return w.store.WithTx(ctx, func(tx *catalog.Tx) error {
		rows, err := tx.ScanUnder(ctx, w.startDir)
		if err != nil {
			return err
		}
		w.known = make(map[string]catalog.KnownItem, len(rows))
		for _, r := range rows {
			w.known[r.Path] = r
		}
		w.log.Info("loaded known items", "count", len(w.known))
		return nil
	})
}

// classify decides the action for every path on either side. Rows held by
// another worker (in-process states) are never touched. A changed mtime in
// either direction marks the file updated. A file whose row already finished
// deletion counts as updated even on equal mtimes: its document is gone from
// the search index and must be republished.
func (w *Walker) classify() {
	var nNew, nUpdate, nDelete, nUnchanged int

	for path, it := range w.items {
		k, ok := w.known[path]
		switch {
		case !ok:
			it.mime, it.enc = w.guess.Guess(path)
			it.action = ActionInsert
			nNew++
		case k.State.IsInProcess():
			it.action = ActionNoop
			nUnchanged++
		case it.mtime != k.Mtime || k.State == catalog.StateDeleted:
			it.mime, it.enc = w.guess.Guess(path)
			it.action = ActionUpdate
			nUpdate++
		default:
			it.action = ActionNoop
			nUnchanged++
		}
	}
	for path, k := range w.known {
		if _, ok := w.items[path]; !ok && k.State != catalog.StateDeleted {
			nDelete++
		}
	}

	w.log.Info("classified",
		"new", nNew, "update", nUpdate, "delete", nDelete, "unchanged", nUnchanged,
		"sum", nNew+nUpdate+nDelete+nUnchanged)
}

// save writes the classification in one transaction: reset the baseline,
// upsert inserts and updates, mark deletions.
func (w *Walker) save(ctx context.Context) error {
	var upserts []catalog.UpsertRow
	for path, it := range w.items {
		if it.action != ActionInsert && it.action != ActionUpdate {
			continue
		}
		st := it.stat
		upserts = append(upserts, catalog.UpsertRow{
			Path:      path,
			MimeType:  it.mime,
			Encoding:  it.enc,
			ItemCtime: it.ctime,
			ItemMtime: it.mtime,
			Size:      it.size,
			OSStat:    &st,
		})
	}
	var deletes []string
	for path, k := range w.known {
		if _, ok := w.items[path]; ok {
			continue
		}
		if k.State == catalog.StateDeleted {
			// Already unpublished; re-marking it would churn the indexer
			// with a no-op delete every run.
			continue
		}
		deletes = append(deletes, path)
	}

	return w.store.WithTx(ctx, func(tx *catalog.Tx) error {
		if _, err := tx.ResetStatesUnder(ctx, w.startDir); err != nil {
			return err
		}
		if err := tx.BulkUpsert(ctx, upserts); err != nil {
			return err
		}
		n, err := tx.MarkDeletion(ctx, deletes)
		if err != nil {
			return err
		}
		w.log.Info("saved walk",
			"upserts", len(upserts), "deletions", n)
		return nil
	})
}
