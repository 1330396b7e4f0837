// Package indexer publishes analysed rows to the search index and removes
// deleted rows from it. It is the only stage that talks to the search
// service, and it refuses to run when the service is down.
package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/pym-cms/stoma/internal/catalog"
	"github.com/pym-cms/stoma/internal/elastic"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// Searcher is the search-service surface the indexer needs.
type Searcher interface {
	IsRunning() bool
	Save(ctx context.Context, index, kind string, doc any, id string, create bool) (*elastic.SaveResult, error)
	Delete(ctx context.Context, index, kind, id string) (bool, error)
}

// Indexer drains the need_indexing and need_deletion queues.
type Indexer struct {
	log      *slog.Logger
	store    *catalog.Store
	searcher Searcher
	index    string
	docType  string
}

// New creates an Indexer publishing into the given index and document kind.
func New(log *slog.Logger, store *catalog.Store, searcher Searcher, index, docType string) *Indexer {
	return &Indexer{log: log, store: store, searcher: searcher, index: index, docType: docType}
}

// Index runs the save pass and then the delete pass, optionally scoped to
// paths under prefix. It fails up front when the search service is
// unreachable so no row is claimed that cannot be finished.
func (ix *Indexer) Index(ctx context.Context, prefix string) error {
	if !ix.searcher.IsRunning() {
		return stomaerr.New(stomaerr.ErrCodeRemoteUnavailable,
			"search server is not running", nil)
	}
	if err := ix.save(ctx, prefix); err != nil {
		return err
	}
	return ix.delete(ctx, prefix)
}

// save publishes every need_indexing row. A row that was indexed before keeps
// its search id; the returned version is stored either way.
func (ix *Indexer) save(ctx context.Context, prefix string) error {
	paths, err := ix.listPaths(ctx, catalog.StateNeedIndexing, prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := ix.saveOne(ctx, p); err != nil {
			if stomaerr.IsFatal(err) {
				return err
			}
			ix.log.Warn("indexing failed, row returns to queue", "path", p, "error", err)
		}
	}
	return nil
}

func (ix *Indexer) saveOne(ctx context.Context, path string) error {
	tx, err := ix.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	claimed, err := tx.ClaimState(ctx, path, catalog.StateNeedIndexing, catalog.StateIndexing)
	if err != nil {
		return err
	}
	if !claimed {
		ix.log.Debug("row already claimed", "path", path)
		return nil
	}

	it, err := tx.GetItem(ctx, path)
	if err != nil {
		return err
	}

	ix.log.Debug("indexing", "path", path)
	res, err := ix.searcher.Save(ctx, ix.index, ix.docType, Document(it), it.SearchID, false)
	if err != nil {
		return err
	}

	id := it.SearchID
	if id == "" {
		id = res.ID
	}
	if err := tx.UpdateIndexed(ctx, path, id, res.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// delete removes every need_deletion row from the index. A document the
// server no longer has is warned about, not failed on; the catalog row is
// finished either way.
func (ix *Indexer) delete(ctx context.Context, prefix string) error {
	paths, err := ix.listPaths(ctx, catalog.StateNeedDeletion, prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := ix.deleteOne(ctx, p); err != nil {
			if stomaerr.IsFatal(err) {
				return err
			}
			ix.log.Warn("unindexing failed, row returns to queue", "path", p, "error", err)
		}
	}
	return nil
}

func (ix *Indexer) deleteOne(ctx context.Context, path string) error {
	tx, err := ix.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	claimed, err := tx.ClaimState(ctx, path, catalog.StateNeedDeletion, catalog.StateIndexing)
	if err != nil {
		return err
	}
	if !claimed {
		ix.log.Debug("row already claimed", "path", path)
		return nil
	}

	it, err := tx.GetItem(ctx, path)
	if err != nil {
		return err
	}

	ix.log.Debug("removing from index", "path", path)
	if it.SearchID != "" {
		found, err := ix.searcher.Delete(ctx, ix.index, ix.docType, it.SearchID)
		if err != nil {
			return err
		}
		if !found {
			ix.log.Warn("document was not in the index", "path", path, "search_id", it.SearchID)
		}
	}

	if err := tx.UpdateUnindexed(ctx, path); err != nil {
		return err
	}
	return tx.Commit()
}

func (ix *Indexer) listPaths(ctx context.Context, state catalog.State, prefix string) ([]string, error) {
	var paths []string
	err := ix.store.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		paths, err = tx.ListPathsInState(ctx, state, prefix)
		return err
	})
	return paths, err
}

// Document composes the search document for one catalog row. The top-level
// language yields to a language key inside the extracted metadata, which is
// usually more specific.
func Document(it *catalog.Item) map[string]any {
	doc := map[string]any{
		"path":      it.Path,
		"tags":      strings.Split(it.Path, "/"),
		"mime_type": it.MimeType,
		"encoding":  it.Encoding,
		"language":  it.Language,
		"size":      it.Size,
		"ctime":     it.ItemCtime,
		"mtime":     it.ItemMtime,
		"meta":      it.MetaJSON,
		"text":      it.DataText,
	}
	if len(it.MetaJSON) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(it.MetaJSON, &meta); err == nil {
			if lang, ok := meta["language"].(string); ok && lang != "" {
				doc["language"] = lang
			}
		}
	}
	return doc
}
