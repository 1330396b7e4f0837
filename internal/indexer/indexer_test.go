package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pym-cms/stoma/internal/catalog"
	"github.com/pym-cms/stoma/internal/config"
	"github.com/pym-cms/stoma/internal/elastic"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

type stubSearcher struct {
	running  bool
	nextID   int
	versions map[string]int64
	docs     map[string]map[string]any
	saves    []string
	deletes  []string
	saveErr  error
}

func newStubSearcher() *stubSearcher {
	return &stubSearcher{
		running:  true,
		versions: make(map[string]int64),
		docs:     make(map[string]map[string]any),
	}
}

func (s *stubSearcher) IsRunning() bool { return s.running }

func (s *stubSearcher) Save(_ context.Context, _, _ string, doc any, id string, _ bool) (*elastic.SaveResult, error) {
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	if id == "" {
		s.nextID++
		id = fmt.Sprintf("id-%d", s.nextID)
	}
	s.versions[id]++
	s.docs[id] = doc.(map[string]any)
	s.saves = append(s.saves, id)
	return &elastic.SaveResult{ID: id, Version: s.versions[id]}, nil
}

func (s *stubSearcher) Delete(_ context.Context, _, _ string, id string) (bool, error) {
	s.deletes = append(s.deletes, id)
	_, ok := s.docs[id]
	delete(s.docs, id)
	return ok, nil
}

func testStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(config.DBConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

// seedNeedIndexing inserts a row and walks it through analysis so it carries
// extraction output.
func seedNeedIndexing(t *testing.T, s *catalog.Store, path string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := tx.BulkUpsert(ctx, []catalog.UpsertRow{{
			Path: path, MimeType: "application/octet-stream",
			ItemCtime: 100, ItemMtime: 100, Size: 5,
		}}); err != nil {
			return err
		}
		ok, err := tx.ClaimState(ctx, path, catalog.StateNeedAnalysis, catalog.StateAnalysing)
		require.True(t, ok)
		if err != nil {
			return err
		}
		return tx.UpdateAnalysis(ctx, path, catalog.AnalysisUpdate{
			MimeType: "text/plain",
			Language: "en",
			MetaJSON: json.RawMessage(`{"Content-Type":"text/plain"}`),
			DataText: "body of " + path,
		})
	}))
}

func itemOf(t *testing.T, s *catalog.Store, path string) *catalog.Item {
	t.Helper()
	ctx := context.Background()
	var it *catalog.Item
	require.NoError(t, s.WithTx(ctx, func(tx *catalog.Tx) error {
		var err error
		it, err = tx.GetItem(ctx, path)
		return err
	}))
	return it
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndex_RefusesWhenSearchDown(t *testing.T) {
	s := testStore(t)
	search := newStubSearcher()
	search.running = false

	err := New(discard(), s, search, "files", "file").Index(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, stomaerr.ErrCodeRemoteUnavailable, stomaerr.GetCode(err))
}

func TestIndex_PublishesAndStoresIdentity(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	seedNeedIndexing(t, s, "/r/x.txt")
	search := newStubSearcher()

	require.NoError(t, New(discard(), s, search, "files", "file").Index(ctx, ""))

	it := itemOf(t, s, "/r/x.txt")
	assert.Equal(t, catalog.StateIndexed, it.State)
	assert.Equal(t, "id-1", it.SearchID)
	assert.Equal(t, int64(1), it.SearchVersion)

	doc := search.docs["id-1"]
	assert.Equal(t, "/r/x.txt", doc["path"])
	assert.Equal(t, []string{"", "r", "x.txt"}, doc["tags"])
	assert.Equal(t, "text/plain", doc["mime_type"])
	assert.Equal(t, "body of /r/x.txt", doc["text"])
}

func TestIndex_RepublishKeepsSearchID(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	seedNeedIndexing(t, s, "/r/x.txt")
	search := newStubSearcher()
	ix := New(discard(), s, search, "files", "file")

	require.NoError(t, ix.Index(ctx, ""))

	// The file changes again: back through analysis, then re-publish.
	seedNeedIndexing(t, s, "/r/x.txt")
	require.NoError(t, ix.Index(ctx, ""))

	it := itemOf(t, s, "/r/x.txt")
	assert.Equal(t, "id-1", it.SearchID)
	assert.Equal(t, int64(2), it.SearchVersion)
	assert.Equal(t, []string{"id-1", "id-1"}, search.saves)
}

func TestIndex_LanguageOverriddenByMeta(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	path := "/r/x.txt"
	require.NoError(t, s.WithTx(ctx, func(tx *catalog.Tx) error {
		if err := tx.BulkUpsert(ctx, []catalog.UpsertRow{{
			Path: path, MimeType: "application/octet-stream",
			ItemCtime: 100, ItemMtime: 100, Size: 5,
		}}); err != nil {
			return err
		}
		ok, err := tx.ClaimState(ctx, path, catalog.StateNeedAnalysis, catalog.StateAnalysing)
		require.True(t, ok)
		if err != nil {
			return err
		}
		return tx.UpdateAnalysis(ctx, path, catalog.AnalysisUpdate{
			MimeType: "text/plain",
			Language: "en",
			MetaJSON: json.RawMessage(`{"language":"de"}`),
		})
	}))
	search := newStubSearcher()

	require.NoError(t, New(discard(), s, search, "files", "file").Index(ctx, ""))
	assert.Equal(t, "de", search.docs["id-1"]["language"])
}

func TestIndex_FailedPublishRollsBackRow(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	seedNeedIndexing(t, s, "/r/x.txt")
	search := newStubSearcher()
	search.saveErr = stomaerr.New(stomaerr.ErrCodeRemoteServerError, "503", nil)

	require.NoError(t, New(discard(), s, search, "files", "file").Index(ctx, ""))

	it := itemOf(t, s, "/r/x.txt")
	assert.Equal(t, catalog.StateNeedIndexing, it.State)
	assert.Empty(t, it.SearchID)
}

func TestIndex_DeletePassRemovesAndClears(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	seedNeedIndexing(t, s, "/r/x.txt")
	search := newStubSearcher()
	ix := New(discard(), s, search, "files", "file")
	require.NoError(t, ix.Index(ctx, ""))

	// File vanished; walker marked the row.
	require.NoError(t, s.WithTx(ctx, func(tx *catalog.Tx) error {
		ok, err := tx.ClaimState(ctx, "/r/x.txt", catalog.StateIndexed, catalog.StateNeedDeletion)
		require.True(t, ok)
		return err
	}))

	require.NoError(t, ix.Index(ctx, ""))

	it := itemOf(t, s, "/r/x.txt")
	assert.Equal(t, catalog.StateDeleted, it.State)
	assert.Empty(t, it.SearchID)
	assert.Zero(t, it.SearchVersion)
	assert.Equal(t, []string{"id-1"}, search.deletes)
}

func TestIndex_DeleteNotFoundIsWarnedNotFatal(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	seedNeedIndexing(t, s, "/r/x.txt")
	search := newStubSearcher()
	ix := New(discard(), s, search, "files", "file")
	require.NoError(t, ix.Index(ctx, ""))

	// The document disappears server-side before the delete pass runs.
	delete(search.docs, "id-1")
	require.NoError(t, s.WithTx(ctx, func(tx *catalog.Tx) error {
		ok, err := tx.ClaimState(ctx, "/r/x.txt", catalog.StateIndexed, catalog.StateNeedDeletion)
		require.True(t, ok)
		return err
	}))

	require.NoError(t, ix.Index(ctx, ""))
	assert.Equal(t, catalog.StateDeleted, itemOf(t, s, "/r/x.txt").State)
}

func TestIndex_NoQueueMeansNoSearchCalls(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	search := newStubSearcher()

	require.NoError(t, New(discard(), s, search, "files", "file").Index(ctx, ""))
	assert.Empty(t, search.saves)
	assert.Empty(t, search.deletes)
}
