package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// Tx is one catalog transaction. All row claims and writes made through it
// become visible at Commit and are undone by Rollback, which atomically
// returns claimed rows to their pre-claim state.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// Commit makes the transaction's writes durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogTx, "commit failed", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return stomaerr.New(stomaerr.ErrCodeCatalogTx, "rollback failed", err)
	}
	return nil
}

// KnownItem is the walker's projection of a catalog row.
type KnownItem struct {
	Path  string
	Mtime int64 // unix nanoseconds
	State State
}

// ScanUnder streams the (path, item_mtime, state) projection for every row
// under prefix, ordered by path.
func (t *Tx) ScanUnder(ctx context.Context, prefix string) ([]KnownItem, error) {
	q := t.store.rebind(fmt.Sprintf(
		`SELECT path, item_mtime, state FROM %s WHERE path LIKE ? ESCAPE '\' ORDER BY path`,
		t.store.itemTable()))
	rows, err := t.tx.QueryContext(ctx, q, likePrefix(prefix, string(filepath.Separator)))
	if err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "scan failed", err)
	}
	defer rows.Close()

	var out []KnownItem
	for rows.Next() {
		var k KnownItem
		var state string
		if err := rows.Scan(&k.Path, &k.Mtime, &state); err != nil {
			return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "scan failed", err)
		}
		k.State = State(state)
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "scan failed", err)
	}
	return out, nil
}

// ResetStatesUnder sets every settled row under prefix to unchanged. This is
// the walker's clean baseline. Rows are spared when a worker owns them
// (in-process states), when they still carry unprocessed work (need_analysis,
// e.g. parked after an extractor outage), or when their deletion already
// finished (deleted).
func (t *Tx) ResetStatesUnder(ctx context.Context, prefix string) (int64, error) {
	q := t.store.rebind(fmt.Sprintf(
		`UPDATE %s SET state = ?, row_mtime = ? WHERE path LIKE ? ESCAPE '\' AND state NOT IN (?, ?, ?, ?, ?)`,
		t.store.itemTable()))
	res, err := t.tx.ExecContext(ctx, q,
		string(StateUnchanged), time.Now().UTC(),
		likePrefix(prefix, string(filepath.Separator)),
		string(StateAnalysing), string(StateNeedIndexing), string(StateIndexing),
		string(StateNeedAnalysis), string(StateDeleted))
	if err != nil {
		return 0, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "reset failed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpsertRow carries the walker's insert/update payload for one path.
type UpsertRow struct {
	Path      string
	MimeType  string
	Encoding  string
	ItemCtime int64 // unix nanoseconds
	ItemMtime int64 // unix nanoseconds
	Size      int64
	OSStat    *StatInfo
}

// BulkUpsert inserts or updates rows, setting their state to need_analysis.
func (t *Tx) BulkUpsert(ctx context.Context, rows []UpsertRow) error {
	if len(rows) == 0 {
		return nil
	}
	q := t.store.rebind(fmt.Sprintf(`
INSERT INTO %s (path, state, mime_type, encoding, item_ctime, item_mtime, size, os_stat, row_mtime)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (path) DO UPDATE SET
    state = excluded.state,
    mime_type = excluded.mime_type,
    encoding = excluded.encoding,
    item_ctime = excluded.item_ctime,
    item_mtime = excluded.item_mtime,
    size = excluded.size,
    os_stat = excluded.os_stat,
    row_mtime = excluded.row_mtime`,
		t.store.itemTable()))

	stmt, err := t.tx.PrepareContext(ctx, q)
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogQuery, "upsert prepare failed", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		if err := ValidatePath(r.Path); err != nil {
			return err
		}
		mt, err := NormalizeMimeType(r.MimeType)
		if err != nil {
			return err
		}
		var statJSON any
		if r.OSStat != nil {
			b, err := json.Marshal(r.OSStat)
			if err != nil {
				return stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
			}
			statJSON = string(b)
		}
		_, err = stmt.ExecContext(ctx, r.Path, string(StateNeedAnalysis), mt,
			nullString(r.Encoding), r.ItemCtime, r.ItemMtime, r.Size, statJSON, now)
		if err != nil {
			return stomaerr.New(stomaerr.ErrCodeCatalogConstraint,
				fmt.Sprintf("upsert failed for %s: %v", r.Path, err), err)
		}
	}
	return nil
}

// MarkDeletion marks the given paths need_deletion, skipping in-process rows
// and rows whose deletion already finished.
func (t *Tx) MarkDeletion(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	// Batched IN lists keep the statement within placeholder limits.
	const batch = 500
	var total int64
	now := time.Now().UTC()
	for start := 0; start < len(paths); start += batch {
		end := start + batch
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		q := t.store.rebind(fmt.Sprintf(
			`UPDATE %s SET state = ?, row_mtime = ? WHERE path IN (%s) AND state NOT IN (?, ?, ?, ?)`,
			t.store.itemTable(), placeholders))

		args := make([]any, 0, len(chunk)+6)
		args = append(args, string(StateNeedDeletion), now)
		for _, p := range chunk {
			args = append(args, p)
		}
		args = append(args, string(StateAnalysing), string(StateNeedIndexing),
			string(StateIndexing), string(StateDeleted))

		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "mark deletion failed", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// ListPathsInState returns the paths currently in the given state, ordered
// ascending for deterministic processing. prefix may be empty for no scope.
func (t *Tx) ListPathsInState(ctx context.Context, state State, prefix string) ([]string, error) {
	var q string
	var args []any
	if prefix != "" {
		q = fmt.Sprintf(`SELECT path FROM %s WHERE state = ? AND path LIKE ? ESCAPE '\' ORDER BY path`,
			t.store.itemTable())
		args = []any{string(state), likePrefix(prefix, string(filepath.Separator))}
	} else {
		q = fmt.Sprintf(`SELECT path FROM %s WHERE state = ? ORDER BY path`, t.store.itemTable())
		args = []any{string(state)}
	}
	rows, err := t.tx.QueryContext(ctx, t.store.rebind(q), args...)
	if err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "list failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "list failed", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "list failed", err)
	}
	return out, nil
}

// ClaimState transitions path from one state to another as a conditional
// update. It returns false when another worker already moved the row: the
// caller must skip the row without error. On PostgreSQL the update takes the
// row lock, so two concurrent claimers serialise and exactly one wins.
func (t *Tx) ClaimState(ctx context.Context, path string, from, to State) (bool, error) {
	q := t.store.rebind(fmt.Sprintf(
		`UPDATE %s SET state = ?, row_mtime = ? WHERE path = ? AND state = ?`,
		t.store.itemTable()))
	res, err := t.tx.ExecContext(ctx, q, string(to), time.Now().UTC(), path, string(from))
	if err != nil {
		return false, stomaerr.New(stomaerr.ErrCodeCatalogQuery,
			fmt.Sprintf("claim failed for %s: %v", path, err), err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetItem loads the full row for path. Returns sql.ErrNoRows wrapped as a
// catalog error when the row does not exist.
func (t *Tx) GetItem(ctx context.Context, path string) (*Item, error) {
	q := t.store.rebind(fmt.Sprintf(`
SELECT path, state, search_id, search_version, size, item_ctime, item_mtime,
       mime_type, encoding, language, os_stat, meta_json, meta_xmp,
       data_text, data_json, data_html_head, data_html_body
FROM %s WHERE path = ?`, t.store.itemTable()))

	var it Item
	var state string
	var searchID, encoding, language, metaXMP, dataText, htmlHead, htmlBody sql.NullString
	var searchVersion sql.NullInt64
	var itemCtime, itemMtime int64
	var osStat, metaJSON, dataJSON []byte

	err := t.tx.QueryRowContext(ctx, q, path).Scan(
		&it.Path, &state, &searchID, &searchVersion, &it.Size, &itemCtime, &itemMtime,
		&it.MimeType, &encoding, &language, &osStat, &metaJSON, &metaXMP,
		&dataText, &dataJSON, &htmlHead, &htmlBody)
	if err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery,
			fmt.Sprintf("load failed for %s: %v", path, err), err)
	}

	it.State = State(state)
	it.SearchID = searchID.String
	it.SearchVersion = searchVersion.Int64
	it.ItemCtime = time.Unix(0, itemCtime).UTC()
	it.ItemMtime = time.Unix(0, itemMtime).UTC()
	it.Encoding = encoding.String
	it.Language = language.String
	it.MetaXMP = metaXMP.String
	it.DataText = dataText.String
	it.DataHTMLHead = htmlHead.String
	it.DataHTMLBody = htmlBody.String
	if len(osStat) > 0 {
		var st StatInfo
		if err := json.Unmarshal(osStat, &st); err == nil {
			it.OSStat = &st
		}
	}
	if len(metaJSON) > 0 {
		it.MetaJSON = json.RawMessage(metaJSON)
	}
	if len(dataJSON) > 0 {
		it.DataJSON = json.RawMessage(dataJSON)
	}
	return &it, nil
}

// AnalysisUpdate carries the extraction output stored by the analyser.
type AnalysisUpdate struct {
	MimeType     string
	Language     string
	MetaJSON     json.RawMessage
	MetaXMP      string
	DataText     string
	DataHTMLHead string
	DataHTMLBody string
}

// UpdateAnalysis merges the extraction result into the row and advances it
// to need_indexing. The mime type is validated at write time.
func (t *Tx) UpdateAnalysis(ctx context.Context, path string, u AnalysisUpdate) error {
	mt, err := NormalizeMimeType(u.MimeType)
	if err != nil {
		return err
	}
	var metaJSON any
	if len(u.MetaJSON) > 0 {
		metaJSON = string(u.MetaJSON)
	}
	q := t.store.rebind(fmt.Sprintf(`
UPDATE %s SET mime_type = ?, language = ?, meta_json = ?, meta_xmp = ?,
       data_text = ?, data_html_head = ?, data_html_body = ?,
       state = ?, row_mtime = ?
WHERE path = ?`, t.store.itemTable()))
	_, err = t.tx.ExecContext(ctx, q, mt, nullString(u.Language), metaJSON,
		nullString(u.MetaXMP), nullString(u.DataText),
		nullString(u.DataHTMLHead), nullString(u.DataHTMLBody),
		string(StateNeedIndexing), time.Now().UTC(), path)
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogQuery,
			fmt.Sprintf("analysis update failed for %s: %v", path, err), err)
	}
	return nil
}

// UpdateIndexed stores the search service's id and version and marks the row
// indexed.
func (t *Tx) UpdateIndexed(ctx context.Context, path, searchID string, version int64) error {
	q := t.store.rebind(fmt.Sprintf(
		`UPDATE %s SET search_id = ?, search_version = ?, state = ?, row_mtime = ? WHERE path = ?`,
		t.store.itemTable()))
	_, err := t.tx.ExecContext(ctx, q, searchID, version, string(StateIndexed),
		time.Now().UTC(), path)
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogQuery,
			fmt.Sprintf("indexed update failed for %s: %v", path, err), err)
	}
	return nil
}

// UpdateUnindexed clears the search id/version and marks the row deleted.
func (t *Tx) UpdateUnindexed(ctx context.Context, path string) error {
	q := t.store.rebind(fmt.Sprintf(
		`UPDATE %s SET search_id = NULL, search_version = NULL, state = ?, row_mtime = ? WHERE path = ?`,
		t.store.itemTable()))
	_, err := t.tx.ExecContext(ctx, q, string(StateDeleted), time.Now().UTC(), path)
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogQuery,
			fmt.Sprintf("unindexed update failed for %s: %v", path, err), err)
	}
	return nil
}

// CountStates returns the number of rows per state.
func (t *Tx) CountStates(ctx context.Context) (map[State]int, error) {
	q := fmt.Sprintf(`SELECT state, COUNT(*) FROM %s GROUP BY state`, t.store.itemTable())
	rows, err := t.tx.QueryContext(ctx, q)
	if err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "count failed", err)
	}
	defer rows.Close()

	out := make(map[State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, stomaerr.New(stomaerr.ErrCodeCatalogQuery, "count failed", err)
		}
		out[State(state)] = n
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
