package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// MimeTypeDefault is assigned when no better verdict exists.
const MimeTypeDefault = "application/octet-stream"

// MaxPathLen is the catalog's path column width.
const MaxPathLen = 1024

// StatInfo is the structured snapshot of the filesystem stat result,
// persisted alongside the item.
type StatInfo struct {
	Mode  uint32 `json:"st_mode"`
	Ino   uint64 `json:"st_ino"`
	Dev   uint64 `json:"st_dev"`
	Nlink uint64 `json:"st_nlink"`
	UID   uint32 `json:"st_uid"`
	GID   uint32 `json:"st_gid"`
	Size  int64  `json:"st_size"`
	Atime int64  `json:"st_atime"`
	Mtime int64  `json:"st_mtime"`
	Ctime int64  `json:"st_ctime"`
}

// Item is one catalog record per filesystem path under an indexed root.
// Path is the primary key.
type Item struct {
	Path  string
	State State

	// SearchID and SearchVersion are assigned by the search service after a
	// successful publish. Empty/zero means never published.
	SearchID      string
	SearchVersion int64

	Size      int64
	ItemCtime time.Time
	ItemMtime time.Time

	MimeType string
	Encoding string
	Language string

	OSStat *StatInfo
	Xattr  json.RawMessage // reserved

	MetaJSON     json.RawMessage
	MetaXMP      string
	DataText     string
	DataJSON     json.RawMessage
	DataHTMLHead string
	DataHTMLBody string

	RowCtime time.Time
	RowMtime time.Time
}

// NormalizeMimeType lowercases the mime type and validates its shape.
// A valid type always contains a slash ("text/plain").
func NormalizeMimeType(mt string) (string, error) {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" || !strings.Contains(mt, "/") {
		return "", stomaerr.New(stomaerr.ErrCodeInvalidMimeType,
			fmt.Sprintf("invalid mime type %q", mt), nil)
	}
	return mt, nil
}

// ValidatePath checks the path fits the catalog's primary key column.
func ValidatePath(path string) error {
	if path == "" || len(path) > MaxPathLen {
		return stomaerr.New(stomaerr.ErrCodeInvalidPath,
			fmt.Sprintf("path empty or longer than %d chars", MaxPathLen), nil)
	}
	return nil
}
