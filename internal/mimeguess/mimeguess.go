// Package mimeguess guesses a file's mime type and encoding from its name,
// falling back to content sniffing when the extension is unknown.
//
// The guess is a cheap classify-time verdict; the analyser later replaces it
// with the extraction service's more accurate one.
package mimeguess

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize bounds the extension-verdict cache for long runs over large trees.
const cacheSize = 4096

type verdict struct {
	mimeType string
	encoding string
}

// Guesser resolves filenames to (mime type, encoding) pairs.
type Guesser struct {
	extCache *lru.Cache[string, verdict]
}

// New creates a Guesser.
func New() (*Guesser, error) {
	cache, err := lru.New[string, verdict](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Guesser{extCache: cache}, nil
}

// Guess returns the mime type and encoding for the given filename.
// The extension table is consulted first; unknown extensions fall back to
// sniffing the file content. The result is always lowercase and contains a
// slash. Encoding may be empty.
func (g *Guesser) Guess(path string) (string, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" {
		if v, ok := g.extCache.Get(ext); ok {
			return v.mimeType, v.encoding
		}
		if mt := mime.TypeByExtension(ext); mt != "" {
			v := splitTypeParams(mt)
			g.extCache.Add(ext, v)
			return v.mimeType, v.encoding
		}
	}

	// Unknown extension: sniff the content. Sniff errors (unreadable file,
	// empty file) fall through to the default type.
	if mt, err := mimetype.DetectFile(path); err == nil && mt != nil {
		v := splitTypeParams(mt.String())
		return v.mimeType, v.encoding
	}
	return "application/octet-stream", ""
}

// splitTypeParams separates "text/plain; charset=utf-8" into type and
// encoding.
func splitTypeParams(mt string) verdict {
	mediaType, params, err := mime.ParseMediaType(mt)
	if err != nil {
		return verdict{mimeType: strings.ToLower(strings.TrimSpace(mt))}
	}
	return verdict{
		mimeType: strings.ToLower(mediaType),
		encoding: params["charset"],
	}
}
