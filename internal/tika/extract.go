package tika

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// Result is the composed extraction bundle for one file.
// All fields except MimeType are optional.
type Result struct {
	MimeType     string
	Language     string
	MetaJSON     json.RawMessage // NUL-scrubbed
	MetaXMP      string
	DataText     string
	DataHTMLHead string
	DataHTMLBody string
}

// Extract runs all probes against the file and composes one result.
// The detected content type is fed into the subsequent probes so the server
// does not have to re-detect per call. Any probe failure fails the whole
// extraction; the caller's transaction aborts and the row is retried later.
func (c *Client) Extract(ctx context.Context, fn string) (*Result, error) {
	hh := make(http.Header)

	ct, err := c.Detect(ctx, fn, hh)
	if err != nil {
		return nil, err
	}
	hh.Set("Content-Type", ct)

	r := &Result{MimeType: ct}

	lang, err := c.Language(ctx, fn, hh)
	if err != nil {
		return nil, err
	}
	r.Language = lang

	metaJSON, err := c.Meta(ctx, fn, MetaJSON, hh)
	if err != nil {
		return nil, err
	}
	if metaJSON != "" {
		scrubbed := ScrubNUL([]byte(metaJSON))
		if !json.Valid(scrubbed) {
			return nil, stomaerr.New(stomaerr.ErrCodeRemoteBadResponse,
				"meta response is not valid JSON", nil)
		}
		r.MetaJSON = scrubbed
	}

	metaXMP, err := c.Meta(ctx, fn, MetaXMP, hh)
	if err != nil {
		return nil, err
	}
	r.MetaXMP = metaXMP

	htmlDoc, err := c.Render(ctx, fn, RenderHTML, hh)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(htmlDoc) != "" {
		head, body, err := SplitHTML(htmlDoc)
		if err != nil {
			return nil, err
		}
		r.DataHTMLHead = head
		r.DataHTMLBody = body
	}

	text, err := c.Render(ctx, fn, RenderText, hh)
	if err != nil {
		return nil, err
	}
	r.DataText = strings.TrimSpace(text)

	return r, nil
}

// ScrubNUL strips every NUL representation from serialized JSON before it
// reaches the catalog driver: the double-escaped form first, then the
// escaped form, then raw NUL bytes.
func ScrubNUL(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte(`\\u0000`), nil)
	b = bytes.ReplaceAll(b, []byte(`\u0000`), nil)
	b = bytes.ReplaceAll(b, []byte{0}, nil)
	return b
}

// SplitHTML parses an HTML rendering and returns its <head> and <body>
// serialized separately as UTF-8.
func SplitHTML(doc string) (head string, body string, err error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", "", stomaerr.New(stomaerr.ErrCodeRemoteBadResponse,
			"cannot parse HTML rendering", err)
	}

	var headNode, bodyNode *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "head":
				if headNode == nil {
					headNode = n
				}
			case "body":
				if bodyNode == nil {
					bodyNode = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	render := func(n *html.Node) (string, error) {
		if n == nil {
			return "", nil
		}
		var sb strings.Builder
		if err := html.Render(&sb, n); err != nil {
			return "", err
		}
		return sb.String(), nil
	}

	if head, err = render(headNode); err != nil {
		return "", "", stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
	}
	if body, err = render(bodyNode); err != nil {
		return "", "", stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
	}
	return head, body, nil
}
