// Package tika is the client for the content-analysis (extraction) service.
// MIME detection, language detection, metadata extraction, and text/HTML
// rendering are orthogonal probes over the same file; Extract composes them
// into one result.
package tika

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pym-cms/stoma/internal/config"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// MetaKind selects the metadata representation.
type MetaKind string

// RenderKind selects the content rendering.
type RenderKind string

const (
	MetaJSON MetaKind = "json"
	MetaXMP  MetaKind = "xmp"

	RenderText RenderKind = "text"
	RenderHTML RenderKind = "html"
)

var acceptHeader = map[string]string{
	"json": "application/json",
	"xmp":  "application/rdf+xml",
	"text": "text/plain",
	"html": "text/html",
}

// Client talks to a Tika server over HTTP. It is stateless with respect to
// sessions and safe to share between workers.
type Client struct {
	host    string
	port    int
	baseURL string
	hc      *http.Client
	retry   stomaerr.RetryConfig
}

// New creates a Client for the configured extraction service.
func New(cfg config.ServiceConfig) *Client {
	return &Client{
		host:    cfg.Host,
		port:    cfg.Port,
		baseURL: fmt.Sprintf("http://%s", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		hc:      &http.Client{Timeout: cfg.Timeout},
		retry:   stomaerr.DefaultRetryConfig(),
	}
}

// SetRetry replaces the backoff policy for transient failures.
func (c *Client) SetRetry(rc stomaerr.RetryConfig) {
	c.retry = rc
}

// IsRunning probes the service with a plain TCP connect.
// Other operations may fail even when the probe succeeds.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("tcp",
		net.JoinHostPort(c.host, strconv.Itoa(c.port)), 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Version returns the server's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return "", stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", stomaerr.New(stomaerr.ErrCodeRemoteUnavailable, "extractor unreachable", err)
	}
	defer resp.Body.Close()
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// Detect returns the accurate content type of the file.
func (c *Client) Detect(ctx context.Context, fn string, hh http.Header) (string, error) {
	s, err := c.put(ctx, "/detect/stream", fn, hh)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Language returns the identified language code, or empty when unknown.
func (c *Client) Language(ctx context.Context, fn string, hh http.Header) (string, error) {
	s, err := c.put(ctx, "/language/stream", fn, hh)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Meta returns the file's metadata as JSON or XMP.
func (c *Client) Meta(ctx context.Context, fn string, kind MetaKind, hh http.Header) (string, error) {
	h := cloneHeader(hh)
	h.Set("Accept", acceptHeader[string(kind)])
	return c.put(ctx, "/meta", fn, h)
}

// Render returns the text or HTML rendering of the file's content.
func (c *Client) Render(ctx context.Context, fn string, kind RenderKind, hh http.Header) (string, error) {
	h := cloneHeader(hh)
	h.Set("Accept", acceptHeader[string(kind)])
	h.Set("Accept-Charset", "unicode-1-1; q=1.0")
	return c.put(ctx, "/tika", fn, h)
}

// Rmeta returns recursive metadata about a compound document. Each entry
// describes one embedded document.
func (c *Client) Rmeta(ctx context.Context, fn string, hh http.Header) (json.RawMessage, error) {
	s, err := c.put(ctx, "/rmeta", fn, hh)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(s)
	if !json.Valid(raw) {
		return nil, stomaerr.New(stomaerr.ErrCodeRemoteBadResponse,
			"rmeta response is not valid JSON", nil)
	}
	return raw, nil
}

// Unpack returns the compound document's parts as a ZIP archive.
// When all is true, embedded documents are unpacked recursively.
func (c *Client) Unpack(ctx context.Context, fn string, all bool, hh http.Header) ([]byte, error) {
	h := cloneHeader(hh)
	h.Set("Content-Type", "application/zip")
	path := "/unpack"
	if all {
		path += "/all"
	}
	s, err := c.put(ctx, path, fn, h)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return []byte(s), nil
}

// put sends the file as the PUT body with a content-disposition header,
// retrying transient failures with backoff. The file is reopened per attempt
// because the body is consumed.
func (c *Client) put(ctx context.Context, path, fn string, hh http.Header) (string, error) {
	return stomaerr.RetryWithResult(ctx, c.retry, func() (string, error) {
		return c.putOnce(ctx, path, fn, hh)
	})
}

func (c *Client) putOnce(ctx context.Context, path, fn string, hh http.Header) (string, error) {
	f, err := os.Open(fn)
	if err != nil {
		return "", stomaerr.New(stomaerr.ErrCodeStatFailed,
			fmt.Sprintf("cannot open %s", fn), err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, f)
	if err != nil {
		return "", stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
	}
	for k, vv := range hh {
		for _, v := range vv {
			req.Header.Set(k, v)
		}
	}
	// FormatMediaType quotes or RFC 2231-encodes the filename, so paths with
	// spaces, quotes, or non-ASCII runes stay parseable on the server side.
	req.Header.Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": fn}))

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", stomaerr.New(stomaerr.ErrCodeRemoteUnavailable,
			fmt.Sprintf("extractor request failed: %v", err), err)
	}
	defer resp.Body.Close()
	return readBody(resp)
}

// readBody converts the HTTP status into the error taxonomy and returns the
// body as UTF-8 text.
func readBody(resp *http.Response) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", stomaerr.New(stomaerr.ErrCodeRemoteBadResponse, "truncated response", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return "", stomaerr.New(stomaerr.ErrCodeRemoteServerError,
			fmt.Sprintf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	case resp.StatusCode >= 400:
		return "", stomaerr.New(stomaerr.ErrCodeRemoteRejected,
			fmt.Sprintf("request rejected %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	return string(body), nil
}

func cloneHeader(hh http.Header) http.Header {
	h := make(http.Header, len(hh)+2)
	for k, vv := range hh {
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	return h
}
