// Package elastic is the client for the full-text search service.
// Documents live under {index}/{kind}/{id}; the server assigns the id on
// first publish and bumps the version on every subsequent one.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pym-cms/stoma/internal/config"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// SaveResult carries the identity the server assigned to a published
// document.
type SaveResult struct {
	ID      string `json:"_id"`
	Version int64  `json:"_version"`
}

// Client talks to an ElasticSearch-compatible server over HTTP. It is
// stateless with respect to sessions and safe to share between workers.
type Client struct {
	host    string
	port    int
	baseURL string
	hc      *http.Client
	retry   stomaerr.RetryConfig
}

// New creates a Client for the configured search service.
func New(cfg config.SearchConfig) *Client {
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

// Hello returns the server's root document (cluster name, version, tagline).
func (c *Client) Hello(ctx context.Context) (map[string]any, error) {
	var d map[string]any
	if err := c.do(ctx, http.MethodGet, "/", nil, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Version formats the server's identity into one line.
func (c *Client) Version(ctx context.Context) (string, error) {
	d, err := c.Hello(ctx)
	if err != nil {
		return "", err
	}
	ver, _ := d["version"].(map[string]any)
	return fmt.Sprintf("Cluster %v %v (%v), Lucene %v. %v",
		d["cluster_name"], ver["number"], d["name"], ver["lucene_version"], d["tagline"]), nil
}

// Count returns the number of documents across all indices.
func (c *Client) Count(ctx context.Context) (int64, error) {
	q := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/_count", q, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Save publishes a document. With an id the document is upserted at that id
// (PUT); without one the server assigns an id (POST). When create is true the
// call fails if the id already exists.
func (c *Client) Save(ctx context.Context, index, kind string, doc any, id string, create bool) (*SaveResult, error) {
	if create && id == "" {
		return nil, stomaerr.New(stomaerr.ErrCodeInvalidState,
			"to force document creation, id must be given", nil)
	}

	var method, path string
	if id != "" {
		method = http.MethodPut
		path = fmt.Sprintf("/%s/%s/%s", index, kind, url.PathEscape(id))
		if create {
			path += "/_create"
		}
	} else {
		method = http.MethodPost
		path = fmt.Sprintf("/%s/%s/", index, kind)
	}

	var res SaveResult
	if err := c.do(ctx, method, path, doc, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Load fetches a document. With sourceOnly the bare source is returned,
// without the server's envelope.
func (c *Client) Load(ctx context.Context, index, kind, id string, sourceOnly bool) (json.RawMessage, error) {
	path := fmt.Sprintf("/%s/%s/%s", index, kind, url.PathEscape(id))
	if sourceOnly {
		path += "/_source"
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Exists reports whether the document is present. 200 means yes, 404 means
// no, anything else is an error.
func (c *Client) Exists(ctx context.Context, index, kind, id string) (bool, error) {
	path := fmt.Sprintf("/%s/%s/%s", index, kind, url.PathEscape(id))
	return c.yesNo(ctx, http.MethodHead, path)
}

// Delete removes the document. Returns false, without error, when the
// document was not there.
func (c *Client) Delete(ctx context.Context, index, kind, id string) (bool, error) {
	path := fmt.Sprintf("/%s/%s/%s", index, kind, url.PathEscape(id))
	return c.yesNo(ctx, http.MethodDelete, path)
}

// Search runs a query-string search ("field:value") against the index.
func (c *Client) Search(ctx context.Context, index, kind, q string) (json.RawMessage, error) {
	path := fmt.Sprintf("/%s/%s/_search?q=%s", index, kind, url.QueryEscape(q))
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SearchBody runs a structured query against the index.
func (c *Client) SearchBody(ctx context.Context, index, kind string, q any) (json.RawMessage, error) {
	path := fmt.Sprintf("/%s/%s/_search", index, kind)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, q, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// CreateIndex creates the index, optionally with settings and mappings.
func (c *Client) CreateIndex(ctx context.Context, index string, settings any) error {
	return c.do(ctx, http.MethodPut, "/"+index+"/", settings, nil)
}

// DeleteIndex removes the index and all its documents.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	return c.do(ctx, http.MethodDelete, "/"+index+"/", nil, nil)
}

// do sends one JSON request and decodes the JSON response into out (when out
// is non-nil). Transient failures are retried with backoff.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := stomaerr.RetryWithResult(ctx, c.retry, func() (struct{}, error) {
		return struct{}{}, c.doOnce(ctx, method, path, body, out)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeRemoteUnavailable,
			fmt.Sprintf("search request failed: %v", err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return stomaerr.New(stomaerr.ErrCodeRemoteBadResponse, "truncated response", err)
	}
	if err := statusError(resp.StatusCode, raw); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return stomaerr.New(stomaerr.ErrCodeRemoteBadResponse,
			"search response is not valid JSON", err)
	}
	return nil
}

// yesNo maps 2xx to true and 404 to false; everything else is an error.
func (c *Client) yesNo(ctx context.Context, method, path string) (bool, error) {
	return stomaerr.RetryWithResult(ctx, c.retry, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return false, stomaerr.Wrap(stomaerr.ErrCodeInternal, err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return false, stomaerr.New(stomaerr.ErrCodeRemoteUnavailable,
				fmt.Sprintf("search request failed: %v", err), err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return true, nil
		default:
			return false, statusError(resp.StatusCode, raw)
		}
	})
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch {
	case code >= 500:
		return stomaerr.New(stomaerr.ErrCodeRemoteServerError,
			fmt.Sprintf("server error %d: %s", code, msg), nil)
	case code >= 400:
		return stomaerr.New(stomaerr.ErrCodeRemoteRejected,
			fmt.Sprintf("request rejected %d: %s", code, msg), nil)
	}
	return nil
}
