package tika

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pym-cms/stoma/internal/config"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := New(config.ServiceConfig{Host: host, Port: port, Timeout: 5 * time.Second})
	// Single attempt keeps failure tests fast.
	c.retry = stomaerr.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return c
}

func testFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/version", r.URL.Path)
		io.WriteString(w, "Apache Tika 2.9.1\n")
	}))

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Apache Tika 2.9.1", v)
}

func TestDetect_SendsFileWithDisposition(t *testing.T) {
	fn := testFile(t, "hello world")

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/detect/stream", r.URL.Path)

		disp, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition"))
		require.NoError(t, err)
		assert.Equal(t, "attachment", disp)
		assert.Equal(t, fn, params["filename"])

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello world", string(body))

		io.WriteString(w, "text/plain\n")
	}))

	ct, err := c.Detect(context.Background(), fn, nil)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ct)
}

func TestDetect_AwkwardFilenameStaysParseable(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, `annual "report" 2024.txt`)
	require.NoError(t, os.WriteFile(fn, []byte("x"), 0o644))

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Quotes and spaces in the path must survive header encoding.
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition"))
		require.NoError(t, err)
		assert.Equal(t, fn, params["filename"])
		io.WriteString(w, "text/plain")
	}))

	_, err := c.Detect(context.Background(), fn, nil)
	require.NoError(t, err)
}

func TestMeta_SetsAcceptPerKind(t *testing.T) {
	fn := testFile(t, "x")

	var gotAccept string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		io.WriteString(w, `{"Content-Type":"text/plain"}`)
	}))

	_, err := c.Meta(context.Background(), fn, MetaJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotAccept)

	_, err = c.Meta(context.Background(), fn, MetaXMP, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/rdf+xml", gotAccept)
}

func TestRender_SetsAcceptCharset(t *testing.T) {
	fn := testFile(t, "x")

	var gotAccept, gotCharset string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotCharset = r.Header.Get("Accept-Charset")
		io.WriteString(w, "<html><body>x</body></html>")
	}))

	_, err := c.Render(context.Background(), fn, RenderHTML, nil)
	require.NoError(t, err)
	assert.Equal(t, "text/html", gotAccept)
	assert.Equal(t, "unicode-1-1; q=1.0", gotCharset)
}

func TestRmeta_RejectsInvalidJSON(t *testing.T) {
	fn := testFile(t, "x")

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))

	_, err := c.Rmeta(context.Background(), fn, nil)
	require.Error(t, err)
	assert.Equal(t, stomaerr.ErrCodeRemoteBadResponse, stomaerr.GetCode(err))
}

func TestPut_ServerErrorIsTransient(t *testing.T) {
	fn := testFile(t, "x")

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))

	_, err := c.Detect(context.Background(), fn, nil)
	require.Error(t, err)
	assert.Equal(t, stomaerr.ErrCodeRemoteServerError, stomaerr.GetCode(err))
	assert.True(t, stomaerr.IsRetryable(err))
}

func TestPut_ClientErrorIsPermanent(t *testing.T) {
	fn := testFile(t, "x")

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
	}))

	_, err := c.Detect(context.Background(), fn, nil)
	require.Error(t, err)
	assert.Equal(t, stomaerr.ErrCodeRemoteRejected, stomaerr.GetCode(err))
	assert.False(t, stomaerr.IsRetryable(err))
}

func TestPut_RetriesTransientThenSucceeds(t *testing.T) {
	fn := testFile(t, "payload")

	attempts := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		body, _ := io.ReadAll(r.Body)
		// The file must be re-sent whole on every attempt.
		assert.Equal(t, "payload", string(body))
		if attempts == 1 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "text/plain")
	}))
	c.retry = stomaerr.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	ct, err := c.Detect(context.Background(), fn, nil)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ct)
	assert.Equal(t, 2, attempts)
}

func TestIsRunning(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	assert.True(t, c.IsRunning())

	down := New(config.ServiceConfig{Host: "127.0.0.1", Port: 1, Timeout: time.Second})
	assert.False(t, down.IsRunning())
}

func TestPut_MissingFile(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := c.Detect(context.Background(), filepath.Join(t.TempDir(), "gone.txt"), nil)
	require.Error(t, err)
	assert.Equal(t, stomaerr.ErrCodeStatFailed, stomaerr.GetCode(err))
}
