package tika

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubNUL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", `{"a":"b"}`, `{"a":"b"}`},
		{"escaped", `{"a":"x\u0000y"}`, `{"a":"xy"}`},
		{"double escaped", `{"a":"x\\u0000y"}`, `{"a":"xy"}`},
		{"raw nul", "{\"a\":\"x\x00y\"}", `{"a":"xy"}`},
		{"mixed", "{\"a\":\"\\u0000\x00\"}", `{"a":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ScrubNUL([]byte(tt.in))))
		})
	}
}

func TestSplitHTML(t *testing.T) {
	head, body, err := SplitHTML(`<html><head><title>T</title></head><body><p>hi</p></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, head, "<title>T</title>")
	assert.Contains(t, body, "<p>hi</p>")
}

func TestSplitHTML_FragmentGetsImplicitSections(t *testing.T) {
	// The HTML5 parser synthesizes head and body for fragments.
	head, body, err := SplitHTML(`<p>loose</p>`)
	require.NoError(t, err)
	assert.NotEmpty(t, head)
	assert.Contains(t, body, "<p>loose</p>")
}

func TestExtract_ComposesAllProbes(t *testing.T) {
	fn := testFile(t, "some text content")

	var detectCT string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detect/stream":
			io.WriteString(w, "text/plain")
		case "/language/stream":
			// Detected type must be forwarded to later probes.
			detectCT = r.Header.Get("Content-Type")
			io.WriteString(w, "en")
		case "/meta":
			if r.Header.Get("Accept") == "application/json" {
				io.WriteString(w, `{"Content-Type":"text/plain","X":"a\u0000b"}`)
			} else {
				io.WriteString(w, `<rdf:RDF/>`)
			}
		case "/tika":
			if r.Header.Get("Accept") == "text/html" {
				io.WriteString(w, `<html><head><meta name="t"/></head><body>some text</body></html>`)
			} else {
				io.WriteString(w, "some text content\n")
			}
		default:
			http.NotFound(w, r)
		}
	}))

	res, err := c.Extract(context.Background(), fn)
	require.NoError(t, err)

	assert.Equal(t, "text/plain", res.MimeType)
	assert.Equal(t, "text/plain", detectCT)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, "some text content", res.DataText)
	assert.Contains(t, res.DataHTMLHead, `name="t"`)
	assert.Contains(t, res.DataHTMLBody, "some text")
	assert.Equal(t, "<rdf:RDF/>", res.MetaXMP)

	require.True(t, json.Valid(res.MetaJSON))
	var meta map[string]string
	require.NoError(t, json.Unmarshal(res.MetaJSON, &meta))
	assert.Equal(t, "ab", meta["X"], "NUL escapes must be scrubbed")
}

func TestExtract_ProbeFailureFailsWhole(t *testing.T) {
	fn := testFile(t, "x")

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/detect/stream" {
			io.WriteString(w, "text/plain")
			return
		}
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))

	_, err := c.Extract(context.Background(), fn)
	require.Error(t, err)
}
