package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(nil)
	res := c.Open(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.Equal(t, FailureNone, res.Kind)
	require.NotNil(t, res.Response)
	res.Response.Body.Close()
}

func TestOpenRetriesTransientFailureThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(nil)
	res := c.Open(context.Background(), Request{Method: "GET", URL: srv.URL, Retry: 3, Interval: time.Millisecond})
	require.Equal(t, FailureNone, res.Kind)
	assert.Equal(t, int32(3), calls.Load())
	res.Response.Body.Close()
}

func TestOpenDoesNotRetry404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil)
	res := c.Open(context.Background(), Request{Method: "GET", URL: srv.URL, Retry: 5, Interval: time.Millisecond})
	assert.Equal(t, FailureHTTPStatus, res.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenDoesNotRetry403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(nil)
	res := c.Open(context.Background(), Request{Method: "GET", URL: srv.URL, Retry: 5, Interval: time.Millisecond})
	assert.Equal(t, FailureHTTPStatus, res.Kind)
}

func TestOpenExhaustsRetriesOnPersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(nil)
	res := c.Open(context.Background(), Request{Method: "GET", URL: srv.URL, Retry: 2, Interval: time.Millisecond})
	assert.Equal(t, FailureHTTPStatus, res.Kind)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenEnforcesPerRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(nil)
	start := time.Now()
	res := c.Open(context.Background(), Request{Method: "GET", URL: srv.URL, Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	assert.Equal(t, FailureConnect, res.Kind)
	assert.Less(t, elapsed, 2*time.Second, "a stuck server read must be bounded by req.Timeout, not block forever")
}

func TestApplyHeaderDefaults(t *testing.T) {
	req, err := http.NewRequest("GET", "http://example.com/file.zip", nil)
	require.NoError(t, err)
	applyHeaderDefaults(req, http.Header{}, "")
	assert.Equal(t, "example.com", req.Host)
	assert.Equal(t, "http://example.com", req.Header.Get("Referer"))
	assert.NotEmpty(t, req.Header.Get("User-Agent"))
}

func TestApplyHeaderDefaultsRespectsPageURL(t *testing.T) {
	req, err := http.NewRequest("GET", "http://example.com/file.zip", nil)
	require.NoError(t, err)
	applyHeaderDefaults(req, http.Header{}, "http://referrer.example/page")
	assert.Equal(t, "http://referrer.example/page", req.Header.Get("Referer"))
}

func TestPercentEncodeURLPreservesSafeChars(t *testing.T) {
	in := "http://example.com/a b/c?x=1&y=2#frag"
	out := percentEncodeURL(in)
	assert.Equal(t, "http://example.com/a%20b/c?x=1&y=2#frag", out)
}

func TestDetectCharsetFromContentType(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Content-Type": {"text/plain; charset=ISO-8859-1"}}}
	assert.Equal(t, "iso-8859-1", detectCharset(resp))
}

func TestURLHost(t *testing.T) {
	assert.Equal(t, "example.com", URLHost("https://example.com/a/b"))
	assert.Equal(t, "", URLHost("://bad"))
}
