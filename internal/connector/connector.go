// Package connector issues HTTP requests with retry/backoff, applies
// header defaults, detects response charset, and classifies failures
// (spec.md §4.4, component C4). Grounded on the teacher's
// newConcurrentClient (internal/engine/concurrent/downloader.go) for
// transport tuning and on the original DownloadKit's _make_response
// (_examples/original_source/DownloadKit/downloadKit.py) for the
// retry/header/charset algorithm.
package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/fetchkit/fetch/internal/config"
)

// FailureKind classifies why Open did not yield a usable stream.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureConnect
	FailureHTTPStatus
)

// Request describes one mission/task-level HTTP request.
type Request struct {
	Method  string // GET, POST or HEAD
	URL     string
	Headers http.Header
	Body    func() io.Reader // re-invoked on each retry attempt; nil for no body
	Timeout time.Duration
	Retry   int
	Interval time.Duration
	PageURL string // configured referer page, if any
}

// Result is what Open returns: either a live stream or a failure
// description, never both.
type Result struct {
	Response *http.Response
	Charset  string
	Kind     FailureKind
	Info     string
}

// statusesNotRetried are terminal client errors the source never
// retries (spec.md §4.4 step 4; §9 Open Question on retry class).
var statusesNotRetried = map[int]bool{
	http.StatusForbidden: true,
	http.StatusNotFound:  true,
}

var metaCharset = regexp.MustCompile(`(?i)<meta[^>]*charset=["']?\s*([^"'\s/>]+)`)
var headerCharset = regexp.MustCompile(`(?i)charset\s*[=:]\s*([^;]+)`)

// Connector wraps a tuned *http.Client.
type Connector struct {
	client *http.Client
}

// New builds a Connector. If client is nil, a client tuned the way the
// teacher tunes its concurrent-download transport is constructed.
func New(client *http.Client) *Connector {
	if client == nil {
		client = defaultClient()
	}
	return &Connector{client: client}
}

func defaultClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     config.DefaultIdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   config.DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{Transport: transport}
}

// Open issues req, retrying transient failures up to req.Retry+1
// total attempts, and returns either a streaming response or a
// failure classification. Never returns both a live *http.Response
// and a non-nil error path — callers select on Result.Kind.
func (c *Connector) Open(ctx context.Context, req Request) Result {
	if req.URL == "" {
		return Result{Kind: FailureConnect, Info: "url is empty"}
	}

	var lastResp *http.Response
	var lastErr error

	attempts := req.Retry + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{Kind: FailureConnect, Info: ctx.Err().Error()}
			case <-time.After(req.Interval):
			}
		}

		resp, err := c.attempt(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			charset := detectCharset(resp)
			return Result{Response: resp, Charset: charset, Kind: FailureNone, Info: "Success"}
		}

		if statusesNotRetried[resp.StatusCode] {
			resp.Body.Close()
			return Result{Kind: FailureHTTPStatus, Info: fmt.Sprintf("status: %d", resp.StatusCode)}
		}

		lastResp = resp
		lastResp.Body.Close()
	}

	if lastResp != nil {
		return Result{Kind: FailureHTTPStatus, Info: fmt.Sprintf("status: %d", lastResp.StatusCode)}
	}
	info := "connection failed"
	if lastErr != nil {
		info = lastErr.Error()
	}
	return Result{Kind: FailureConnect, Info: info}
}

func (c *Connector) attempt(ctx context.Context, req Request) (*http.Response, error) {
	encoded := percentEncodeURL(req.URL)

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = req.Body()
	}

	// req.Timeout bounds this attempt end to end, connect through body
	// read, per spec.md §4.4/§5's per-request read timeout. The
	// derived context must outlive attempt itself, since the response
	// body is streamed by the caller long after Do returns, so its
	// cancel func rides along on the body and fires on Close instead
	// of here.
	reqCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, encoded, bodyReader)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}

	applyHeaderDefaults(httpReq, req.Headers, req.PageURL)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	if cancel != nil {
		resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	}
	return resp, nil
}

// cancelOnCloseBody releases a per-attempt timeout context's resources
// once the caller is done reading the response, instead of leaking the
// timer until the deadline fires on its own.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// applyHeaderDefaults implements spec.md §4.4 step 2: derive Referer
// and Host if the caller didn't already set them.
func applyHeaderDefaults(httpReq *http.Request, headers http.Header, pageURL string) {
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	host := httpReq.URL.Hostname()
	if custom := httpReq.Header.Get("Host"); custom != "" {
		httpReq.Host = custom
	} else if host != "" {
		httpReq.Host = host
	}
	if httpReq.Header.Get("Referer") == "" {
		if pageURL != "" {
			httpReq.Header.Set("Referer", pageURL)
		} else {
			httpReq.Header.Set("Referer", httpReq.URL.Scheme+"://"+host)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", config.DefaultUserAgent)
	}
}

// percentEncodeURL re-escapes raw, preserving the "safe" character set
// the source's quote(url, safe='/:&?=%;#@+!') preserves, so an
// already-encoded URL isn't mangled and a raw one with embedded spaces
// or unicode is made transport-safe.
func percentEncodeURL(raw string) string {
	const safe = "/:&?=%;#@+!-._~0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if strings.IndexByte(safe, ch) >= 0 {
			b.WriteByte(ch)
		} else {
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	return b.String()
}

// detectCharset implements spec.md §4.4's charset-discovery algorithm.
func detectCharset(resp *http.Response) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if m := headerCharset.FindStringSubmatch(strings.ToLower(ct)); m != nil {
			return strings.Trim(strings.TrimSpace(m[1]), `"'`)
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "text/html") {
			return sniffHTMLCharset(resp)
		}
	}
	return ""
}

// sniffHTMLCharset peeks the body for a <meta charset=...> tag,
// restoring the peeked bytes onto resp.Body afterward so the caller
// still sees the full stream. Falls back to "" (apparent-encoding
// probes are out of scope for a streaming Go body; unlike the
// source's requests.Response.apparent_encoding, no ecosystem default
// exists without buffering the whole body).
func sniffHTMLCharset(resp *http.Response) string {
	const peekSize = 2048
	buf := make([]byte, peekSize)
	n, _ := io.ReadFull(resp.Body, buf)
	buf = buf[:n]
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), resp.Body), resp.Body}

	if m := metaCharset.FindSubmatch(buf); m != nil {
		return string(bytes.Trim(m[1], `"'`))
	}
	return ""
}

// URLHost returns the hostname portion of rawurl, used by callers
// that need it outside of a live request (e.g. for Range sub-requests
// that share the parent's derived headers).
func URLHost(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
