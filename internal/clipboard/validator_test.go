package clipboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURLsFindsEmbeddedLinks(t *testing.T) {
	v := NewValidator()
	text := "check this out: https://example.com/file.zip and also http://mirror.example.org/f.tar.gz, thanks"
	got := v.ExtractURLs(text)
	assert.Equal(t, []string{"https://example.com/file.zip", "http://mirror.example.org/f.tar.gz"}, got)
}

func TestExtractURLsTrimsTrailingPunctuation(t *testing.T) {
	v := NewValidator()
	got := v.ExtractURLs("see (https://example.com/a).")
	assert.Equal(t, []string{"https://example.com/a"}, got)
}

func TestExtractURLsDedupsWithinOneCall(t *testing.T) {
	v := NewValidator()
	got := v.ExtractURLs("https://example.com/a and again https://example.com/a")
	assert.Equal(t, []string{"https://example.com/a"}, got)
}

func TestExtractURLsRejectsNonHTTPScheme(t *testing.T) {
	v := NewValidator()
	assert.Empty(t, v.ExtractURLs("ftp://example.com/a"))
}

func TestExtractURLsRejectsOversizedText(t *testing.T) {
	v := NewValidator()
	huge := make([]byte, 70*1024)
	for i := range huge {
		huge[i] = 'x'
	}
	assert.Empty(t, v.ExtractURLs(string(huge)))
}

func TestWatcherDedupsAcrossPolls(t *testing.T) {
	w := NewWatcher()

	// simulate two successive clipboard reads without touching the real
	// OS clipboard: drive the same dedup state Poll uses directly.
	fresh := func(text string) []string {
		var out []string
		for _, u := range w.v.ExtractURLs(text) {
			if w.seen[u] {
				continue
			}
			w.seen[u] = true
			out = append(out, u)
		}
		return out
	}

	assert.Equal(t, []string{"https://example.com/a"}, fresh("https://example.com/a"))
	assert.Empty(t, fresh("https://example.com/a"))
	assert.Equal(t, []string{"https://example.com/b"}, fresh("https://example.com/a https://example.com/b"))
}
