// Package clipboard watches the OS clipboard for downloadable links
// (SPEC_FULL.md's clipboard-ingestion front-end), grounded on the
// teacher's internal/clipboard/validator.go but reworked from a
// single-URL-or-nothing check into a multi-URL extractor with its own
// dedup state, since fetch's add command accepts a batch of URLs per
// submission rather than one clipboard paste per file.
package clipboard

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/atotto/clipboard"
)

// urlPattern finds http(s) links embedded anywhere in pasted text, not
// just text that is itself nothing but a URL — a user pasting a line
// of chat log or a markdown list still yields its links.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// Validator extracts and sanitizes downloadable links from arbitrary
// clipboard text.
type Validator struct {
	allowedSchemes map[string]bool
}

// NewValidator creates a new URL validator.
func NewValidator() *Validator {
	return &Validator{
		allowedSchemes: map[string]bool{"http": true, "https": true},
	}
}

// ExtractURLs returns every distinct, well-formed http(s) URL found in
// text, in the order first seen. Unlike a single-URL check, pasted
// text may carry several candidate links (a share sheet, a chat
// quote, a batch of mirrors); callers decide what to do with more
// than one.
func (v *Validator) ExtractURLs(text string) []string {
	if len(text) > 64*1024 {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, candidate := range urlPattern.FindAllString(text, -1) {
		candidate = strings.TrimRight(candidate, ".,;:)]}>")
		parsed, err := url.Parse(candidate)
		if err != nil || parsed.Host == "" || !v.allowedSchemes[parsed.Scheme] {
			continue
		}
		clean := parsed.String()
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}

// Watcher polls the OS clipboard and reports newly seen URLs,
// replacing the one-shot ReadURL helper with stateful dedup so a
// caller that watches on an interval doesn't re-submit the same
// clipboard contents every tick.
type Watcher struct {
	v    *Validator
	seen map[string]bool
}

// NewWatcher creates a Watcher with empty dedup state.
func NewWatcher() *Watcher {
	return &Watcher{v: NewValidator(), seen: make(map[string]bool)}
}

// Poll reads the clipboard once and returns whichever URLs it
// contains that this Watcher has not already returned. Read failures
// (e.g. no clipboard on a headless system) yield a nil slice, not an
// error, since a watch loop should keep polling rather than abort.
func (w *Watcher) Poll() []string {
	text, err := clipboard.ReadAll()
	if err != nil {
		return nil
	}
	var fresh []string
	for _, u := range w.v.ExtractURLs(text) {
		if w.seen[u] {
			continue
		}
		w.seen[u] = true
		fresh = append(fresh, u)
	}
	return fresh
}
