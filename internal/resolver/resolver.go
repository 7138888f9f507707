// Package resolver derives a safe, filesystem-legal destination path
// from response headers, the original URL and the caller's conflict
// policy (spec.md §4.1, component C1). It is grounded on the original
// DownloadKit's _get_file_info/_get_file_name/make_valid_name
// (_examples/original_source/DownloadKit/_funcs.py) and on the
// teacher's internal/utils/filename.go, which already reaches for
// vfaronov/httpheader and h2non/filetype for the same job.
package resolver

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"

	"github.com/fetchkit/fetch/internal/config"
)

// Result is what Resolve returns to the downloader.
type Result struct {
	Size *int64
	Path string
	Skip bool
	// AppendFrom is nonzero only under config.Add: the byte offset at
	// which new writes should begin, preserving the existing prefix.
	AppendFrom int64
}

var illegalNameChars = regexp.MustCompile(`[<>/\\|:*?\n]`)
var illegalDirChars = regexp.MustCompile(`[*:|<>?"]`)
var trailingCounter = regexp.MustCompile(`^(.*)_(\d+)$`)

// Resolver owns the global mutex that serialises conflict resolution
// so concurrent "rename" probes for the same base name never collide
// (spec.md §4.1 step 5, §5 "Resolver's filename-collision check").
type Resolver struct {
	mu sync.Mutex
}

func New() *Resolver {
	return &Resolver{}
}

// SkipIfExists implements spec.md §4.5 step 3: when the caller already
// named the destination via rename, check for its existence without
// touching the network. ok is true only when the file is already there.
func (r *Resolver) SkipIfExists(goalDir, rename string) (path string, ok bool) {
	absDir, err := normalizeDir(goalDir)
	if err != nil {
		return "", false
	}
	full := filepath.Join(absDir, sanitizeName(rename))
	if _, err := os.Stat(full); err != nil {
		return "", false
	}
	return full, true
}

// Resolve computes {size, path, skip} and returns a replacement reader
// for resp.Body that re-includes any bytes peeked for MIME sniffing.
func (r *Resolver) Resolve(resp *http.Response, rawURL, goalDir, rename string, policy config.ConflictPolicy) (Result, io.Reader, error) {
	var size *int64
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			size = &n
		}
	}

	candidate, err := candidateFilename(resp, rawURL)
	if err != nil {
		return Result{}, resp.Body, err
	}

	body := resp.Body
	var peeked io.Reader = body
	if filepath.Ext(candidate) == "" {
		header := make([]byte, 512)
		n, rerr := io.ReadFull(body, header)
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			return Result{}, body, fmt.Errorf("resolver: peek body: %w", rerr)
		}
		header = header[:n]
		peeked = io.MultiReader(bytes.NewReader(header), body)
		if kind, _ := filetype.Match(header); kind != filetype.Unknown && kind.Extension != "" {
			candidate = candidate + "." + kind.Extension
		}
	}

	fullName := applyRename(candidate, rename)
	fullName = sanitizeName(fullName)
	if fullName == "" {
		fullName = fmt.Sprintf("untitled_%d_%d", time.Now().Unix(), rand.Intn(101))
	}

	absDir, err := normalizeDir(goalDir)
	if err != nil {
		return Result{}, peeked, err
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return Result{}, peeked, fmt.Errorf("resolver: mkdir %s: %w", absDir, err)
	}

	res, err := r.resolveConflict(absDir, fullName, policy)
	if err != nil {
		return Result{}, peeked, err
	}
	res.Size = size
	return res, peeked, nil
}

// candidateFilename implements spec.md §4.1 step 1.
func candidateFilename(resp *http.Response, rawURL string) (string, error) {
	if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
		return strings.Trim(name, "'\""), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("resolver: parse url: %w", err)
	}
	if base := filepath.Base(u.Path); base != "" && base != "." && base != "/" {
		return base, nil
	}
	return "", nil
}

// applyRename implements spec.md §4.1 step 2.
func applyRename(candidate, rename string) string {
	if rename == "" {
		return candidate
	}
	if strings.Contains(rename, ".") {
		return rename
	}
	ext := strings.TrimPrefix(filepath.Ext(candidate), ".")
	if ext == "" {
		return rename
	}
	return rename + "." + ext
}

// sanitizeName implements spec.md §4.1 step 3: trim, strip illegal
// characters, enforce the 255-width budget (East-Asian chars count 2,
// ASCII counts 1), truncating the stem from the right.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = illegalNameChars.ReplaceAllString(name, "")

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	extWidth := ByteWidth(ext)

	for ByteWidth(stem) > config.MaxNameWidth-extWidth {
		runes := []rune(stem)
		if len(runes) == 0 {
			break
		}
		stem = string(runes[:len(runes)-1])
	}
	return stem + ext
}

// ByteWidth returns the "display width" of s per spec.md §8's law:
// ASCII runes count 1, non-ASCII runes count 2.
func ByteWidth(s string) int {
	width := 0
	for _, rn := range s {
		if rn < utf8.RuneSelf {
			width++
		} else {
			width += 2
		}
	}
	return width
}

// normalizeDir implements spec.md §4.1 step 4: strip the
// illegal-in-directory characters after preserving the path anchor,
// then resolve to an absolute path.
func normalizeDir(goalDir string) (string, error) {
	if goalDir == "" {
		goalDir = "."
	}
	vol := filepath.VolumeName(goalDir)
	rest := strings.TrimPrefix(goalDir, vol)
	rest = illegalDirChars.ReplaceAllString(rest, "")
	cleaned := strings.TrimSpace(vol + rest)
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolver: absolute path of %q: %w", cleaned, err)
	}
	return abs, nil
}

// resolveConflict implements spec.md §4.1 step 5, under r.mu so
// concurrent rename-probes never collide.
func (r *Resolver) resolveConflict(dir, name string, policy config.ConflictPolicy) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := filepath.Join(dir, name)

	info, err := os.Stat(full)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("resolver: stat %s: %w", full, err)
	}

	if !exists {
		if err := reserve(full); err != nil {
			return Result{}, err
		}
		return Result{Path: full}, nil
	}

	switch policy {
	case config.Rename:
		full = usablePath(full)
		if err := reserve(full); err != nil {
			return Result{}, err
		}
		return Result{Path: full}, nil

	case config.Skip:
		return Result{Path: full, Skip: true}, nil

	case config.Overwrite:
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return Result{}, fmt.Errorf("resolver: unlink %s: %w", full, err)
		}
		if err := reserve(full); err != nil {
			return Result{}, err
		}
		return Result{Path: full}, nil

	case config.Add:
		// The existing file is kept; new bytes extend it starting at
		// its current size. See DESIGN.md for the "add" semantics
		// decision (spec.md §9 Open Question).
		return Result{Path: full, AppendFrom: info.Size()}, nil

	default:
		return Result{}, fmt.Errorf("resolver: unknown conflict policy %q", policy)
	}
}

// usablePath implements the original's get_usable_path probe:
// dir/name_1.ext, dir/name_2.ext, ... If the stem already ends in
// "_<digits>" and this is not the first probe, the trailing number is
// incremented; otherwise the probe always starts at _1.
func usablePath(full string) string {
	dir := filepath.Dir(full)
	ext := filepath.Ext(full)
	stem := strings.TrimSuffix(filepath.Base(full), ext)

	name := stem
	firstProbe := true
	for {
		candidate := filepath.Join(dir, name+ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}

		m := trailingCounter.FindStringSubmatch(name)
		if m == nil || firstProbe {
			name = stem + "_1"
		} else {
			n, _ := strconv.Atoi(m[2])
			name = m[1] + "_" + strconv.Itoa(n+1)
			stem = m[1]
		}
		firstProbe = false
	}
}

// reserve creates a zero-byte file to claim the name immediately,
// per spec.md §4.1 step 5's final bullet.
func reserve(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("resolver: reserve %s: %w", path, err)
	}
	return f.Close()
}
