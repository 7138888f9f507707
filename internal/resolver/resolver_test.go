package resolver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchkit/fetch/internal/config"
)

func newResp(headers map[string]string, body string) *http.Response {
	rec := httptest.NewRecorder()
	for k, v := range headers {
		rec.Header().Set(k, v)
	}
	rec.WriteString(body)
	return rec.Result()
}

func TestByteWidth(t *testing.T) {
	assert.Equal(t, 5, ByteWidth("hello"))
	assert.Equal(t, 6, ByteWidth("日本語"))
	assert.Equal(t, 5, ByteWidth("a日bc"))
}

func TestSanitizeNameTruncatesByWidth(t *testing.T) {
	longStem := strings.Repeat("a", 300)
	got := sanitizeName(longStem + ".txt")
	assert.LessOrEqual(t, ByteWidth(got), config.MaxNameWidth)
	assert.True(t, strings.HasSuffix(got, ".txt"))
}

func TestApplyRename(t *testing.T) {
	assert.Equal(t, "report.pdf", applyRename("original.pdf", "report.pdf"))
	assert.Equal(t, "report.pdf", applyRename("original.pdf", "report"))
	assert.Equal(t, "report", applyRename("original", "report"))
	assert.Equal(t, "original.pdf", applyRename("original.pdf", ""))
}

func TestResolveRenamePolicy(t *testing.T) {
	dir := t.TempDir()
	r := New()
	resp := newResp(map[string]string{"Content-Length": "4"}, "body")

	res1, _, err := r.Resolve(resp, "http://example.com/file.txt", dir, "", config.Rename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file.txt"), res1.Path)

	resp2 := newResp(map[string]string{"Content-Length": "4"}, "body")
	res2, _, err := r.Resolve(resp2, "http://example.com/file.txt", dir, "", config.Rename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file_1.txt"), res2.Path)
	assert.NotEqual(t, res1.Path, res2.Path)
}

func TestResolveSkipPolicy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0644))

	r := New()
	resp := newResp(map[string]string{"Content-Length": "4"}, "body")
	res, _, err := r.Resolve(resp, "http://example.com/file.txt", dir, "", config.Skip)
	require.NoError(t, err)
	assert.True(t, res.Skip)
}

func TestResolveAddPolicyAppendsFromExistingSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("12345"), 0644))

	r := New()
	resp := newResp(map[string]string{"Content-Length": "4"}, "body")
	res, _, err := r.Resolve(resp, "http://example.com/file.txt", dir, "", config.Add)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.AppendFrom)
	assert.Equal(t, filepath.Join(dir, "file.txt"), res.Path)
}

func TestResolveOverwritePolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	r := New()
	resp := newResp(map[string]string{"Content-Length": "4"}, "body")
	res, _, err := r.Resolve(resp, "http://example.com/file.txt", dir, "", config.Overwrite)
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "overwrite must unlink the prior file and reserve the name with an empty one")
}

func TestSkipIfExists(t *testing.T) {
	dir := t.TempDir()
	r := New()

	_, ok := r.SkipIfExists(dir, "missing.txt")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0644))
	path, ok := r.SkipIfExists(dir, "present.txt")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "present.txt"), path)
}

func TestResolveConcurrentRenameNeverCollides(t *testing.T) {
	dir := t.TempDir()
	r := New()

	const n = 8
	var wg sync.WaitGroup
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := newResp(map[string]string{"Content-Length": "1"}, "x")
			res, _, err := r.Resolve(resp, "http://example.com/same.txt", dir, "", config.Rename)
			require.NoError(t, err)
			paths[i] = res.Path
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate resolved path %s", p)
		seen[p] = true
	}
}
