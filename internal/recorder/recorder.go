// Package recorder implements the mission's single-writer buffered
// sink over its backing file (spec.md §4.2, component C2). It is
// grounded on the teacher's ByteRecorder-shaped single-writer
// discipline described across internal/engine/concurrent/worker.go's
// WriteAt usage, generalized here into its own serialising component
// since the teacher writes directly with os.File.WriteAt per worker
// rather than funneling through one recorder.
package recorder

import (
	"fmt"
	"os"
	"sync"
)

// write is one buffered write instruction.
type write struct {
	data   []byte
	offset int64
}

// Recorder is a buffered, single-writer sink over one backing file.
// add/flush/clear may be called from different goroutines; the
// recorder serialises access to the file handle itself.
type Recorder struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	pending   []write
	cacheSize int
	appendPos int64
}

// New creates an unbound recorder. cacheSize is the number of buffered
// writes kept in memory before an automatic flush (spec default: 100).
func New(cacheSize int) *Recorder {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &Recorder{cacheSize: cacheSize}
}

// SetPath binds this recorder to path. May be called at most once.
// startOffset is the logical append position to resume at — nonzero
// only under the "add" conflict policy, where the existing file's
// byte count is preserved and new writes extend it (see DESIGN.md).
func (r *Recorder) SetPath(path string, startOffset int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path != "" {
		return fmt.Errorf("recorder: path already bound to %s", r.path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("recorder: open %s: %w", path, err)
	}
	r.path = path
	r.file = f
	r.appendPos = startOffset
	return nil
}

// Add appends a write instruction. offset == nil means "append at the
// current logical end." Writes are buffered until Flush is called
// explicitly or the buffer reaches cacheSize entries.
func (r *Recorder) Add(data []byte, offset *int64) error {
	if len(data) == 0 {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	r.mu.Lock()
	var at int64
	if offset == nil {
		at = r.appendPos
		r.appendPos += int64(len(buf))
	} else {
		at = *offset
	}
	r.pending = append(r.pending, write{data: buf, offset: at})
	full := len(r.pending) >= r.cacheSize
	r.mu.Unlock()

	if full {
		return r.Flush()
	}
	return nil
}

// Flush persists all pending writes in insertion order, each at its
// stated offset. fsync is not required (spec.md §4.2).
func (r *Recorder) Flush() error {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	file := r.file
	r.mu.Unlock()

	if file == nil {
		if len(pending) > 0 {
			return fmt.Errorf("recorder: flush called before SetPath")
		}
		return nil
	}

	for _, w := range pending {
		if _, err := file.WriteAt(w.data, w.offset); err != nil {
			return fmt.Errorf("recorder: write at offset %d: %w", w.offset, err)
		}
	}
	return nil
}

// Clear discards pending writes without persisting them.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
}

// Close closes the backing file handle. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	f := r.file
	r.file = nil
	r.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// Size stats the backing file's current on-disk size. Used by the
// mission to verify the post-commit size invariant.
func (r *Recorder) Size() (int64, error) {
	r.mu.Lock()
	path := r.path
	r.mu.Unlock()
	if path == "" {
		return 0, fmt.Errorf("recorder: no path bound")
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
