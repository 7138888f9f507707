package engine

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/fetchkit/fetch/internal/connector"
	"github.com/fetchkit/fetch/internal/xlog"
)

// ByteRange is one contiguous slice of the mission's target file
// (spec.md §4.5's partition invariant). Open means the range extends to
// EOF (the last chunk, requested as "bytes=start-").
type ByteRange struct {
	Start int64
	End   int64
	Open  bool
	// WriteOffset is where this range's bytes land in the destination
	// file. Equal to Start except under the "add" conflict policy,
	// where it is shifted past the preserved existing prefix.
	WriteOffset int64
}

// Task is one byte-range sub-download (spec.md §3, §4.3). Task 0 (the
// first chunk) reuses the mission's already-open probe response; every
// other task opens its own ranged request.
type Task struct {
	index   int
	mission *Mission
	rng     *ByteRange

	mu     sync.Mutex
	state  State
	result Result
	info   string

	downloaded atomic.Int64

	preopenedBody io.ReadCloser
	preopenedResp *http.Response
}

func newTask(m *Mission, index int, rng *ByteRange) *Task {
	return &Task{mission: m, index: index, rng: rng, state: StateWaiting}
}

// openStream hands task 0 the body already fetched while the mission
// resolved its destination, instead of re-requesting the same bytes.
// body may be resp.Body itself or a MultiReader prefixed with bytes
// peeked for MIME sniffing (resolver.Resolve); either way Close must
// still reach the real resp.Body so the underlying connection is
// released.
func (t *Task) openStream(body io.Reader, resp *http.Response) {
	rc, ok := body.(io.ReadCloser)
	if !ok {
		rc = struct {
			io.Reader
			io.Closer
		}{body, resp.Body}
	}
	t.preopenedBody = rc
	t.preopenedResp = resp
}

func (t *Task) snapshot() (State, Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.result
}

func (t *Task) resultInfo() (Result, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.info
}

// run executes the task: open (or reuse) a stream, pump its bytes into
// the mission's recorder at the task's range offset, and settle into a
// terminal result (spec.md §4.3, §4.5).
func (t *Task) run(ctx context.Context) {
	t.mu.Lock()
	t.state = StateRunning
	t.mu.Unlock()
	t.mission.engine.bus.Publish(Event{Kind: EventTaskStarted, Mission: t.mission, Task: t, At: wallClock()})

	select {
	case <-ctx.Done():
		t.finish(ResultCanceled, "canceled before start")
		return
	default:
	}

	var body io.ReadCloser
	var reader io.Reader
	if t.preopenedBody != nil {
		body = t.preopenedBody
		reader = t.preopenedBody
		if t.rng != nil && !t.rng.Open {
			// The reused stream is the unranged probe response (the
			// whole file); cap task 0's own read to its slice of the
			// partition so siblings' bytes aren't redundantly consumed
			// here too (spec.md §4.5 partition invariant).
			reader = io.LimitReader(body, t.rng.End-t.rng.Start+1)
		}
	} else {
		req := t.mission.buildRequest(t.rng)
		res := t.mission.engine.connector.Open(ctx, req)
		if res.Kind != connector.FailureNone {
			xlog.Debug("mission %d task %d: open failed kind=%v info=%s", t.mission.ID, t.index, res.Kind, res.Info)
			if ctx.Err() != nil {
				t.finish(ResultCanceled, "canceled")
				return
			}
			t.finish(ResultFailed, res.Info)
			return
		}
		body = res.Response.Body
		reader = body
	}
	defer body.Close()

	offset := int64(0)
	want := int64(-1)
	if t.rng != nil {
		offset = t.rng.WriteOffset
		if !t.rng.Open {
			want = t.rng.End - t.rng.Start + 1
		}
	}

	err := pump(ctx, reader, t.mission.rec, offset, want, func(n int) {
		t.downloaded.Add(int64(n))
	})

	switch {
	case err == nil:
		t.finish(ResultSuccess, "OK")
	case ctx.Err() != nil:
		t.finish(ResultCanceled, "canceled")
	default:
		t.finish(ResultFailed, err.Error())
	}
}

func (t *Task) finish(result Result, info string) {
	t.mu.Lock()
	if t.state == StateDone {
		t.mu.Unlock()
		return
	}
	t.state = StateDone
	t.result = result
	t.info = info
	t.mu.Unlock()
	xlog.Debug("mission %d task %d: done result=%v info=%s", t.mission.ID, t.index, result, info)
	t.mission.engine.bus.Publish(Event{Kind: EventTaskTerminal, Mission: t.mission, Task: t, At: wallClock()})
}
