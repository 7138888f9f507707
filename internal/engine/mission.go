package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fetchkit/fetch/internal/config"
	"github.com/fetchkit/fetch/internal/connector"
	"github.com/fetchkit/fetch/internal/recorder"
	"github.com/fetchkit/fetch/internal/xlog"
)

// RequestBody is an optional request payload. A nil *RequestBody means
// the mission issues a GET; a non-nil one issues a POST (spec.md §3
// MissionData) with ContentType as its Content-Type header.
type RequestBody struct {
	ContentType string
	Bytes       []byte
}

// FormBody builds an application/x-www-form-urlencoded RequestBody.
func FormBody(values url.Values) *RequestBody {
	return &RequestBody{ContentType: "application/x-www-form-urlencoded", Bytes: []byte(values.Encode())}
}

// MissionData is the caller-supplied description of one download
// (spec.md §3).
type MissionData struct {
	URL      string
	GoalDir  string
	Rename   string
	Policy   config.ConflictPolicy
	Split    bool
	SplitSet bool
	Headers  http.Header
	Body     *RequestBody

	Timeout  time.Duration
	Retry    int
	Interval time.Duration
}

func (d *MissionData) method() string {
	if d.Body != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

// Mission is one user-submitted download and its state machine
// (spec.md §3, §4.3). A Mission owns exactly one Recorder and fans out
// into one or more Tasks once the response is resolved.
type Mission struct {
	ID   int64
	Data *MissionData

	engine *Engine

	mu     sync.Mutex
	state  State
	result Result
	info   string
	size   *int64
	path   string

	tasks []*Task

	rec *recorder.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

func newMission(id int64, data *MissionData, e *Engine) *Mission {
	ctx, cancel := context.WithCancel(e.scheduler.ctx)
	return &Mission{
		ID:     id,
		Data:   data,
		engine: e,
		state:  StateWaiting,
		rec:    recorder.New(e.cfg.GetRecorderCacheSize()),
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
}

// State returns the mission's current lifecycle stage.
func (m *Mission) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Result returns the terminal result and human-readable info string.
// Both are zero-valued until State() == StateDone.
func (m *Mission) Result() (Result, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.info
}

// Path returns the resolved destination path, valid once known (after
// the initial response arrives).
func (m *Mission) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// Size returns the resolved content length, if the server reported one.
func (m *Mission) Size() *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// BytesWritten sums every task's progress counter. Safe to call
// concurrently with running tasks.
func (m *Mission) BytesWritten() int64 {
	m.mu.Lock()
	tasks := append([]*Task(nil), m.tasks...)
	m.mu.Unlock()
	var total int64
	for _, t := range tasks {
		total += t.downloaded.Load()
	}
	return total
}

// Cancel moves the mission (and every child task) toward StateDone
// with ResultCanceled. Idempotent.
func (m *Mission) Cancel() {
	m.cancel()
}

// Wait blocks until the mission reaches StateDone or timeout elapses
// (timeout <= 0 waits forever). Returns false on timeout.
func (m *Mission) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-m.doneCh
		return true
	}
	select {
	case <-m.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// run drives the mission from Waiting to Done (spec.md §4.5,
// component C5): resolve destination -> decide split -> spawn tasks ->
// wait for all tasks -> commit or abort.
func (m *Mission) run(ctx context.Context) {
	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()
	xlog.Debug("mission %d: run url=%s goalDir=%s policy=%s", m.ID, m.Data.URL, m.Data.GoalDir, m.Data.Policy)
	m.engine.bus.Publish(Event{Kind: EventMissionStarted, Mission: m, At: wallClock()})

	select {
	case <-m.ctx.Done():
		m.finish(ResultCanceled, "canceled before start")
		return
	default:
	}

	// spec.md §4.5 step 3: short-circuit before opening any connection
	// when the caller already named the destination and it exists under
	// a skip policy — no network request is issued at all.
	if m.Data.Policy == config.Skip && m.Data.Rename != "" {
		if shortcut, ok := m.engine.resolver.SkipIfExists(m.Data.GoalDir, m.Data.Rename); ok {
			m.mu.Lock()
			m.path = shortcut
			m.mu.Unlock()
			m.finish(ResultSkipped, "destination already exists")
			return
		}
	}

	req := m.buildRequest(nil)
	res := m.engine.connector.Open(m.ctx, req)
	if res.Kind != connector.FailureNone {
		xlog.Debug("mission %d: probe open failed kind=%v info=%s", m.ID, res.Kind, res.Info)
		if m.ctx.Err() != nil {
			m.finish(ResultCanceled, "canceled")
			return
		}
		m.finish(ResultFailed, res.Info)
		return
	}

	rr, body, err := m.engine.resolver.Resolve(res.Response, m.Data.URL, m.Data.GoalDir, m.Data.Rename, m.Data.Policy)
	if err != nil {
		xlog.Debug("mission %d: resolve failed: %v", m.ID, err)
		res.Response.Body.Close()
		m.finish(ResultFailed, err.Error())
		return
	}

	m.mu.Lock()
	m.path = rr.Path
	m.size = rr.Size
	m.mu.Unlock()

	if rr.Skip {
		res.Response.Body.Close()
		m.finish(ResultSkipped, "destination already exists")
		return
	}

	if err := m.rec.SetPath(rr.Path, rr.AppendFrom); err != nil {
		res.Response.Body.Close()
		m.deleteBackingFile()
		m.finish(ResultFailed, err.Error())
		return
	}

	xlog.Debug("mission %d: resolved path=%s size=%v appendFrom=%d", m.ID, rr.Path, rr.Size, rr.AppendFrom)

	ranges := m.decideSplit(rr.Size, res.Response.Header.Get("Accept-Ranges"))
	for _, rng := range ranges {
		// Range headers describe the fresh content from its own byte 0;
		// WriteOffset is where those bytes land in the destination
		// file, shifted under the "add" policy to land after the
		// existing prefix (spec.md §9 Open Question decision).
		rng.WriteOffset = rng.Start + rr.AppendFrom
	}

	m.mu.Lock()
	m.tasks = make([]*Task, len(ranges))
	for i, rng := range ranges {
		t := newTask(m, i, rng)
		m.tasks[i] = t
	}
	first := m.tasks[0]
	m.mu.Unlock()

	xlog.Debug("mission %d: split into %d task(s)", m.ID, len(ranges))
	first.openStream(body, res.Response)

	var wg sync.WaitGroup
	for _, t := range m.tasks {
		wg.Add(1)
		t := t
		m.engine.scheduler.Submit(missionTaskUnit{task: t, wg: &wg})
	}
	wg.Wait()

	m.finalize()
}

// decideSplit implements spec.md §4.5's range-partition invariant: a
// mission splits only when the server reports a usable size, advertises
// Accept-Ranges: bytes, split is allowed by config/MissionData, and the
// size exceeds one block.
func (m *Mission) decideSplit(size *int64, acceptRanges string) []*ByteRange {
	allowSplit := m.engine.cfg.GetSplit()
	if m.Data.SplitSet {
		allowSplit = m.Data.Split
	}

	blockSize := m.engine.cfg.GetBlockSize()
	if !allowSplit || size == nil || *size <= blockSize || !strings.EqualFold(strings.TrimSpace(acceptRanges), "bytes") {
		return []*ByteRange{{Start: 0, End: 0, Open: true}}
	}

	var out []*ByteRange
	var start int64
	total := *size
	for start < total {
		end := start + blockSize - 1
		if end >= total-1 {
			out = append(out, &ByteRange{Start: start, Open: true})
			break
		}
		out = append(out, &ByteRange{Start: start, End: end})
		start = end + 1
	}
	return out
}

// buildRequest turns MissionData plus a range into a connector.Request.
// rng == nil means "whole file, no Range header" (the initial probe
// request).
func (m *Mission) buildRequest(rng *ByteRange) connector.Request {
	headers := make(http.Header)
	for k, vs := range m.Data.Headers {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	if rng != nil {
		if rng.Open {
			headers.Set("Range", fmt.Sprintf("bytes=%d-", rng.Start))
		} else {
			headers.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
		}
	}

	req := connector.Request{
		Method:   m.Data.method(),
		URL:      m.Data.URL,
		Headers:  headers,
		Timeout:  m.getTimeout(),
		Retry:    m.getRetry(),
		Interval: m.getInterval(),
		PageURL:  m.engine.cfg.PageURL,
	}
	if m.Data.Body != nil {
		req.Headers.Set("Content-Type", m.Data.Body.ContentType)
		payload := m.Data.Body.Bytes
		req.Body = func() io.Reader { return bytes.NewReader(payload) }
	}
	return req
}

func (m *Mission) getTimeout() time.Duration {
	if m.Data.Timeout > 0 {
		return m.Data.Timeout
	}
	return m.engine.cfg.GetTimeout()
}

func (m *Mission) getRetry() int {
	if m.Data.Retry > 0 {
		return m.Data.Retry
	}
	return m.engine.cfg.GetRetry()
}

func (m *Mission) getInterval() time.Duration {
	if m.Data.Interval > 0 {
		return m.Data.Interval
	}
	return m.engine.cfg.GetInterval()
}

// finalize is called once every task has reached StateDone. It commits
// the mission on full success or aborts (spec.md §4.5 commit/abort
// invariant: a mission's file is complete iff every task succeeded).
func (m *Mission) finalize() {
	m.mu.Lock()
	tasks := m.tasks
	m.mu.Unlock()

	allSuccess := true
	anyCanceled := false
	var firstFailure string
	for _, t := range tasks {
		st, res := t.snapshot()
		_ = st
		switch res {
		case ResultSuccess:
		case ResultCanceled:
			anyCanceled = true
			allSuccess = false
		default:
			allSuccess = false
			if firstFailure == "" {
				_, info := t.resultInfo()
				firstFailure = info
			}
		}
	}

	if err := m.rec.Flush(); err != nil && allSuccess {
		allSuccess = false
		firstFailure = err.Error()
	}

	// spec.md §3 invariant: "size is set at most once... the post-commit
	// on-disk size must equal size for success; otherwise the mission is
	// failed and its file deleted."
	if allSuccess {
		if size := m.Size(); size != nil {
			// Under the "add" policy the fresh bytes land after the
			// preserved prefix, so the file ends that much further out.
			expected := *size
			if len(tasks) > 0 && tasks[0].rng != nil {
				expected += tasks[0].rng.WriteOffset - tasks[0].rng.Start
			}
			if onDisk, err := m.rec.Size(); err != nil || onDisk != expected {
				allSuccess = false
				if err != nil {
					firstFailure = err.Error()
				} else {
					firstFailure = fmt.Sprintf("size mismatch: on-disk %d, expected %d", onDisk, expected)
				}
			}
		}
	}
	m.rec.Close()

	switch {
	case allSuccess:
		m.finish(ResultSuccess, "OK")
	case anyCanceled:
		m.deleteBackingFile()
		m.finish(ResultCanceled, "canceled")
	default:
		if firstFailure == "" {
			firstFailure = "one or more tasks failed"
		}
		m.deleteBackingFile()
		m.finish(ResultFailed, firstFailure)
	}
}

// deleteBackingFile removes the mission's resolved destination file, per
// spec.md §4.3's failed/canceled transitions ("delete backing file").
// Safe to call when no path was ever resolved or the recorder was never
// bound.
func (m *Mission) deleteBackingFile() {
	m.mu.Lock()
	path := m.path
	m.mu.Unlock()
	if path == "" {
		return
	}
	m.rec.Close()
	_ = os.Remove(path)
}

func (m *Mission) finish(result Result, info string) {
	m.mu.Lock()
	if m.state == StateDone {
		m.mu.Unlock()
		return
	}
	m.state = StateDone
	m.result = result
	m.info = info
	m.mu.Unlock()
	xlog.Debug("mission %d: done result=%v info=%s", m.ID, result, info)
	close(m.doneCh)
	m.engine.bus.Publish(Event{Kind: EventMissionTerminal, Mission: m, At: wallClock()})
}

// missionTaskUnit adapts a *Task to the scheduler's runnable interface
// and signals wg when the task (and transitively the whole mission,
// once every sibling's wg.Done fires) has finished.
type missionTaskUnit struct {
	task *Task
	wg   *sync.WaitGroup
}

func (u missionTaskUnit) run(ctx context.Context) {
	defer u.wg.Done()
	// Use the mission's own context, not the scheduler's: it is a child
	// of the scheduler context (so a global Cancel still reaches every
	// task) but additionally observes Mission.Cancel, which the bare
	// scheduler ctx passed in here does not.
	u.task.run(u.task.mission.ctx)
}

// wallClock exists so every engine timestamp goes through one place;
// a func() time.Time stored in wallClockFn replaces time.Now.
var wallClockFn atomic.Value

func wallClock() time.Time {
	if f, ok := wallClockFn.Load().(func() time.Time); ok && f != nil {
		return f()
	}
	return time.Now()
}
