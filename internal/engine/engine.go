// Package engine implements the download engine's core: the Mission/
// Task state machine, the bounded worker-pool scheduler, and the
// request/resolve/pump pipeline that drives one mission from a URL to
// a finished file (spec.md §3-§5). Grounded throughout on the teacher's
// internal/download and internal/engine/concurrent packages, adapted
// from dynamic work-stealing to the simpler fixed-partition model
// spec.md requires (see DESIGN.md).
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fetchkit/fetch/internal/config"
	"github.com/fetchkit/fetch/internal/connector"
	"github.com/fetchkit/fetch/internal/resolver"
	"github.com/fetchkit/fetch/internal/xlog"
)

// Engine is the top-level façade: it owns the scheduler, the shared
// connector/resolver, the event bus, and every Mission it has been
// asked to run (spec.md §3 "Engine").
type Engine struct {
	cfg *config.RuntimeConfig

	connector *connector.Connector
	resolver  *resolver.Resolver
	scheduler *Scheduler
	bus       *Bus

	mu       sync.Mutex
	missions map[int64]*Mission
	nextID   atomic.Int64
}

// New builds an Engine from cfg (nil yields package defaults).
func New(cfg *config.RuntimeConfig) *Engine {
	if cfg == nil {
		cfg = &config.RuntimeConfig{}
	}
	if cfg.GetVerbose() {
		xlog.SetEnabled(true)
	}
	e := &Engine{
		cfg:       cfg,
		connector: connector.New(cfg.GetHTTPClient()),
		resolver:  resolver.New(),
		bus:       NewBus(),
		missions:  make(map[int64]*Mission),
	}
	e.scheduler = NewScheduler(cfg.GetRoads())
	return e
}

// Bus exposes the engine's event stream to observers (component C7).
func (e *Engine) Bus() *Bus { return e.bus }

// Add submits data as a new mission and returns immediately; the
// mission's driver goroutine starts right away and fans its tasks out
// onto the roads-bounded scheduler (spec.md §4.5 "add"). Missions
// themselves are not roads-limited — "roads" bounds concurrent
// byte-range transfers (component C6), not concurrent missions,
// mirroring the teacher's pool being sized for worker slots rather
// than job slots.
func (e *Engine) Add(data *MissionData) *Mission {
	id := e.nextID.Add(1)
	m := newMission(id, data, e)

	e.mu.Lock()
	e.missions[id] = m
	e.mu.Unlock()

	go m.run(m.ctx)
	return m
}

// Download submits data and blocks until it reaches StateDone,
// mirroring spec.md §4.5's "download" convenience wrapper around add +
// wait.
func (e *Engine) Download(ctx context.Context, data *MissionData) (Result, string) {
	m := e.Add(data)
	done := make(chan struct{})
	go func() {
		m.Wait(0)
		close(done)
	}()
	select {
	case <-done:
		return m.Result()
	case <-ctx.Done():
		m.Cancel()
		<-done
		return m.Result()
	}
}

// Wait blocks on a specific mission (by id) or, with id == 0, on every
// mission the engine currently knows about.
func (e *Engine) Wait(id int64, timeout time.Duration) (Result, string, error) {
	if id == 0 {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		for _, m := range e.Missions() {
			if timeout <= 0 || m.State() == StateDone {
				m.Wait(0)
				continue
			}
			if remaining := time.Until(deadline); remaining <= 0 || !m.Wait(remaining) {
				return ResultUnknown, "", fmt.Errorf("engine: wait timed out")
			}
		}
		return ResultUnknown, "", nil
	}
	m := e.GetMission(id)
	if m == nil {
		return ResultUnknown, "", fmt.Errorf("engine: no such mission %d", id)
	}
	if !m.Wait(timeout) {
		return ResultUnknown, "", fmt.Errorf("engine: mission %d wait timed out", id)
	}
	res, info := m.Result()
	return res, info, nil
}

// Cancel stops one mission (id != 0) or every non-terminal mission and
// the scheduler itself (id == 0).
func (e *Engine) Cancel(id int64) {
	if id == 0 {
		e.scheduler.Cancel()
		e.mu.Lock()
		missions := make([]*Mission, 0, len(e.missions))
		for _, m := range e.missions {
			missions = append(missions, m)
		}
		e.mu.Unlock()
		for _, m := range missions {
			m.Cancel()
		}
		return
	}
	if m := e.GetMission(id); m != nil {
		m.Cancel()
	}
}

// GetMission looks up a mission by id.
func (e *Engine) GetMission(id int64) *Mission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.missions[id]
}

// GetFailedMissions returns every terminal mission whose result is
// ResultFailed, in no particular order (spec.md §4.5 "get_failed").
func (e *Engine) GetFailedMissions() []*Mission {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Mission
	for _, m := range e.missions {
		if m.State() != StateDone {
			continue
		}
		if res, _ := m.Result(); res == ResultFailed {
			out = append(out, m)
		}
	}
	return out
}

// Missions returns every mission known to the engine, in no particular
// order.
func (e *Engine) Missions() []*Mission {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Mission, 0, len(e.missions))
	for _, m := range e.missions {
		out = append(out, m)
	}
	return out
}

// SetRoads resizes the scheduler's worker pool (spec.md §4.6
// "set(roads=N)").
func (e *Engine) SetRoads(n int) error {
	return e.scheduler.SetRoads(n)
}

// Shutdown stops the scheduler. No further missions may be submitted
// afterward.
func (e *Engine) Shutdown() {
	e.scheduler.Shutdown()
}
