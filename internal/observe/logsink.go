package observe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fetchkit/fetch/internal/config"
	"github.com/fetchkit/fetch/internal/engine"
)

// LogSink is the durable terminal-mission log described in spec.md §6
// ("one row per terminal mission with columns {url, path, rename,
// body, options}"), backed by modernc.org/sqlite — the teacher's own
// choice for on-disk state (see internal/engine/state in the original
// tree). It subscribes to the engine's event Bus rather than polling,
// since the bus already fans out every terminal transition.
type LogSink struct {
	db   *sql.DB
	mode config.Verbosity
}

// OpenLogSink opens (creating if needed) a sqlite database at path and
// prepares its schema.
func OpenLogSink(path string, mode config.Verbosity) (*LogSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("observe: open log db: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS mission_log (
	id         TEXT PRIMARY KEY,
	mission_id INTEGER NOT NULL,
	url        TEXT NOT NULL,
	path       TEXT,
	rename     TEXT,
	body       TEXT,
	options    TEXT,
	result     TEXT NOT NULL,
	info       TEXT,
	at         INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("observe: create schema: %w", err)
	}
	return &LogSink{db: db, mode: mode}, nil
}

// Close releases the underlying database handle.
func (s *LogSink) Close() error { return s.db.Close() }

// Run subscribes to eng's event bus and writes one row per terminal
// mission until stop is closed. Verbosity gates which rows get
// written: VerbosityAll writes every terminal mission, VerbosityFailed
// only ResultFailed ones, and VerbosityNone writes nothing (the
// subscription is still held open so Run can be cancelled uniformly).
func (s *LogSink) Run(eng *engine.Engine, stop <-chan struct{}) {
	ch, id := eng.Bus().Subscribe(64)
	defer eng.Bus().Unsubscribe(id)

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != engine.EventMissionTerminal {
				continue
			}
			s.record(ev.Mission)
		}
	}
}

func (s *LogSink) record(m *engine.Mission) {
	res, info := m.Result()
	if s.mode == config.VerbosityNone {
		return
	}
	if s.mode == config.VerbosityFailed && res != engine.ResultFailed {
		return
	}

	var body string
	if m.Data.Body != nil {
		body = m.Data.Body.ContentType
	}
	options := fmt.Sprintf("policy=%s split=%v", m.Data.Policy, m.Data.Split)

	_, err := s.db.Exec(
		`INSERT INTO mission_log (id, mission_id, url, path, rename, body, options, result, info, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), m.ID, m.Data.URL, m.Path(), m.Data.Rename, body, options,
		res.String(), info, time.Now().Unix(),
	)
	if err != nil {
		// The log sink is a passive observer; a write failure here must
		// never propagate back into a worker goroutine (spec.md §4.6
		// "the bus is non-blocking; observers must not back-pressure
		// workers").
		return
	}
}
