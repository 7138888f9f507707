// Package xlog is the engine's ambient debug logger: a lazy,
// file-backed sink gated by an environment variable, in the same shape
// as the teacher's own internal/utils debug helper (one log file per
// process run, in the OS temp directory unless SetDir names another,
// opened once via sync.Once). The teacher never reaches for zerolog/slog for this
// concern, so neither do we — see DESIGN.md.
package xlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnvVar gates whether Debug writes anything. Unset or "0"/"false"
// disables logging entirely, so a normal CLI run pays no I/O cost.
const EnvVar = "FETCH_DEBUG"

var (
	once      sync.Once
	file      *os.File
	dir       string
	enable    bool
	forced    bool
	forcedSet bool
)

// SetDir overrides where the debug log file is created. Must be called
// before the first Debug call to take effect; defaults to the OS temp
// directory otherwise.
func SetDir(d string) { dir = d }

// SetEnabled force-enables (or disables) logging regardless of
// FETCH_DEBUG; engine.New calls it when RuntimeConfig.Verbose is set.
// Must be called before the first Debug call to take effect.
func SetEnabled(v bool) { forced, forcedSet = v, true }

func enabled() bool {
	if forcedSet {
		return forced
	}
	v := os.Getenv(EnvVar)
	return v != "" && v != "0" && v != "false"
}

func open() {
	if !enabled() {
		return
	}
	enable = true
	d := dir
	if d == "" {
		d = os.TempDir()
	}
	if err := os.MkdirAll(d, 0755); err != nil {
		return
	}
	path := filepath.Join(d, fmt.Sprintf("debug-%d.log", time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	file = f
}

// Debug writes a formatted, timestamped line if FETCH_DEBUG is set.
// It is a no-op otherwise, so callers never need to guard calls.
func Debug(format string, args ...any) {
	once.Do(open)
	if !enable || file == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(file, "%s %s\n", time.Now().Format(time.RFC3339Nano), msg)
}
