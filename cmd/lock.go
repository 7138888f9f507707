package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// AcquireLock takes an exclusive advisory lock over a lock file in the
// OS temp dir, the way the teacher's cmd/lock.go guards its own
// single-instance invariant, so a second `fetch add --watch-clipboard` process
// can detect a sibling instance instead of racing it for the waiting
// queue (SPEC_FULL.md §10). It returns a release func, or nil (with a
// non-nil error only on an unexpected OS failure — lock contention
// itself is not an error; a second instance simply runs standalone,
// since unlike the teacher's daemon model, fetch has no shared server
// to hand the request to).
func AcquireLock() (func(), error) {
	lockPath := filepath.Join(os.TempDir(), "fetch.lock")
	fl := flock.New(lockPath)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		fmt.Fprintln(os.Stderr, "fetch: another instance is running; continuing standalone")
		return nil, nil
	}
	return func() { fl.Unlock() }, nil
}
