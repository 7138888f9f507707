package observe

import (
	"fmt"
	"io"
	"time"

	"github.com/fetchkit/fetch/internal/engine"
)

// RunHeadless is the non-TUI status-line printer restored from the
// original DownloadKit's DownloadKit._show (see SPEC_FULL.md §12): one
// line per running or finished mission plus a waiting count, refreshed
// on tickInterval, written to w until every mission the engine knows
// about reaches StateDone. Used by `fetch get --no-tui` and
// `fetch add --no-tui` for environments without a real terminal.
func RunHeadless(w io.Writer, eng *engine.Engine) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		missions := eng.Missions()
		if len(missions) == 0 {
			continue
		}

		var waiting int
		allDone := true
		for _, m := range missions {
			switch m.State() {
			case engine.StateWaiting:
				waiting++
				allDone = false
			case engine.StateRunning:
				allDone = false
				fmt.Fprintf(w, "#%d %.0f%% %s\n", m.ID, missionPercent(m)*100, displayLabel(m))
			case engine.StateDone:
				res, info := m.Result()
				fmt.Fprintf(w, "#%d %s: %s\n", m.ID, res, info)
			}
		}
		fmt.Fprintf(w, "waiting: %d\n", waiting)

		if allDone {
			return
		}
	}
}

func displayLabel(m *engine.Mission) string {
	if p := m.Path(); p != "" {
		return p
	}
	return m.Data.URL
}
