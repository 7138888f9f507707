package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fetchkit/fetch/internal/clipboard"
	"github.com/fetchkit/fetch/internal/config"
	"github.com/fetchkit/fetch/internal/engine"
	"github.com/fetchkit/fetch/internal/observe"
)

var (
	flagBatchFile      string
	flagWatchClipboard bool
)

var addCmd = &cobra.Command{
	Use:   "add [url...]",
	Short: "Enqueue one or more downloads without blocking per-URL (spec.md §6 add())",
	Long: `add enqueues every URL as its own mission up front, the way spec.md §6's
add(...) is meant to be called from a driver loop rather than once per file.
Unlike "get", split downloads are allowed by default. Since this build has no
background daemon to hand the missions to, the process still waits for all
enqueued missions to finish before it exits — but, unlike "get", it never
serializes submission behind one mission's completion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		urls := append([]string{}, args...)
		if flagBatchFile != "" {
			fromFile, err := readURLsFromFile(flagBatchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}

		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		eng := engine.New(cfg)
		defer eng.Shutdown()

		var sink *observe.LogSink
		if flagLogPath != "" {
			sink, err = observe.OpenLogSink(flagLogPath, cfg.LogMode)
			if err != nil {
				return err
			}
			defer sink.Close()
			stop := make(chan struct{})
			defer close(stop)
			go sink.Run(eng, stop)
		}

		policy, err := config.ParseConflictPolicy(flagConflict)
		if err != nil {
			return err
		}

		submit := func(url string) {
			eng.Add(&engine.MissionData{
				URL:     url,
				GoalDir: flagOutput,
				Policy:  policy,
			})
		}
		for _, u := range urls {
			submit(u)
		}

		if flagWatchClipboard {
			fmt.Fprintln(os.Stderr, "fetch: watching clipboard for URLs, press ctrl+c to stop")
			go watchClipboard(submit)
		}

		if len(urls) == 0 && !flagWatchClipboard {
			return fmt.Errorf("add: no URLs given (pass arguments, --batch-file, or --watch-clipboard)")
		}

		if flagNoTUI {
			observe.RunHeadless(os.Stdout, eng)
		} else if err := observe.Run(eng); err != nil {
			return err
		}

		var failed int
		for _, m := range eng.GetFailedMissions() {
			failed++
			_, info := m.Result()
			fmt.Fprintf(os.Stderr, "failed: %s: %s\n", m.Data.URL, info)
		}
		if failed > 0 {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&flagBatchFile, "batch-file", "", "read additional URLs, one per line, from this file")
	addCmd.Flags().BoolVar(&flagWatchClipboard, "watch-clipboard", false, "submit every new URL copied to the clipboard")
}

// watchClipboard polls the clipboard on an interval and submits every
// URL the Watcher has not already reported, including a paste that
// carries more than one link at once.
func watchClipboard(submit func(string)) {
	const pollInterval = 1 * time.Second
	w := clipboard.NewWatcher()
	for range time.Tick(pollInterval) {
		for _, u := range w.Poll() {
			submit(u)
		}
	}
}
