package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fetchkit/fetch/internal/config"
	"github.com/fetchkit/fetch/internal/engine"
	"github.com/fetchkit/fetch/internal/observe"
)

var getCmd = &cobra.Command{
	Use:   "get <url>...",
	Short: "Download one or more files, splitting disabled (spec.md §6 download())",
	Long:  `get submits each URL as a blocking, single-stream mission — the convenience wrapper spec.md §6 names "download()". Use "add" for split downloads of many URLs at once.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		for _, url := range args {
			eng.Add(&engine.MissionData{
				URL:      url,
				GoalDir:  flagOutput,
				Policy:   policy,
				Split:    false,
				SplitSet: true,
			})
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
