// Package cmd implements the fetch CLI: a thin cobra front-end over
// the engine package (spec.md §6's public surface). It is not part of
// the core — the core is a library; this package is the "complete
// repo" front-end called for in SPEC_FULL.md §10, laid out the way
// the teacher's own cmd/ package is laid out (one file per
// subcommand, a root.go wiring them together, a utils.go for shared
// helpers).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fetchkit/fetch/internal/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "fetch",
	Short:   "A concurrent HTTP(S) file download engine",
	Long:    `fetch is a concurrent HTTP(S) download engine: split large files into byte-range chunks, retry transient failures, and write through a single-writer buffer.`,
	Version: Version,
}

// persistent flags shared by get/add — spec.md §9's configure() keys.
var (
	flagOutput     string
	flagRoads      int
	flagRetry      int
	flagInterval   int
	flagTimeout    int
	flagSplit      bool
	flagNoSplit    bool
	flagBlockSize  string
	flagConflict   string
	flagNoTUI      bool
	flagLogPath    string
	flagLogVerbose string
	flagVerbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", ".", "destination directory")
	rootCmd.PersistentFlags().IntVar(&flagRoads, "roads", config.DefaultRoads, "maximum concurrent download streams")
	rootCmd.PersistentFlags().IntVar(&flagRetry, "retry", config.DefaultRetry, "retry attempts on transient failure")
	rootCmd.PersistentFlags().IntVar(&flagInterval, "interval", int(config.DefaultInterval.Seconds()), "seconds to wait between retries")
	rootCmd.PersistentFlags().IntVar(&flagTimeout, "timeout", int(config.DefaultTimeout.Seconds()), "per-request read timeout in seconds")
	rootCmd.PersistentFlags().BoolVar(&flagSplit, "split", true, "allow splitting large files into byte ranges")
	rootCmd.PersistentFlags().StringVar(&flagBlockSize, "block-size", "10M", "byte-range chunk size (e.g. 10M, 512K, 1G)")
	rootCmd.PersistentFlags().StringVar(&flagConflict, "file-exists", "rename", "conflict policy: skip|overwrite|rename|add")
	rootCmd.PersistentFlags().BoolVar(&flagNoTUI, "no-tui", false, "print plain progress lines instead of the TUI")
	rootCmd.PersistentFlags().StringVar(&flagLogPath, "log-db", "", "path to the sqlite terminal-mission log (disabled if empty)")
	rootCmd.PersistentFlags().StringVar(&flagLogVerbose, "log-mode", "failed", "log verbosity: all|failed|none")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "force-enable internal debug logging (see FETCH_DEBUG)")
	rootCmd.SetVersionTemplate("fetch version {{.Version}}\n")
}

// buildConfig turns the persistent flags into a RuntimeConfig (spec.md
// §9's configure(options) surface).
func buildConfig() (*config.RuntimeConfig, error) {
	blockSize, err := config.ParseBlockSize(flagBlockSize)
	if err != nil {
		return nil, err
	}
	policy, err := config.ParseConflictPolicy(flagConflict)
	if err != nil {
		return nil, err
	}
	logMode := config.Verbosity(flagLogVerbose)
	switch logMode {
	case config.VerbosityAll, config.VerbosityFailed, config.VerbosityNone:
	default:
		return nil, &config.InvalidConfigError{Field: "log-mode", Reason: "must be one of all, failed, none"}
	}

	return &config.RuntimeConfig{
		Roads:      flagRoads,
		Retry:      flagRetry,
		Interval:   secondsToDuration(flagInterval),
		Timeout:    secondsToDuration(flagTimeout),
		GoalPath:   flagOutput,
		Split:      flagSplit,
		SplitSet:   true,
		BlockSize:  blockSize,
		FileExists: policy,
		LogMode:    logMode,
		Verbose:    flagVerbose,
	}, nil
}

// Execute runs the fetch CLI, acquiring the single-instance lock for
// the process lifetime.
func Execute() {
	released, err := AcquireLock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}
	if released != nil {
		defer released()
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
}
