// Package config holds the engine's tunables: the RuntimeConfig surface
// validated the way the teacher's Setter/descriptor objects validate,
// the conflict-policy enum, and block-size parsing.
package config

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Byte-size units. The source DownloadKit's 'G' unit evaluates to
// 21474836480 (20*2^30) instead of the conventional 2^30 — see
// DESIGN.md. We use the conventional constant here and document the
// discrepancy rather than reproduce the bug.
const (
	B  int64 = 1
	KB       = 1024 * B
	MB       = 1024 * KB
	GB       = 1024 * MB
)

// Defaults mirrored from the teacher's engine/types size & timeout
// constants, retargeted to the mission/task model.
const (
	DefaultRoads             = 10
	DefaultRetry             = 3
	DefaultInterval          = 5 * time.Second
	DefaultTimeout           = 20 * time.Second
	DefaultBlockSize         = 10 * MB
	DefaultRecorderCacheSize = 100
	DefaultUserAgent         = "Mozilla/5.0 (compatible; fetch/1.0; +https://github.com/fetchkit/fetch)"
	DefaultDialTimeout       = 10 * time.Second
	DefaultIdleConnTimeout   = 90 * time.Second
	MaxNameWidth             = 255
)

// ConflictPolicy is applied when the resolved destination path already
// exists.
type ConflictPolicy string

const (
	Skip      ConflictPolicy = "skip"
	Overwrite ConflictPolicy = "overwrite"
	Rename    ConflictPolicy = "rename"
	Add       ConflictPolicy = "add"
)

// ParseConflictPolicy validates a policy string the way the source's
// FileExistsSetter.__set__ does.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(s)) {
	case Skip, Overwrite, Rename, Add:
		return ConflictPolicy(strings.ToLower(s)), nil
	default:
		return "", &InvalidConfigError{Field: "fileExists", Reason: "must be one of skip, overwrite, rename, add"}
	}
}

// Verbosity controls what the print/log observers emit.
type Verbosity string

const (
	VerbosityAll    Verbosity = "all"
	VerbosityFailed Verbosity = "failed"
	VerbosityNone   Verbosity = "none"
)

// InvalidConfigError is returned by every setter/ParseX that rejects
// its input, per spec.md §9 ("fails with a typed error").
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config for %s: %s", e.Field, e.Reason)
}

// RuntimeConfig is the engine's tunable surface. A nil *RuntimeConfig,
// or a zero-valued field on a non-nil one, yields the package default
// — mirrored from the teacher's RuntimeConfig Get* accessors
// (internal/engine/types/config_test.go). The exceptions are fields
// whose zero value is meaningful: Retry 0 means no retries (only a
// negative Retry yields DefaultRetry), and Split and Verbose are
// described on their own accessors.
type RuntimeConfig struct {
	Roads             int
	Retry             int
	Interval          time.Duration
	Timeout           time.Duration
	GoalPath          string
	Split             bool
	SplitSet          bool // distinguishes "false" from "unset" since Split's zero value is meaningful
	BlockSize         int64
	FileExists        ConflictPolicy
	RecorderCacheSize int
	UserAgent         string
	ProxyHTTP         string
	ProxyHTTPS        string
	PrintMode         Verbosity
	LogMode           Verbosity
	HTTPClient        *http.Client
	PageURL           string
	// Verbose gates the ambient internal/xlog debug logger, the way
	// the teacher's Debug() call sites are gated by an env var (see
	// DESIGN.md). Off by default; its zero value is meaningful.
	Verbose bool
}

func (r *RuntimeConfig) GetRoads() int {
	if r == nil || r.Roads <= 0 {
		return DefaultRoads
	}
	return r.Roads
}

func (r *RuntimeConfig) GetRetry() int {
	if r == nil || r.Retry < 0 {
		return DefaultRetry
	}
	return r.Retry
}

func (r *RuntimeConfig) GetInterval() time.Duration {
	if r == nil || r.Interval <= 0 {
		return DefaultInterval
	}
	return r.Interval
}

func (r *RuntimeConfig) GetTimeout() time.Duration {
	if r == nil || r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

func (r *RuntimeConfig) GetGoalPath() string {
	if r == nil || r.GoalPath == "" {
		return "."
	}
	return r.GoalPath
}

// GetSplit returns whether split-downloading is enabled. Unlike the
// other getters, the zero value (false) is meaningful, so callers that
// never configured Split explicitly get the teacher's "on" default
// (tracked via SplitSet).
func (r *RuntimeConfig) GetSplit() bool {
	if r == nil || !r.SplitSet {
		return true
	}
	return r.Split
}

func (r *RuntimeConfig) GetBlockSize() int64 {
	if r == nil || r.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return r.BlockSize
}

func (r *RuntimeConfig) GetFileExists() ConflictPolicy {
	if r == nil || r.FileExists == "" {
		return Rename
	}
	return r.FileExists
}

func (r *RuntimeConfig) GetRecorderCacheSize() int {
	if r == nil || r.RecorderCacheSize <= 0 {
		return DefaultRecorderCacheSize
	}
	return r.RecorderCacheSize
}

func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return DefaultUserAgent
	}
	return r.UserAgent
}

func (r *RuntimeConfig) GetPrintMode() Verbosity {
	if r == nil || r.PrintMode == "" {
		return VerbosityFailed
	}
	return r.PrintMode
}

func (r *RuntimeConfig) GetLogMode() Verbosity {
	if r == nil || r.LogMode == "" {
		return VerbosityNone
	}
	return r.LogMode
}

func (r *RuntimeConfig) GetHTTPClient() *http.Client {
	if r == nil {
		return nil
	}
	return r.HTTPClient
}

func (r *RuntimeConfig) GetVerbose() bool {
	return r != nil && r.Verbose
}

// ParseBlockSize accepts an integer byte count or a string with a
// suffix among {B,K,M,G} (case-insensitive), e.g. "50M" == 50*MB.
func ParseBlockSize(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return validatePositive(int64(t))
	case int64:
		return validatePositive(t)
	case string:
		return parseBlockSizeString(t)
	default:
		return 0, &InvalidConfigError{Field: "blockSize", Reason: "must be an int or string"}
	}
}

func validatePositive(n int64) (int64, error) {
	if n <= 0 {
		return 0, &InvalidConfigError{Field: "blockSize", Reason: "must be a positive integer"}
	}
	return n, nil
}

func parseBlockSizeString(s string) (int64, error) {
	if len(s) < 2 {
		return 0, &InvalidConfigError{Field: "blockSize", Reason: "string form needs a numeric prefix and a unit suffix"}
	}
	unitChar := strings.ToLower(s[len(s)-1:])
	units := map[string]int64{"b": B, "k": KB, "m": MB, "g": GB}
	unit, ok := units[unitChar]
	if !ok {
		return 0, &InvalidConfigError{Field: "blockSize", Reason: "unit must be one of B, K, M, G"}
	}
	num, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || num <= 0 {
		return 0, &InvalidConfigError{Field: "blockSize", Reason: "numeric prefix must be a positive integer"}
	}
	return num * unit, nil
}
