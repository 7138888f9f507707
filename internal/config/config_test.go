package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlockSize(t *testing.T) {
	cases := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{"10M", 10 * MB, false},
		{"512K", 512 * KB, false},
		{"1G", 1 * GB, false},
		{"100B", 100 * B, false},
		{100, 100, false},
		{int64(200), 200, false},
		{"0M", 0, true},
		{"-5M", 0, true},
		{"10X", 0, true},
		{"M", 0, true},
		{3.14, 0, true},
	}
	for _, c := range cases {
		got, err := ParseBlockSize(c.in)
		if c.wantErr {
			assert.Error(t, err, "%v", c.in)
			var cfgErr *InvalidConfigError
			assert.ErrorAs(t, err, &cfgErr)
			continue
		}
		require.NoError(t, err, "%v", c.in)
		assert.Equal(t, c.want, got, "%v", c.in)
	}
}

func TestParseConflictPolicy(t *testing.T) {
	p, err := ParseConflictPolicy("RENAME")
	require.NoError(t, err)
	assert.Equal(t, Rename, p)

	_, err = ParseConflictPolicy("clobber")
	assert.Error(t, err)
}

func TestRuntimeConfigDefaults(t *testing.T) {
	var r *RuntimeConfig
	assert.Equal(t, DefaultRoads, r.GetRoads())
	assert.Equal(t, DefaultRetry, r.GetRetry())
	assert.Equal(t, DefaultInterval, r.GetInterval())
	assert.Equal(t, DefaultTimeout, r.GetTimeout())
	assert.Equal(t, ".", r.GetGoalPath())
	assert.True(t, r.GetSplit())
	assert.Equal(t, int64(DefaultBlockSize), r.GetBlockSize())
	assert.Equal(t, Rename, r.GetFileExists())
	assert.Equal(t, DefaultRecorderCacheSize, r.GetRecorderCacheSize())
	assert.Equal(t, VerbosityFailed, r.GetPrintMode())
	assert.Equal(t, VerbosityNone, r.GetLogMode())
}

func TestRuntimeConfigSplitZeroValue(t *testing.T) {
	r := &RuntimeConfig{Split: false, SplitSet: true}
	assert.False(t, r.GetSplit(), "explicit false must be honored once SplitSet is true")

	r2 := &RuntimeConfig{}
	assert.True(t, r2.GetSplit(), "unset Split defaults to true")
}

func TestGBIsConventional(t *testing.T) {
	assert.Equal(t, int64(1024*1024*1024), GB)
}
