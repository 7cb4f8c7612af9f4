package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "00:02:05", FormatDuration(125*time.Second))
	assert.Equal(t, "01:00:00", FormatDuration(time.Hour))
	assert.Equal(t, "27:46:39", FormatDuration(99999*time.Second))
	// 四舍五入到整秒
	assert.Equal(t, "00:00:02", FormatDuration(1500*time.Millisecond))
	// 负时长不产生负记录
	assert.Equal(t, "00:00:00", FormatDuration(-5*time.Second))
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("00:02:05")
	require.NoError(t, err)
	assert.Equal(t, 125*time.Second, d)

	_, err = ParseDuration("not-a-duration")
	assert.Error(t, err)
}

func TestParseDisplayDate(t *testing.T) {
	ts, err := ParseDisplayDate("25/12/2025 14:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 25, 14, 30, 0, 0, time.UTC), ts)

	// 旧记录可能只有日期没有时间
	ts, err = ParseDisplayDate("01/02/2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), ts)

	_, err = ParseDisplayDate("2024-02-01")
	assert.Error(t, err)
}
