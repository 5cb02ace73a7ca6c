package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDateUsesLocation(t *testing.T) {
	// UTC 2025-01-01 20:00 在上海已经是 1 月 2 日
	ts := time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-01", RunDate(ts, time.UTC))
	assert.Equal(t, "2025-01-02", RunDate(ts, ChinaLocation))
	assert.Equal(t, "2025-01-01", RunDate(ts, nil))
}

func TestParseRunDate(t *testing.T) {
	d, err := ParseRunDate("2025-03-04", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 4, d.Day())

	_, err = ParseRunDate("2025/03/04", time.UTC)
	assert.Error(t, err)
}

func TestLoadLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
}
