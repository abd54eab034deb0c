package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixSeconds_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 45, 123456000, time.UTC)

	parsed, err := ParseUnix(FormatUnix(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed), "expected %v, got %v", ts, parsed)
	assert.InDelta(t, UnixSeconds(ts), UnixSeconds(parsed), 1e-6)
}

func TestParseUnix_Invalid(t *testing.T) {
	_, err := ParseUnix("not-a-number")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid unix timestamp")
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "1700000000.5", FormatScore(1700000000.5))
	assert.Equal(t, "42", FormatScore(42))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-15T10:30:00Z", FormatTimestamp(ts))
}

func TestNowUTC(t *testing.T) {
	assert.Equal(t, time.UTC, NowUTC().Location())
}
