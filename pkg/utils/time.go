package utils

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// UnixSeconds converts a time to fractional unix seconds (microsecond precision)
// This is the representation used for record timestamps and sorted-set scores
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromUnixSeconds converts fractional unix seconds back to a time
func FromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}

// FormatUnix formats a timestamp as fractional unix seconds
func FormatUnix(t time.Time) string {
	return strconv.FormatFloat(UnixSeconds(t), 'f', 6, 64)
}

// ParseUnix parses a timestamp written by FormatUnix
func ParseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid unix timestamp %q: %w", s, err)
	}
	return FromUnixSeconds(sec), nil
}

// FormatScore renders a sorted-set score bound without losing precision
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// FormatTimestamp formats a timestamp to RFC3339
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// NowUTC returns the current time in UTC
func NowUTC() time.Time {
	return time.Now().UTC()
}
