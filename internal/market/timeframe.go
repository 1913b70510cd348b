package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle bucket width ("15m", "1h", "4h", "1d", "1w").
type Timeframe struct {
	code string
	dur  time.Duration
}

// ParseTimeframe parses "15m", "1h", "4h", "1d", "1w" style codes.
func ParseTimeframe(code string) (Timeframe, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Timeframe{}, fmt.Errorf("timeframe is required")
	}
	unit := code[len(code)-1]
	numStr := strings.TrimSpace(code[:len(code)-1])
	if numStr == "" {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", code)
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", code)
	}
	var dur time.Duration
	switch unit {
	case 'm':
		dur = time.Duration(n) * time.Minute
	case 'h':
		dur = time.Duration(n) * time.Hour
	case 'd':
		dur = time.Duration(n) * 24 * time.Hour
	case 'w':
		dur = time.Duration(n) * 7 * 24 * time.Hour
	default:
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", code)
	}
	return Timeframe{code: code, dur: dur}, nil
}

// MustTimeframe is ParseTimeframe for constants known to be valid.
func MustTimeframe(code string) Timeframe {
	tf, err := ParseTimeframe(code)
	if err != nil {
		panic(err)
	}
	return tf
}

func (tf Timeframe) String() string           { return tf.code }
func (tf Timeframe) Duration() time.Duration  { return tf.dur }
func (tf Timeframe) Milliseconds() int64      { return tf.dur.Milliseconds() }
func (tf Timeframe) IsZero() bool             { return tf.dur == 0 }

// Truncate aligns a millisecond timestamp down to the nearest bucket open.
func (tf Timeframe) Truncate(ms int64) int64 {
	step := tf.Milliseconds()
	if step <= 0 {
		return ms
	}
	if ms < 0 {
		return ms - (ms%step+step)%step
	}
	return ms - ms%step
}

// Candles reports how many buckets fit in the closed-open range [start, end).
func (tf Timeframe) Candles(start, end int64) int64 {
	step := tf.Milliseconds()
	if step <= 0 || end <= start {
		return 0
	}
	return (end - start + step - 1) / step
}
