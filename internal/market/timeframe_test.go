package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1m", time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{" 4H ", 4 * time.Hour},
	}
	for _, c := range cases {
		tf, err := ParseTimeframe(c.in)
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, tf.Duration(), c.in)
	}

	for _, in := range []string{"", "h", "0h", "-1h", "4x", "4"} {
		_, err := ParseTimeframe(in)
		assert.Error(t, err, in)
	}
}

func TestTimeframeTruncate(t *testing.T) {
	tf := MustTimeframe("4h")
	step := tf.Milliseconds()

	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC).UnixMilli()
	aligned := tf.Truncate(ts)
	assert.Equal(t, int64(0), aligned%step)
	assert.LessOrEqual(t, aligned, ts)
	assert.Greater(t, aligned+step, ts)

	// Already aligned timestamps are unchanged.
	assert.Equal(t, aligned, tf.Truncate(aligned))
}

func TestTimeframeCandles(t *testing.T) {
	tf := MustTimeframe("4h")
	step := tf.Milliseconds()

	assert.Equal(t, int64(0), tf.Candles(100, 100))
	assert.Equal(t, int64(1), tf.Candles(0, step))
	assert.Equal(t, int64(2), tf.Candles(0, step+1))

	// One year of 4h candles.
	year := int64(365 * 24 * time.Hour / time.Millisecond)
	assert.Equal(t, int64(2190), tf.Candles(0, year))
}
