package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
)

func apiErr(code int64) error {
	return &common.APIError{Code: code, Message: "boom"}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindRateLimited, Classify(apiErr(-1003)))
	assert.Equal(t, KindPermanent, Classify(apiErr(-1121)))
	assert.Equal(t, KindPermanent, Classify(apiErr(-2014)))
	assert.Equal(t, KindPermanent, Classify(apiErr(-2015)))
	assert.Equal(t, KindTransient, Classify(apiErr(-1000)))
	assert.Equal(t, KindTransient, Classify(errors.New("connection reset")))
	assert.Equal(t, KindTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindPermanent, Classify(context.Canceled))
}

func TestPolicyNext(t *testing.T) {
	p := NewPolicy(4, 100*time.Millisecond, 2*time.Second, 2)
	transient := errors.New("dial tcp: i/o timeout")

	d1, ok := p.Next(1, transient)
	assert.True(t, ok)
	d2, ok := p.Next(2, transient)
	assert.True(t, ok)
	d3, ok := p.Next(3, transient)
	assert.True(t, ok)

	// Strictly increasing delays.
	assert.Less(t, d1, d2)
	assert.Less(t, d2, d3)
	assert.LessOrEqual(t, d3, 2*time.Second)

	// Budget exhausted.
	_, ok = p.Next(4, transient)
	assert.False(t, ok)
}

func TestPolicyPermanentFailsFast(t *testing.T) {
	p := NewPolicy(5, 100*time.Millisecond, time.Second, 2)
	_, ok := p.Next(1, apiErr(-1121))
	assert.False(t, ok)
}

func TestPolicyRateLimitedBacksOffHarder(t *testing.T) {
	p := NewPolicy(5, 100*time.Millisecond, 10*time.Second, 2)

	dTransient, ok := p.Next(2, errors.New("eof"))
	assert.True(t, ok)
	dLimited, ok := p.Next(2, apiErr(-1003))
	assert.True(t, ok)
	assert.Greater(t, dLimited, dTransient)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
