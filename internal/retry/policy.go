// Package retry classifies upstream failures and turns attempt counts into
// delays, so callers never hand-roll sleep loops.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
)

// Kind buckets an error by how it should be handled.
type Kind int

const (
	// KindTransient covers network hiccups and upstream 5xx: retry with backoff.
	KindTransient Kind = iota
	// KindRateLimited means the upstream rejected for request-weight reasons:
	// retry, but prefer the longer end of the backoff.
	KindRateLimited
	// KindPermanent covers bad symbols, auth failures and other errors a retry
	// cannot fix: fail fast.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Binance API error codes the engine reacts to. See binance-docs "Error Codes".
const (
	codeTooManyRequests  = -1003
	codeTooManyOrders    = -1015
	codeInvalidSymbol    = -1121
	codeUnauthorized     = -2014
	codeInvalidSignature = -2015
)

// Classify maps an error to a Kind. Unknown errors count as transient: the
// caller's bounded attempt budget keeps that safe.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeTooManyRequests, codeTooManyOrders:
			return KindRateLimited
		case codeInvalidSymbol, codeUnauthorized, codeInvalidSignature:
			return KindPermanent
		}
		// Binance surfaces 5xx as positive codes in the -1000 block or via
		// HTTP status; anything else API-shaped is worth retrying.
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	return KindTransient
}

// Policy decides, from (attempt, error), the next delay or "give up".
// The zero value is unusable; construct with NewPolicy.
type Policy struct {
	MaxAttempts int
	b           *backoff.Backoff
}

// NewPolicy builds a bounded exponential backoff policy. attempt 1 waits min,
// each further attempt multiplies by factor up to max.
func NewPolicy(maxAttempts int, min, max time.Duration, factor float64) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if factor < 1 {
		factor = 2
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		b: &backoff.Backoff{
			Min:    min,
			Max:    max,
			Factor: factor,
			Jitter: false,
		},
	}
}

// Next reports the delay before retrying after the given failed attempt
// (1-based), or ok=false when the error is permanent or the budget is spent.
func (p *Policy) Next(attempt int, err error) (time.Duration, bool) {
	if Classify(err) == KindPermanent {
		return 0, false
	}
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	d := p.b.ForAttempt(float64(attempt - 1))
	if Classify(err) == KindRateLimited {
		// Rate-limit rejections already cost request weight; back off harder.
		d = p.b.ForAttempt(float64(attempt))
	}
	return d, true
}

// Sleep waits for d or until the context ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
