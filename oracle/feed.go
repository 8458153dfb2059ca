package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrNoPrice is returned when no aggregation cycle has completed yet.
	ErrNoPrice = errors.New("oracle: no price available")
	// ErrStalePrice is returned when the latest aggregate is older than the feed tolerates.
	ErrStalePrice = errors.New("oracle: price stale")
)

var rateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Feed exposes the manager's latest median for one pair as a 1e18-scaled
// integer rate, refusing to serve anything older than maxAge.
type Feed struct {
	manager *Manager
	base    string
	quote   string
	maxAge  time.Duration
	clock   func() time.Time
}

// NewFeed constructs a staleness-guarded price feed over the manager.
func NewFeed(manager *Manager, base, quote string, maxAge time.Duration) (*Feed, error) {
	if manager == nil {
		return nil, fmt.Errorf("oracle: manager required")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &Feed{manager: manager, base: base, quote: quote, maxAge: maxAge, clock: time.Now}, nil
}

// Describe identifies the feed in governance audit rows.
func (f *Feed) Describe() string {
	return fmt.Sprintf("median %s/%s", f.base, f.quote)
}

// SetClock overrides the time source, enabling deterministic unit tests.
func (f *Feed) SetClock(clock func() time.Time) {
	if f == nil || clock == nil {
		return
	}
	f.clock = clock
}

// Price implements the engine's oracle contract, floor-scaling the median to 1e18.
func (f *Feed) Price(context.Context) (*big.Int, error) {
	if f == nil {
		return nil, fmt.Errorf("oracle: feed not configured")
	}
	agg, ok := f.manager.Latest(f.base, f.quote)
	if !ok || agg.Median == nil {
		return nil, ErrNoPrice
	}
	age := f.clock().Sub(agg.Time)
	if age > f.maxAge {
		return nil, fmt.Errorf("%w: aggregate is %s old", ErrStalePrice, age.Truncate(time.Second))
	}
	scaled := new(big.Int).Mul(agg.Median.Num(), rateScale)
	return scaled.Quo(scaled, agg.Median.Denom()), nil
}
