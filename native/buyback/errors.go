package buyback

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrPaused is returned when settlement is attempted while the engine is paused.
	ErrPaused = errors.New("buyback: engine paused")
	// ErrReentrantCall is returned when a settlement call re-enters the engine
	// before the outer call has finished.
	ErrReentrantCall = errors.New("buyback: reentrant call")
	// ErrUnauthorized is returned when the caller holds neither the owner nor the admin role.
	ErrUnauthorized = errors.New("buyback: caller not authorised")
	// ErrOwnerOnly is returned when a non-owner attempts an owner-only mutation.
	ErrOwnerOnly = errors.New("buyback: owner only")
	// ErrAmountInvalid is returned when a requested amount is nil or negative.
	ErrAmountInvalid = errors.New("buyback: amount must not be negative")
	// ErrPriceInvalid is returned when the oracle or the discounted price is not positive.
	ErrPriceInvalid = errors.New("buyback: price must be positive")
	// ErrDiscountOutOfRange is returned when a discount exceeds 10000 basis points.
	ErrDiscountOutOfRange = errors.New("buyback: discount exceeds 10000 basis points")
	// ErrDiscountOutsideWindow is returned when an admin sets a discount outside the owner-set window.
	ErrDiscountOutsideWindow = errors.New("buyback: discount outside admin window")
	// ErrBaselineOutsideWindow is returned when an admin sets a baseline buffer outside the owner-set window.
	ErrBaselineOutsideWindow = errors.New("buyback: baseline buffer outside admin window")
	// ErrInventoryShort is returned when the sell-asset inventory cannot cover the payout.
	ErrInventoryShort = errors.New("buyback: insufficient sell-asset inventory")
	// ErrRecipientInvalid is returned when a callback recipient is nil or reports a zero address.
	ErrRecipientInvalid = errors.New("buyback: callback recipient invalid")
	// ErrZeroAddress is returned when a role would be assigned to the zero address.
	ErrZeroAddress = errors.New("buyback: zero address")
)

// ShortfallError reports a callback settlement that repaid less than the amount due.
type ShortfallError struct {
	Expected *big.Int
	Received *big.Int
}

// Error satisfies the error interface with the expected and observed amounts.
func (e *ShortfallError) Error() string {
	if e == nil {
		return ""
	}
	expected := big.NewInt(0)
	if e.Expected != nil {
		expected = e.Expected
	}
	received := big.NewInt(0)
	if e.Received != nil {
		received = e.Received
	}
	return fmt.Sprintf("buyback: callback shortfall: expected %s received %s", expected, received)
}
