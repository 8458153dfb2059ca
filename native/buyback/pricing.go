package buyback

import (
	"context"
	"fmt"
	"math/big"
)

// discountedPrice applies the basis-point discount to the oracle rate, rounding down.
func discountedPrice(oraclePrice *big.Int, discountBps uint64) *big.Int {
	numerator := new(big.Int).Mul(oraclePrice, big.NewInt(int64(basisPoints-discountBps)))
	return numerator.Quo(numerator, big.NewInt(basisPoints))
}

// sellAmountOut converts a payment-asset amount into sell-asset units at the
// given 1e18-scaled price, rounding down.
func sellAmountOut(paymentIn, price *big.Int, payDecimals, sellDecimals uint8) *big.Int {
	numerator := new(big.Int).Mul(paymentIn, priceScale)
	numerator.Mul(numerator, pow10(sellDecimals))
	denominator := new(big.Int).Mul(price, pow10(payDecimals))
	return numerator.Quo(numerator, denominator)
}

// paymentAmountFor is the algebraic inverse of sellAmountOut, rounding down.
func paymentAmountFor(sellOut, price *big.Int, payDecimals, sellDecimals uint8) *big.Int {
	numerator := new(big.Int).Mul(sellOut, price)
	numerator.Mul(numerator, pow10(payDecimals))
	denominator := new(big.Int).Mul(priceScale, pow10(sellDecimals))
	return numerator.Quo(numerator, denominator)
}

// EffectivePrice returns the oracle rate with the current discount applied.
// The result is payment-per-sell scaled by 1e18.
func (e *Engine) EffectivePrice(ctx context.Context) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("buyback: engine not initialised")
	}
	e.mu.RLock()
	oracle := e.oracle
	discount := e.params.DiscountBps
	e.mu.RUnlock()
	return e.effectivePrice(ctx, oracle, discount)
}

func (e *Engine) effectivePrice(ctx context.Context, oracle PriceOracle, discountBps uint64) (*big.Int, error) {
	if oracle == nil {
		return nil, fmt.Errorf("buyback: price oracle not configured")
	}
	raw, err := oracle.Price(ctx)
	if err != nil {
		return nil, fmt.Errorf("buyback: oracle price: %w", err)
	}
	if raw == nil || raw.Sign() <= 0 {
		return nil, ErrPriceInvalid
	}
	price := discountedPrice(raw, discountBps)
	if price.Sign() <= 0 {
		return nil, ErrPriceInvalid
	}
	return price, nil
}

// SellAssetFor quotes the sell-asset amount paid out for the provided payment amount.
func (e *Engine) SellAssetFor(ctx context.Context, paymentIn *big.Int) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("buyback: engine not initialised")
	}
	if paymentIn == nil || paymentIn.Sign() < 0 {
		return nil, ErrAmountInvalid
	}
	price, err := e.EffectivePrice(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	payDec, sellDec := e.params.PayDecimals, e.params.SellDecimals
	e.mu.RUnlock()
	return sellAmountOut(paymentIn, price, payDec, sellDec), nil
}

// PaymentAssetFor quotes the payment-asset amount corresponding to a sell-asset amount.
func (e *Engine) PaymentAssetFor(ctx context.Context, sellOut *big.Int) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("buyback: engine not initialised")
	}
	if sellOut == nil || sellOut.Sign() < 0 {
		return nil, ErrAmountInvalid
	}
	price, err := e.EffectivePrice(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	payDec, sellDec := e.params.PayDecimals, e.params.SellDecimals
	e.mu.RUnlock()
	return paymentAmountFor(sellOut, price, payDec, sellDec), nil
}
