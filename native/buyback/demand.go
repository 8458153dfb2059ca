package buyback

import (
	"context"
	"fmt"
	"math/big"
)

// DemandNeeded estimates how much payment asset the ledger still needs: the
// configured baseline buffer plus outstanding debt, less the payment balance
// the ledger already holds. The result never goes below zero.
func (e *Engine) DemandNeeded(ctx context.Context) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("buyback: engine not initialised")
	}
	e.mu.RLock()
	ledger := e.ledger
	baseline := zeroIfNil(e.params.BaselineBuffer)
	e.mu.RUnlock()
	return demandNeeded(ctx, ledger, baseline)
}

func demandNeeded(ctx context.Context, ledger DebtLedger, baseline *big.Int) (*big.Int, error) {
	if ledger == nil {
		return nil, fmt.Errorf("buyback: debt ledger not configured")
	}
	debt, err := ledger.TotalDebt(ctx)
	if err != nil {
		return nil, fmt.Errorf("buyback: ledger total debt: %w", err)
	}
	balance, err := ledger.PaymentBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("buyback: ledger payment balance: %w", err)
	}
	needed := new(big.Int).Add(baseline, zeroIfNil(debt))
	needed.Sub(needed, zeroIfNil(balance))
	if needed.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return needed, nil
}
