package buyback

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"buybackd/core/events"
)

// Owner returns the current owner address.
func (e *Engine) Owner() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.owner
}

// Admin returns the current admin address, which may be the zero address when unset.
func (e *Engine) Admin() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admin
}

// IsPaused reports whether settlement is currently rejected.
func (e *Engine) IsPaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Paused
}

// ParametersSnapshot returns a deep copy of the live parameters.
func (e *Engine) ParametersSnapshot() Parameters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Copy()
}

// authoriseLocked resolves the caller's role. Owner bypasses admin windows;
// admin must pass the window check supplied by the caller. Requires e.mu held.
func (e *Engine) authoriseLocked(caller common.Address) (isOwner bool, err error) {
	if caller == e.owner {
		return true, nil
	}
	if e.admin != (common.Address{}) && caller == e.admin {
		return false, nil
	}
	return false, ErrUnauthorized
}

// TransferOwnership reassigns the owner role. Owner only.
func (e *Engine) TransferOwnership(caller, next common.Address) error {
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrOwnerOnly
	}
	previous := e.owner
	e.owner = next
	e.emitter.Emit(events.BuybackRoleUpdated{Role: "owner", Previous: previous, Current: next, By: caller})
	return nil
}

// SetAdmin rotates the single admin slot. Owner or the current admin may rotate.
func (e *Engine) SetAdmin(caller, next common.Address) error {
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.authoriseLocked(caller); err != nil {
		return err
	}
	previous := e.admin
	e.admin = next
	e.emitter.Emit(events.BuybackRoleUpdated{Role: "admin", Previous: previous, Current: next, By: caller})
	return nil
}

// Pause halts settlement. Owner or admin; idempotent.
func (e *Engine) Pause(caller common.Address) error {
	return e.setPaused(caller, true)
}

// Unpause resumes settlement. Owner or admin; idempotent.
func (e *Engine) Unpause(caller common.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.authoriseLocked(caller); err != nil {
		return err
	}
	if e.params.Paused == paused {
		return nil
	}
	e.params.Paused = paused
	e.emitter.Emit(events.BuybackPauseChanged{Paused: paused, By: caller})
	return nil
}

// SetDiscountBps updates the discount applied below the oracle price. Admin
// writes are confined to the owner-set window; the owner bypasses it.
func (e *Engine) SetDiscountBps(caller common.Address, bps uint64) error {
	if bps > basisPoints {
		return ErrDiscountOutOfRange
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	isOwner, err := e.authoriseLocked(caller)
	if err != nil {
		return err
	}
	if !isOwner {
		if bps < e.params.MinAdminDiscountBps || bps > e.params.MaxAdminDiscountBps {
			return ErrDiscountOutsideWindow
		}
	}
	old := e.params.DiscountBps
	e.params.DiscountBps = bps
	e.emitter.Emit(events.BuybackParameterUpdated{
		Name: "discountBps",
		Old:  strconv.FormatUint(old, 10),
		New:  strconv.FormatUint(bps, 10),
		By:   caller,
	})
	return nil
}

// SetBaselineBuffer updates the demand baseline. Admin writes are confined to
// the owner-set window; the owner bypasses it.
func (e *Engine) SetBaselineBuffer(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrAmountInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	isOwner, err := e.authoriseLocked(caller)
	if err != nil {
		return err
	}
	if !isOwner {
		lower := zeroIfNil(e.params.MinAdminBaselineBuffer)
		upper := zeroIfNil(e.params.MaxAdminBaselineBuffer)
		if amount.Cmp(lower) < 0 || amount.Cmp(upper) > 0 {
			return ErrBaselineOutsideWindow
		}
	}
	old := zeroIfNil(e.params.BaselineBuffer)
	e.params.BaselineBuffer = new(big.Int).Set(amount)
	e.emitter.Emit(events.BuybackParameterUpdated{
		Name: "baselineBuffer",
		Old:  old.String(),
		New:  amount.String(),
		By:   caller,
	})
	return nil
}

// SetMinAdminDiscountBps moves the lower admin discount bound. Owner only.
// Bounds are set independently; the pair is not re-validated against each other.
func (e *Engine) SetMinAdminDiscountBps(caller common.Address, bps uint64) error {
	if bps > basisPoints {
		return ErrDiscountOutOfRange
	}
	return e.setOwnerBps(caller, "minAdminDiscountBps", &e.params.MinAdminDiscountBps, bps)
}

// SetMaxAdminDiscountBps moves the upper admin discount bound. Owner only.
func (e *Engine) SetMaxAdminDiscountBps(caller common.Address, bps uint64) error {
	if bps > basisPoints {
		return ErrDiscountOutOfRange
	}
	return e.setOwnerBps(caller, "maxAdminDiscountBps", &e.params.MaxAdminDiscountBps, bps)
}

func (e *Engine) setOwnerBps(caller common.Address, name string, slot *uint64, bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrOwnerOnly
	}
	old := *slot
	*slot = bps
	e.emitter.Emit(events.BuybackParameterUpdated{
		Name: name,
		Old:  strconv.FormatUint(old, 10),
		New:  strconv.FormatUint(bps, 10),
		By:   caller,
	})
	return nil
}

// SetMinAdminBaselineBuffer moves the lower admin baseline bound. Owner only.
func (e *Engine) SetMinAdminBaselineBuffer(caller common.Address, amount *big.Int) error {
	return e.setOwnerBaselineBound(caller, "minAdminBaselineBuffer", &e.params.MinAdminBaselineBuffer, amount)
}

// SetMaxAdminBaselineBuffer moves the upper admin baseline bound. Owner only.
func (e *Engine) SetMaxAdminBaselineBuffer(caller common.Address, amount *big.Int) error {
	return e.setOwnerBaselineBound(caller, "maxAdminBaselineBuffer", &e.params.MaxAdminBaselineBuffer, amount)
}

func (e *Engine) setOwnerBaselineBound(caller common.Address, name string, slot **big.Int, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrAmountInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrOwnerOnly
	}
	old := zeroIfNil(*slot)
	*slot = new(big.Int).Set(amount)
	e.emitter.Emit(events.BuybackParameterUpdated{
		Name: name,
		Old:  old.String(),
		New:  amount.String(),
		By:   caller,
	})
	return nil
}

// SetOracle swaps the price oracle reference. Owner only.
func (e *Engine) SetOracle(caller common.Address, oracle PriceOracle) error {
	if oracle == nil {
		return fmt.Errorf("buyback: price oracle required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrOwnerOnly
	}
	old := oracleLabel(e.oracle)
	e.oracle = oracle
	e.emitter.Emit(events.BuybackParameterUpdated{Name: "oracle", Old: old, New: oracleLabel(oracle), By: caller})
	return nil
}

// describer is implemented by oracles that can identify themselves in audit rows.
type describer interface {
	Describe() string
}

func oracleLabel(oracle PriceOracle) string {
	if oracle == nil {
		return ""
	}
	if d, ok := oracle.(describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", oracle)
}

// SetLedger swaps the debt ledger reference. Owner only.
func (e *Engine) SetLedger(caller common.Address, ledger DebtLedger) error {
	if ledger == nil {
		return fmt.Errorf("buyback: debt ledger required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrOwnerOnly
	}
	old := e.ledger.Address()
	e.ledger = ledger
	e.emitter.Emit(events.BuybackParameterUpdated{Name: "ledger", Old: old.Hex(), New: ledger.Address().Hex(), By: caller})
	return nil
}
