package buyback

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TreasuryInventory pays the sell asset out of an external treasury address.
type TreasuryInventory struct {
	token    Token
	treasury common.Address
}

// NewTreasuryInventory wires a sell-asset token to the treasury it spends from.
func NewTreasuryInventory(token Token, treasury common.Address) (*TreasuryInventory, error) {
	if token == nil {
		return nil, fmt.Errorf("buyback: sell token required")
	}
	if treasury == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	return &TreasuryInventory{token: token, treasury: treasury}, nil
}

// BalanceAvailable implements the Inventory interface.
func (i *TreasuryInventory) BalanceAvailable(ctx context.Context) (*big.Int, error) {
	return i.token.BalanceOf(ctx, i.treasury)
}

// TransferOut implements the Inventory interface.
func (i *TreasuryInventory) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	return i.token.Transfer(ctx, i.treasury, to, amount)
}

// SelfInventory pays the sell asset out of a balance held under the engine's
// own address. Operationally identical to TreasuryInventory but keeps the
// custody distinction explicit for operators.
type SelfInventory struct {
	token Token
	self  common.Address
}

// NewSelfInventory wires a sell-asset token to the engine's own holding address.
func NewSelfInventory(token Token, self common.Address) (*SelfInventory, error) {
	if token == nil {
		return nil, fmt.Errorf("buyback: sell token required")
	}
	if self == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	return &SelfInventory{token: token, self: self}, nil
}

// BalanceAvailable implements the Inventory interface.
func (i *SelfInventory) BalanceAvailable(ctx context.Context) (*big.Int, error) {
	return i.token.BalanceOf(ctx, i.self)
}

// TransferOut implements the Inventory interface.
func (i *SelfInventory) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	return i.token.Transfer(ctx, i.self, to, amount)
}
