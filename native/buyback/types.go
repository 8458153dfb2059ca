package buyback

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol identifies which settlement path produced a trade.
type Protocol string

const (
	// ProtocolPull settles by pulling the payment asset from the caller first.
	ProtocolPull Protocol = "pull"
	// ProtocolFlash fronts the sell asset and verifies repayment through a callback.
	ProtocolFlash Protocol = "flash"
)

// DebtLedger exposes the external obligation book the engine services. The
// ledger tracks an outstanding total and holds payment-asset balance earmarked
// for repayment.
type DebtLedger interface {
	// TotalDebt returns the outstanding obligation in payment-asset units.
	TotalDebt(ctx context.Context) (*big.Int, error)
	// PaymentBalance returns the payment-asset balance already held by the ledger.
	PaymentBalance(ctx context.Context) (*big.Int, error)
	// Repay credits the ledger with a settled payment amount.
	Repay(ctx context.Context, amount *big.Int) error
	// Address is the destination for payment-asset transfers into the ledger.
	Address() common.Address
}

// PriceOracle supplies the payment-per-sell exchange rate scaled by 1e18.
type PriceOracle interface {
	Price(ctx context.Context) (*big.Int, error)
}

// Token is the transfer primitive for the payment asset. Implementations fail
// the transfer when the source balance is insufficient.
type Token interface {
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// Inventory abstracts where the sell asset is paid out from.
type Inventory interface {
	// BalanceAvailable returns the sell-asset balance the engine may spend.
	BalanceAvailable(ctx context.Context) (*big.Int, error)
	// TransferOut moves sell asset from the inventory to the recipient.
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
}

// CallbackRecipient receives fronted sell asset during a flash settlement and
// is expected to deliver the payment due before the callback returns.
type CallbackRecipient interface {
	// RecipientAddress is where the fronted sell asset is delivered.
	RecipientAddress() common.Address
	// OnPaymentDue is invoked after the sell asset has been fronted. The
	// implementation must move at least amountDue of payment asset to the
	// ledger before returning.
	OnPaymentDue(ctx context.Context, caller common.Address, amountDue *big.Int, data []byte) error
}

// TradeReceipt records one settled trade for audit and persistence.
type TradeReceipt struct {
	ID             string
	Protocol       Protocol
	Caller         common.Address
	Recipient      common.Address
	PaymentIn      *big.Int
	SellOut        *big.Int
	EffectivePrice *big.Int
	DiscountBps    uint64
	Timestamp      time.Time
}

// Copy returns a deep copy to shield callers from accidental mutation.
func (r *TradeReceipt) Copy() *TradeReceipt {
	if r == nil {
		return nil
	}
	clone := &TradeReceipt{
		ID:          r.ID,
		Protocol:    r.Protocol,
		Caller:      r.Caller,
		Recipient:   r.Recipient,
		DiscountBps: r.DiscountBps,
		Timestamp:   r.Timestamp,
	}
	if r.PaymentIn != nil {
		clone.PaymentIn = new(big.Int).Set(r.PaymentIn)
	}
	if r.SellOut != nil {
		clone.SellOut = new(big.Int).Set(r.SellOut)
	}
	if r.EffectivePrice != nil {
		clone.EffectivePrice = new(big.Int).Set(r.EffectivePrice)
	}
	return clone
}

// ReceiptSink consumes settled trade receipts. Implementations handle their own
// failures; a sink error never unwinds a settled trade.
type ReceiptSink interface {
	RecordTrade(ctx context.Context, receipt *TradeReceipt)
}

// NoopReceiptSink discards receipts.
type NoopReceiptSink struct{}

// RecordTrade implements the ReceiptSink interface.
func (NoopReceiptSink) RecordTrade(context.Context, *TradeReceipt) {}
