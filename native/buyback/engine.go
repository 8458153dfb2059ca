package buyback

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"buybackd/core/events"
)

// entryGuard is a non-blocking single-entry latch. It stays held across the
// whole settlement call, including the flash callback, so any re-entry through
// a collaborator fails instead of observing half-settled state.
type entryGuard struct {
	held atomic.Bool
}

func (g *entryGuard) enter() bool { return g.held.CompareAndSwap(false, true) }

func (g *entryGuard) exit() { g.held.Store(false) }

// Engine settles buyback trades against an external debt ledger at an
// oracle-discounted price. One instance services one payment/sell asset pair.
type Engine struct {
	mu    sync.RWMutex
	guard entryGuard

	ledger    DebtLedger
	oracle    PriceOracle
	payToken  Token
	inventory Inventory

	owner  common.Address
	admin  common.Address
	params Parameters

	emitter events.Emitter
	sink    ReceiptSink
	clock   func() time.Time
}

// NewEngine constructs a settlement engine. The owner address and every
// collaborator are required; params must validate.
func NewEngine(owner common.Address, ledger DebtLedger, oracle PriceOracle, payToken Token, inventory Inventory, params Parameters) (*Engine, error) {
	if owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if ledger == nil {
		return nil, fmt.Errorf("buyback: debt ledger required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("buyback: price oracle required")
	}
	if payToken == nil {
		return nil, fmt.Errorf("buyback: payment token required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("buyback: inventory required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		ledger:    ledger,
		oracle:    oracle,
		payToken:  payToken,
		inventory: inventory,
		owner:     owner,
		params:    params.Copy(),
		emitter:   events.NoopEmitter{},
		sink:      NoopReceiptSink{},
		clock:     time.Now,
	}, nil
}

// SetClock overrides the time source, enabling deterministic unit tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetEmitter wires an event emitter. A nil emitter resets to the no-op default.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetReceiptSink wires a receipt sink. A nil sink resets to the no-op default.
func (e *Engine) SetReceiptSink(sink ReceiptSink) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if sink == nil {
		e.sink = NoopReceiptSink{}
		return
	}
	e.sink = sink
}

// settlementView is the consistent snapshot a settlement call works against.
type settlementView struct {
	ledger    DebtLedger
	oracle    PriceOracle
	payToken  Token
	inventory Inventory
	emitter   events.Emitter
	sink      ReceiptSink
	baseline  *big.Int
	discount  uint64
	payDec    uint8
	sellDec   uint8
}

func (e *Engine) snapshotForSettlement() (settlementView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.params.Paused {
		return settlementView{}, ErrPaused
	}
	return settlementView{
		ledger:    e.ledger,
		oracle:    e.oracle,
		payToken:  e.payToken,
		inventory: e.inventory,
		emitter:   e.emitter,
		sink:      e.sink,
		baseline:  zeroIfNil(e.params.BaselineBuffer),
		discount:  e.params.DiscountBps,
		payDec:    e.params.PayDecimals,
		sellDec:   e.params.SellDecimals,
	}, nil
}

// Buy settles a pull-then-pay trade: the payment asset is pulled from the
// caller into the ledger, the ledger is repaid, and the sell asset is paid out
// to the caller at the discounted price. The requested amount is capped by the
// current demand estimate; a zero effective amount returns an empty receipt
// without transfers or events.
func (e *Engine) Buy(ctx context.Context, caller common.Address, requested *big.Int) (*TradeReceipt, error) {
	if e == nil {
		return nil, fmt.Errorf("buyback: engine not initialised")
	}
	if !e.guard.enter() {
		return nil, ErrReentrantCall
	}
	defer e.guard.exit()

	if caller == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if requested == nil || requested.Sign() < 0 {
		return nil, ErrAmountInvalid
	}
	view, err := e.snapshotForSettlement()
	if err != nil {
		return nil, err
	}
	amount, err := e.capByDemand(ctx, view, requested)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return e.emptyReceipt(ProtocolPull, caller, caller), nil
	}
	price, err := e.effectivePrice(ctx, view.oracle, view.discount)
	if err != nil {
		return nil, err
	}
	sellOut := sellAmountOut(amount, price, view.payDec, view.sellDec)
	if err := e.checkInventory(ctx, view, sellOut); err != nil {
		return nil, err
	}
	if err := view.payToken.Transfer(ctx, caller, view.ledger.Address(), amount); err != nil {
		return nil, fmt.Errorf("buyback: pull payment: %w", err)
	}
	if err := view.ledger.Repay(ctx, amount); err != nil {
		return nil, fmt.Errorf("buyback: repay ledger: %w", err)
	}
	if err := view.inventory.TransferOut(ctx, caller, sellOut); err != nil {
		return nil, fmt.Errorf("buyback: pay out sell asset: %w", err)
	}
	receipt := e.newReceipt(ProtocolPull, caller, caller, amount, sellOut, price, view.discount)
	e.finalise(ctx, view, receipt)
	return receipt, nil
}

// FlashBuy settles a push-with-callback trade: the sell asset is fronted to
// the recipient, the recipient's callback runs, and the ledger's payment
// balance must have grown by at least the amount due when the callback
// returns. The actual balance increase is what gets repaid and recorded.
func (e *Engine) FlashBuy(ctx context.Context, caller common.Address, requested *big.Int, recipient CallbackRecipient, data []byte) (*TradeReceipt, error) {
	if e == nil {
		return nil, fmt.Errorf("buyback: engine not initialised")
	}
	if !e.guard.enter() {
		return nil, ErrReentrantCall
	}
	defer e.guard.exit()

	if caller == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if recipient == nil || recipient.RecipientAddress() == (common.Address{}) {
		return nil, ErrRecipientInvalid
	}
	if requested == nil || requested.Sign() < 0 {
		return nil, ErrAmountInvalid
	}
	view, err := e.snapshotForSettlement()
	if err != nil {
		return nil, err
	}
	amount, err := e.capByDemand(ctx, view, requested)
	if err != nil {
		return nil, err
	}
	recipientAddr := recipient.RecipientAddress()
	if amount.Sign() == 0 {
		return e.emptyReceipt(ProtocolFlash, caller, recipientAddr), nil
	}
	price, err := e.effectivePrice(ctx, view.oracle, view.discount)
	if err != nil {
		return nil, err
	}
	sellOut := sellAmountOut(amount, price, view.payDec, view.sellDec)
	if err := e.checkInventory(ctx, view, sellOut); err != nil {
		return nil, err
	}
	before, err := view.ledger.PaymentBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("buyback: ledger payment balance: %w", err)
	}
	if err := view.inventory.TransferOut(ctx, recipientAddr, sellOut); err != nil {
		return nil, fmt.Errorf("buyback: front sell asset: %w", err)
	}
	if err := recipient.OnPaymentDue(ctx, caller, new(big.Int).Set(amount), data); err != nil {
		return nil, fmt.Errorf("buyback: callback: %w", err)
	}
	after, err := view.ledger.PaymentBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("buyback: ledger payment balance: %w", err)
	}
	received := new(big.Int).Sub(zeroIfNil(after), zeroIfNil(before))
	if received.Cmp(amount) < 0 {
		return nil, &ShortfallError{Expected: new(big.Int).Set(amount), Received: received}
	}
	if err := view.ledger.Repay(ctx, received); err != nil {
		return nil, fmt.Errorf("buyback: repay ledger: %w", err)
	}
	receipt := e.newReceipt(ProtocolFlash, caller, recipientAddr, received, sellOut, price, view.discount)
	e.finalise(ctx, view, receipt)
	return receipt, nil
}

func (e *Engine) capByDemand(ctx context.Context, view settlementView, requested *big.Int) (*big.Int, error) {
	demand, err := demandNeeded(ctx, view.ledger, view.baseline)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(requested)
	if amount.Cmp(demand) > 0 {
		amount.Set(demand)
	}
	return amount, nil
}

func (e *Engine) checkInventory(ctx context.Context, view settlementView, sellOut *big.Int) error {
	available, err := view.inventory.BalanceAvailable(ctx)
	if err != nil {
		return fmt.Errorf("buyback: inventory balance: %w", err)
	}
	if available == nil || available.Cmp(sellOut) < 0 {
		return fmt.Errorf("%w: have %s need %s", ErrInventoryShort, zeroIfNil(available), sellOut)
	}
	return nil
}

func (e *Engine) newReceipt(protocol Protocol, caller, recipient common.Address, paymentIn, sellOut, price *big.Int, discountBps uint64) *TradeReceipt {
	return &TradeReceipt{
		ID:             uuid.NewString(),
		Protocol:       protocol,
		Caller:         caller,
		Recipient:      recipient,
		PaymentIn:      new(big.Int).Set(paymentIn),
		SellOut:        new(big.Int).Set(sellOut),
		EffectivePrice: new(big.Int).Set(price),
		DiscountBps:    discountBps,
		Timestamp:      e.clock().UTC(),
	}
}

func (e *Engine) emptyReceipt(protocol Protocol, caller, recipient common.Address) *TradeReceipt {
	return &TradeReceipt{
		ID:             uuid.NewString(),
		Protocol:       protocol,
		Caller:         caller,
		Recipient:      recipient,
		PaymentIn:      big.NewInt(0),
		SellOut:        big.NewInt(0),
		EffectivePrice: big.NewInt(0),
		Timestamp:      e.clock().UTC(),
	}
}

func (e *Engine) finalise(ctx context.Context, view settlementView, receipt *TradeReceipt) {
	view.emitter.Emit(events.BuybackTradeSettled{
		ReceiptID:      receipt.ID,
		Protocol:       string(receipt.Protocol),
		Caller:         receipt.Caller,
		Recipient:      receipt.Recipient,
		PaymentIn:      new(big.Int).Set(receipt.PaymentIn),
		SellOut:        new(big.Int).Set(receipt.SellOut),
		EffectivePrice: new(big.Int).Set(receipt.EffectivePrice),
		DiscountBps:    receipt.DiscountBps,
	})
	view.sink.RecordTrade(ctx, receipt.Copy())
}
