package buyback

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"buybackd/core/events"
)

var (
	testOwner    = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	testAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000A2")
	testCaller   = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	testLedger   = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	testTreasury = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	testOutsider = common.HexToAddress("0x00000000000000000000000000000000000000F1")
)

type mockToken struct {
	balances map[common.Address]*big.Int
}

func newMockToken() *mockToken {
	return &mockToken{balances: make(map[common.Address]*big.Int)}
}

func (m *mockToken) set(addr common.Address, amount *big.Int) {
	m.balances[addr] = new(big.Int).Set(amount)
}

func (m *mockToken) BalanceOf(_ context.Context, addr common.Address) (*big.Int, error) {
	balance, ok := m.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockToken) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	source, ok := m.balances[from]
	if !ok || source.Cmp(amount) < 0 {
		return errors.New("token: insufficient balance")
	}
	source.Sub(source, amount)
	dest, ok := m.balances[to]
	if !ok {
		dest = big.NewInt(0)
		m.balances[to] = dest
	}
	dest.Add(dest, amount)
	return nil
}

// mockLedger derives its payment balance from the payment token so balance
// movements during a flash callback are observable.
type mockLedger struct {
	addr     common.Address
	payToken *mockToken
	debt     *big.Int
	repaid   *big.Int
}

func newMockLedger(payToken *mockToken, debt *big.Int) *mockLedger {
	return &mockLedger{
		addr:     testLedger,
		payToken: payToken,
		debt:     new(big.Int).Set(debt),
		repaid:   big.NewInt(0),
	}
}

func (l *mockLedger) TotalDebt(context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.debt), nil
}

func (l *mockLedger) PaymentBalance(ctx context.Context) (*big.Int, error) {
	return l.payToken.BalanceOf(ctx, l.addr)
}

func (l *mockLedger) Repay(_ context.Context, amount *big.Int) error {
	l.repaid.Add(l.repaid, amount)
	l.debt.Sub(l.debt, amount)
	if l.debt.Sign() < 0 {
		l.debt.SetInt64(0)
	}
	return nil
}

func (l *mockLedger) Address() common.Address { return l.addr }

type mockOracle struct {
	price *big.Int
	err   error
}

func (o *mockOracle) Price(context.Context) (*big.Int, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.price == nil {
		return nil, nil
	}
	return new(big.Int).Set(o.price), nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(ev events.Event) { c.events = append(c.events, ev) }

type captureSink struct {
	receipts []*TradeReceipt
}

func (c *captureSink) RecordTrade(_ context.Context, receipt *TradeReceipt) {
	c.receipts = append(c.receipts, receipt)
}

type fixture struct {
	engine    *Engine
	payToken  *mockToken
	sellToken *mockToken
	ledger    *mockLedger
	oracle    *mockOracle
	emitter   *captureEmitter
	sink      *captureSink
}

// newFixture builds an engine quoting a 6-decimal payment asset against an
// 18-decimal sell asset: debt 10000, ledger balance 2500, baseline 500, so
// demand starts at 8000 payment units.
func newFixture(t *testing.T, discountBps uint64) *fixture {
	t.Helper()
	payToken := newMockToken()
	sellToken := newMockToken()
	ledger := newMockLedger(payToken, big.NewInt(10_000_000_000))
	payToken.set(testLedger, big.NewInt(2_500_000_000))
	payToken.set(testCaller, big.NewInt(100_000_000_000))
	sellOwned, _ := new(big.Int).SetString("1000000000000000000000", 10)
	sellToken.set(testTreasury, sellOwned)
	oracle := &mockOracle{price: mustBig(t, "1745910000000000000000")}
	inventory, err := NewTreasuryInventory(sellToken, testTreasury)
	if err != nil {
		t.Fatalf("new inventory: %v", err)
	}
	params := Parameters{
		DiscountBps:            discountBps,
		BaselineBuffer:         big.NewInt(500_000_000),
		MinAdminDiscountBps:    50,
		MaxAdminDiscountBps:    500,
		MinAdminBaselineBuffer: big.NewInt(0),
		MaxAdminBaselineBuffer: big.NewInt(1_000_000_000),
		PayDecimals:            6,
		SellDecimals:           18,
	}
	engine, err := NewEngine(testOwner, ledger, oracle, payToken, inventory, params)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	if err := engine.SetAdmin(testOwner, testAdmin); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	emitter := &captureEmitter{}
	sink := &captureSink{}
	engine.SetEmitter(emitter)
	engine.SetReceiptSink(sink)
	return &fixture{
		engine:    engine,
		payToken:  payToken,
		sellToken: sellToken,
		ledger:    ledger,
		oracle:    oracle,
		emitter:   emitter,
		sink:      sink,
	}
}

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("invalid big int %q", value)
	}
	return amount
}

func TestDemandNeeded(t *testing.T) {
	fix := newFixture(t, 0)
	demand, err := fix.engine.DemandNeeded(context.Background())
	if err != nil {
		t.Fatalf("demand: %v", err)
	}
	if demand.Cmp(big.NewInt(8_000_000_000)) != 0 {
		t.Fatalf("unexpected demand: %s", demand)
	}
}

func TestDemandNeededClampsAtZero(t *testing.T) {
	fix := newFixture(t, 0)
	fix.payToken.set(testLedger, big.NewInt(50_000_000_000))
	demand, err := fix.engine.DemandNeeded(context.Background())
	if err != nil {
		t.Fatalf("demand: %v", err)
	}
	if demand.Sign() != 0 {
		t.Fatalf("expected zero demand, got %s", demand)
	}
}

func TestBuySettlesCappedAmount(t *testing.T) {
	fix := newFixture(t, 0)
	ctx := context.Background()
	receipt, err := fix.engine.Buy(ctx, testCaller, big.NewInt(3_400_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if receipt.PaymentIn.Cmp(big.NewInt(3_400_000_000)) != 0 {
		t.Fatalf("unexpected payment in: %s", receipt.PaymentIn)
	}
	wantSell := mustBig(t, "1947408514757347171")
	if receipt.SellOut.Cmp(wantSell) != 0 {
		t.Fatalf("unexpected sell out: %s", receipt.SellOut)
	}
	if receipt.Protocol != ProtocolPull {
		t.Fatalf("unexpected protocol: %s", receipt.Protocol)
	}
	if fix.ledger.repaid.Cmp(big.NewInt(3_400_000_000)) != 0 {
		t.Fatalf("unexpected repaid: %s", fix.ledger.repaid)
	}
	callerSell, _ := fix.sellToken.BalanceOf(ctx, testCaller)
	if callerSell.Cmp(wantSell) != 0 {
		t.Fatalf("caller sell balance: %s", callerSell)
	}
	ledgerPay, _ := fix.payToken.BalanceOf(ctx, testLedger)
	if ledgerPay.Cmp(big.NewInt(5_900_000_000)) != 0 {
		t.Fatalf("ledger payment balance: %s", ledgerPay)
	}
	if len(fix.emitter.events) != 1 {
		t.Fatalf("expected one trade event, got %d", len(fix.emitter.events))
	}
	trade, ok := fix.emitter.events[0].(events.BuybackTradeSettled)
	if !ok {
		t.Fatalf("unexpected event type %T", fix.emitter.events[0])
	}
	if trade.ReceiptID != receipt.ID {
		t.Fatalf("event receipt id mismatch")
	}
	if len(fix.sink.receipts) != 1 || fix.sink.receipts[0].ID != receipt.ID {
		t.Fatalf("receipt not recorded")
	}
}

func TestBuyAppliesDiscount(t *testing.T) {
	fix := newFixture(t, 250)
	receipt, err := fix.engine.Buy(context.Background(), testCaller, big.NewInt(3_400_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if receipt.EffectivePrice.Cmp(mustBig(t, "1702262250000000000000")) != 0 {
		t.Fatalf("unexpected effective price: %s", receipt.EffectivePrice)
	}
	if receipt.SellOut.Cmp(mustBig(t, "1997342066417791970")) != 0 {
		t.Fatalf("unexpected sell out: %s", receipt.SellOut)
	}
	if receipt.DiscountBps != 250 {
		t.Fatalf("unexpected discount: %d", receipt.DiscountBps)
	}
}

func TestBuyCapsRequestAtDemand(t *testing.T) {
	fix := newFixture(t, 0)
	receipt, err := fix.engine.Buy(context.Background(), testCaller, big.NewInt(50_000_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if receipt.PaymentIn.Cmp(big.NewInt(8_000_000_000)) != 0 {
		t.Fatalf("expected cap at demand, got %s", receipt.PaymentIn)
	}
}

func TestBuyZeroDemandShortCircuits(t *testing.T) {
	fix := newFixture(t, 0)
	ctx := context.Background()
	fix.payToken.set(testLedger, big.NewInt(50_000_000_000))
	receipt, err := fix.engine.Buy(ctx, testCaller, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if receipt.PaymentIn.Sign() != 0 || receipt.SellOut.Sign() != 0 {
		t.Fatalf("expected empty receipt, got %s/%s", receipt.PaymentIn, receipt.SellOut)
	}
	if fix.ledger.repaid.Sign() != 0 {
		t.Fatalf("expected no repayment")
	}
	for _, ev := range fix.emitter.events {
		if _, ok := ev.(events.BuybackTradeSettled); ok {
			t.Fatalf("unexpected trade event for zero amount")
		}
	}
	if len(fix.sink.receipts) != 0 {
		t.Fatalf("unexpected recorded receipt")
	}
}

func TestBuyRejectsWhenPaused(t *testing.T) {
	fix := newFixture(t, 0)
	if err := fix.engine.Pause(testAdmin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := fix.engine.Buy(context.Background(), testCaller, big.NewInt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

func TestBuyRejectsInvalidAmounts(t *testing.T) {
	fix := newFixture(t, 0)
	ctx := context.Background()
	if _, err := fix.engine.Buy(ctx, testCaller, nil); !errors.Is(err, ErrAmountInvalid) {
		t.Fatalf("expected ErrAmountInvalid for nil, got %v", err)
	}
	if _, err := fix.engine.Buy(ctx, testCaller, big.NewInt(-5)); !errors.Is(err, ErrAmountInvalid) {
		t.Fatalf("expected ErrAmountInvalid for negative, got %v", err)
	}
	if _, err := fix.engine.Buy(ctx, common.Address{}, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestBuyRejectsInvalidOraclePrice(t *testing.T) {
	fix := newFixture(t, 0)
	fix.oracle.price = big.NewInt(0)
	if _, err := fix.engine.Buy(context.Background(), testCaller, big.NewInt(1_000_000)); !errors.Is(err, ErrPriceInvalid) {
		t.Fatalf("expected ErrPriceInvalid, got %v", err)
	}
}

func TestBuyFullDiscountRejected(t *testing.T) {
	fix := newFixture(t, 0)
	if err := fix.engine.SetDiscountBps(testOwner, basisPoints); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	if _, err := fix.engine.Buy(context.Background(), testCaller, big.NewInt(1_000_000)); !errors.Is(err, ErrPriceInvalid) {
		t.Fatalf("expected ErrPriceInvalid at full discount, got %v", err)
	}
}

func TestBuyInventoryShortfall(t *testing.T) {
	fix := newFixture(t, 0)
	ctx := context.Background()
	fix.sellToken.set(testTreasury, big.NewInt(1))
	_, err := fix.engine.Buy(ctx, testCaller, big.NewInt(3_400_000_000))
	if !errors.Is(err, ErrInventoryShort) {
		t.Fatalf("expected ErrInventoryShort, got %v", err)
	}
	callerPay, _ := fix.payToken.BalanceOf(ctx, testCaller)
	if callerPay.Cmp(big.NewInt(100_000_000_000)) != 0 {
		t.Fatalf("caller balance must be untouched, got %s", callerPay)
	}
	if fix.ledger.repaid.Sign() != 0 {
		t.Fatalf("expected no repayment")
	}
}

func TestBuyTransferFailureAborts(t *testing.T) {
	fix := newFixture(t, 0)
	fix.payToken.set(testCaller, big.NewInt(10))
	_, err := fix.engine.Buy(context.Background(), testCaller, big.NewInt(3_400_000_000))
	if err == nil {
		t.Fatalf("expected transfer failure")
	}
	if fix.ledger.repaid.Sign() != 0 {
		t.Fatalf("expected no repayment after aborted pull")
	}
	if len(fix.sink.receipts) != 0 {
		t.Fatalf("unexpected recorded receipt")
	}
}

func TestPricingRoundTrip(t *testing.T) {
	fix := newFixture(t, 0)
	ctx := context.Background()
	sellOut, err := fix.engine.SellAssetFor(ctx, big.NewInt(3_400_000_000))
	if err != nil {
		t.Fatalf("sell quote: %v", err)
	}
	payBack, err := fix.engine.PaymentAssetFor(ctx, sellOut)
	if err != nil {
		t.Fatalf("payment quote: %v", err)
	}
	// Floor rounding loses at most one payment base unit on the round trip.
	if payBack.Cmp(big.NewInt(3_399_999_999)) != 0 {
		t.Fatalf("unexpected round trip: %s", payBack)
	}
}
