package buyback

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"buybackd/core/events"
)

func TestSetDiscountAdminWindow(t *testing.T) {
	fix := newFixture(t, 100)
	// Within the 50..500 window.
	if err := fix.engine.SetDiscountBps(testAdmin, 200); err != nil {
		t.Fatalf("admin set discount: %v", err)
	}
	if got := fix.engine.ParametersSnapshot().DiscountBps; got != 200 {
		t.Fatalf("unexpected discount: %d", got)
	}
	if err := fix.engine.SetDiscountBps(testAdmin, 10); !errors.Is(err, ErrDiscountOutsideWindow) {
		t.Fatalf("expected window violation below floor, got %v", err)
	}
	if err := fix.engine.SetDiscountBps(testAdmin, 600); !errors.Is(err, ErrDiscountOutsideWindow) {
		t.Fatalf("expected window violation above ceiling, got %v", err)
	}
}

func TestSetDiscountOwnerBypassesWindow(t *testing.T) {
	fix := newFixture(t, 100)
	if err := fix.engine.SetDiscountBps(testOwner, 9_000); err != nil {
		t.Fatalf("owner set discount: %v", err)
	}
	if err := fix.engine.SetDiscountBps(testOwner, basisPoints+1); !errors.Is(err, ErrDiscountOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestSetDiscountRejectsOutsiders(t *testing.T) {
	fix := newFixture(t, 100)
	if err := fix.engine.SetDiscountBps(testOutsider, 200); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSetBaselineAdminWindow(t *testing.T) {
	fix := newFixture(t, 0)
	if err := fix.engine.SetBaselineBuffer(testAdmin, big.NewInt(900_000_000)); err != nil {
		t.Fatalf("admin set baseline: %v", err)
	}
	if err := fix.engine.SetBaselineBuffer(testAdmin, big.NewInt(2_000_000_000)); !errors.Is(err, ErrBaselineOutsideWindow) {
		t.Fatalf("expected baseline window violation, got %v", err)
	}
	// Owner bypasses the window.
	if err := fix.engine.SetBaselineBuffer(testOwner, big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("owner set baseline: %v", err)
	}
	if err := fix.engine.SetBaselineBuffer(testOwner, big.NewInt(-1)); !errors.Is(err, ErrAmountInvalid) {
		t.Fatalf("expected ErrAmountInvalid, got %v", err)
	}
}

func TestOwnershipTransfer(t *testing.T) {
	fix := newFixture(t, 0)
	next := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	if err := fix.engine.TransferOwnership(testAdmin, next); !errors.Is(err, ErrOwnerOnly) {
		t.Fatalf("expected ErrOwnerOnly, got %v", err)
	}
	if err := fix.engine.TransferOwnership(testOwner, common.Address{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := fix.engine.TransferOwnership(testOwner, next); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if fix.engine.Owner() != next {
		t.Fatalf("owner not rotated")
	}
	// The previous owner lost the role.
	if err := fix.engine.SetMinAdminDiscountBps(testOwner, 10); !errors.Is(err, ErrOwnerOnly) {
		t.Fatalf("expected ErrOwnerOnly for old owner, got %v", err)
	}
	var found bool
	for _, ev := range fix.emitter.events {
		role, ok := ev.(events.BuybackRoleUpdated)
		if ok && role.Role == "owner" && role.Current == next {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing owner rotation event")
	}
}

func TestAdminRotation(t *testing.T) {
	fix := newFixture(t, 0)
	next := common.HexToAddress("0x00000000000000000000000000000000000000AB")
	// The sitting admin may rotate itself out.
	if err := fix.engine.SetAdmin(testAdmin, next); err != nil {
		t.Fatalf("admin rotate: %v", err)
	}
	if fix.engine.Admin() != next {
		t.Fatalf("admin not rotated")
	}
	if err := fix.engine.SetAdmin(testAdmin, testAdmin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old admin rejected, got %v", err)
	}
	if err := fix.engine.SetAdmin(testOwner, testAdmin); err != nil {
		t.Fatalf("owner rotate: %v", err)
	}
}

func TestPauseRoles(t *testing.T) {
	fix := newFixture(t, 0)
	if err := fix.engine.Pause(testOutsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := fix.engine.Pause(testAdmin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !fix.engine.IsPaused() {
		t.Fatalf("engine should be paused")
	}
	// Idempotent pause emits nothing new.
	before := len(fix.emitter.events)
	if err := fix.engine.Pause(testOwner); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}
	if len(fix.emitter.events) != before {
		t.Fatalf("unexpected event for idempotent pause")
	}
	if err := fix.engine.Unpause(testOwner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if fix.engine.IsPaused() {
		t.Fatalf("engine should be unpaused")
	}
}

func TestWindowBoundsOwnerOnlyAndIndependent(t *testing.T) {
	fix := newFixture(t, 100)
	if err := fix.engine.SetMaxAdminDiscountBps(testAdmin, 700); !errors.Is(err, ErrOwnerOnly) {
		t.Fatalf("expected ErrOwnerOnly, got %v", err)
	}
	// Bounds move independently; a floor above the ceiling is accepted and
	// simply leaves the admin with no writable window.
	if err := fix.engine.SetMinAdminDiscountBps(testOwner, 600); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	if err := fix.engine.SetDiscountBps(testAdmin, 300); !errors.Is(err, ErrDiscountOutsideWindow) {
		t.Fatalf("expected empty window to reject admin, got %v", err)
	}
	if err := fix.engine.SetMaxAdminDiscountBps(testOwner, 800); err != nil {
		t.Fatalf("set ceiling: %v", err)
	}
	if err := fix.engine.SetDiscountBps(testAdmin, 700); err != nil {
		t.Fatalf("admin set in widened window: %v", err)
	}
	if err := fix.engine.SetMaxAdminBaselineBuffer(testOwner, big.NewInt(5_000_000_000)); err != nil {
		t.Fatalf("set baseline ceiling: %v", err)
	}
	if err := fix.engine.SetBaselineBuffer(testAdmin, big.NewInt(4_000_000_000)); err != nil {
		t.Fatalf("admin baseline in widened window: %v", err)
	}
}

type labelledOracle struct {
	mockOracle
	label string
}

func (o *labelledOracle) Describe() string { return o.label }

func TestSetOracleAndLedgerOwnerOnly(t *testing.T) {
	fix := newFixture(t, 0)
	replacement := &labelledOracle{mockOracle: mockOracle{price: big.NewInt(1)}, label: "median WIDGET/USD"}
	if err := fix.engine.SetOracle(testAdmin, replacement); !errors.Is(err, ErrOwnerOnly) {
		t.Fatalf("expected ErrOwnerOnly, got %v", err)
	}
	if err := fix.engine.SetOracle(testOwner, replacement); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	var rotation *events.BuybackParameterUpdated
	for _, ev := range fix.emitter.events {
		if update, ok := ev.(events.BuybackParameterUpdated); ok && update.Name == "oracle" {
			rotation = &update
		}
	}
	if rotation == nil {
		t.Fatalf("missing oracle rotation event")
	}
	if rotation.New != "median WIDGET/USD" {
		t.Fatalf("unexpected new oracle label %q", rotation.New)
	}
	if rotation.Old == "" || rotation.Old == rotation.New {
		t.Fatalf("unexpected old oracle label %q", rotation.Old)
	}
	ledger := newMockLedger(fix.payToken, big.NewInt(0))
	if err := fix.engine.SetLedger(testAdmin, ledger); !errors.Is(err, ErrOwnerOnly) {
		t.Fatalf("expected ErrOwnerOnly, got %v", err)
	}
	if err := fix.engine.SetLedger(testOwner, ledger); err != nil {
		t.Fatalf("set ledger: %v", err)
	}
}
