package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeBuybackTradeSettled is emitted whenever a buyback trade settles.
	TypeBuybackTradeSettled = "buyback.trade_settled"
	// TypeBuybackParameterUpdated is emitted when an engine parameter changes.
	TypeBuybackParameterUpdated = "buyback.parameter_updated"
	// TypeBuybackRoleUpdated is emitted when the owner or admin role rotates.
	TypeBuybackRoleUpdated = "buyback.role_updated"
	// TypeBuybackPauseChanged is emitted when settlement is paused or resumed.
	TypeBuybackPauseChanged = "buyback.pause_changed"
)

// BuybackTradeSettled captures one settled trade, either protocol.
type BuybackTradeSettled struct {
	ReceiptID      string
	Protocol       string
	Caller         common.Address
	Recipient      common.Address
	PaymentIn      *big.Int
	SellOut        *big.Int
	EffectivePrice *big.Int
	DiscountBps    uint64
}

func (BuybackTradeSettled) EventType() string { return TypeBuybackTradeSettled }

// Attributes flattens the event into string key/value pairs for persistence.
func (e BuybackTradeSettled) Attributes() map[string]string {
	return map[string]string{
		"receiptId":      e.ReceiptID,
		"protocol":       e.Protocol,
		"caller":         e.Caller.Hex(),
		"recipient":      e.Recipient.Hex(),
		"paymentIn":      bigString(e.PaymentIn),
		"sellOut":        bigString(e.SellOut),
		"effectivePrice": bigString(e.EffectivePrice),
		"discountBps":    strconv.FormatUint(e.DiscountBps, 10),
	}
}

// BuybackParameterUpdated records an old/new pair for a named parameter.
type BuybackParameterUpdated struct {
	Name string
	Old  string
	New  string
	By   common.Address
}

func (BuybackParameterUpdated) EventType() string { return TypeBuybackParameterUpdated }

// Attributes flattens the event into string key/value pairs for persistence.
func (e BuybackParameterUpdated) Attributes() map[string]string {
	return map[string]string{
		"name": e.Name,
		"old":  e.Old,
		"new":  e.New,
		"by":   e.By.Hex(),
	}
}

// BuybackRoleUpdated records a role rotation.
type BuybackRoleUpdated struct {
	Role     string
	Previous common.Address
	Current  common.Address
	By       common.Address
}

func (BuybackRoleUpdated) EventType() string { return TypeBuybackRoleUpdated }

// Attributes flattens the event into string key/value pairs for persistence.
func (e BuybackRoleUpdated) Attributes() map[string]string {
	return map[string]string{
		"role":     e.Role,
		"previous": e.Previous.Hex(),
		"current":  e.Current.Hex(),
		"by":       e.By.Hex(),
	}
}

// BuybackPauseChanged records a pause state transition.
type BuybackPauseChanged struct {
	Paused bool
	By     common.Address
}

func (BuybackPauseChanged) EventType() string { return TypeBuybackPauseChanged }

// Attributes flattens the event into string key/value pairs for persistence.
func (e BuybackPauseChanged) Attributes() map[string]string {
	return map[string]string{
		"paused": strconv.FormatBool(e.Paused),
		"by":     e.By.Hex(),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
