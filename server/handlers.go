package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"buybackd/native/buyback"
	"buybackd/observability"
	"buybackd/storage"
)

type tradeResponse struct {
	ID             string `json:"id"`
	Protocol       string `json:"protocol"`
	Caller         string `json:"caller"`
	Recipient      string `json:"recipient"`
	PaymentIn      string `json:"payment_in"`
	SellOut        string `json:"sell_out"`
	EffectivePrice string `json:"effective_price"`
	DiscountBps    uint64 `json:"discount_bps"`
	SettledAt      string `json:"settled_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.engine.EffectivePrice(r.Context())
	if err != nil {
		s.writeEngineError(w, "price", err)
		return
	}
	params := s.engine.ParametersSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"effective_price": price.String(),
		"discount_bps":    params.DiscountBps,
	})
}

func (s *Server) handleDemand(w http.ResponseWriter, r *http.Request) {
	demand, err := s.engine.DemandNeeded(r.Context())
	if err != nil {
		s.writeEngineError(w, "demand", err)
		return
	}
	observability.Engine().RecordDemand(demand)
	writeJSON(w, http.StatusOK, map[string]string{"demand": demand.String()})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	payParam := strings.TrimSpace(r.URL.Query().Get("pay_amount"))
	sellParam := strings.TrimSpace(r.URL.Query().Get("sell_amount"))
	switch {
	case payParam != "" && sellParam != "":
		http.Error(w, "pass pay_amount or sell_amount, not both", http.StatusBadRequest)
	case payParam != "":
		amount, ok := parsePositiveAmount(payParam)
		if !ok {
			http.Error(w, "invalid pay_amount", http.StatusBadRequest)
			return
		}
		sellOut, err := s.engine.SellAssetFor(r.Context(), amount)
		if err != nil {
			s.writeEngineError(w, "quote", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"pay_amount":  amount.String(),
			"sell_amount": sellOut.String(),
		})
	case sellParam != "":
		amount, ok := parsePositiveAmount(sellParam)
		if !ok {
			http.Error(w, "invalid sell_amount", http.StatusBadRequest)
			return
		}
		payIn, err := s.engine.PaymentAssetFor(r.Context(), amount)
		if err != nil {
			s.writeEngineError(w, "quote", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"pay_amount":  payIn.String(),
			"sell_amount": amount.String(),
		})
	default:
		http.Error(w, "pay_amount or sell_amount required", http.StatusBadRequest)
	}
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	params := s.engine.ParametersSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"discount_bps":              params.DiscountBps,
		"baseline_buffer":           bigOrZero(params.BaselineBuffer),
		"min_admin_discount_bps":    params.MinAdminDiscountBps,
		"max_admin_discount_bps":    params.MaxAdminDiscountBps,
		"min_admin_baseline_buffer": bigOrZero(params.MinAdminBaselineBuffer),
		"max_admin_baseline_buffer": bigOrZero(params.MaxAdminBaselineBuffer),
		"pay_decimals":              params.PayDecimals,
		"sell_decimals":             params.SellDecimals,
		"paused":                    params.Paused,
	})
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	records, err := s.store.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("list trades", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	trades := make([]tradeResponse, 0, len(records))
	for _, record := range records {
		trades = append(trades, tradeFromRecord(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	amount, ok := parsePositiveAmount(strings.TrimSpace(req.Amount))
	if !ok {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	start := time.Now()
	receipt, err := s.engine.Buy(r.Context(), principal.Address, amount)
	observability.Engine().Observe("buy", time.Since(start), err)
	if err != nil {
		s.writeEngineError(w, "trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, tradeFromReceipt(receipt))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := s.engine.Pause(principal.Address); err != nil {
		s.writeEngineError(w, "pause", err)
		return
	}
	observability.Engine().SetPause(true)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := s.engine.Unpause(principal.Address); err != nil {
		s.writeEngineError(w, "unpause", err)
		return
	}
	observability.Engine().SetPause(false)
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateParams applies each supplied field through the engine's
// governance checks, stopping at the first rejection.
func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	var req struct {
		DiscountBps            *uint64 `json:"discount_bps"`
		BaselineBuffer         *string `json:"baseline_buffer"`
		MinAdminDiscountBps    *uint64 `json:"min_admin_discount_bps"`
		MaxAdminDiscountBps    *uint64 `json:"max_admin_discount_bps"`
		MinAdminBaselineBuffer *string `json:"min_admin_baseline_buffer"`
		MaxAdminBaselineBuffer *string `json:"max_admin_baseline_buffer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if req.DiscountBps != nil {
		if err := s.engine.SetDiscountBps(principal.Address, *req.DiscountBps); err != nil {
			s.writeEngineError(w, "params", err)
			return
		}
	}
	if req.BaselineBuffer != nil {
		amount, ok := parsePositiveAmount(strings.TrimSpace(*req.BaselineBuffer))
		if !ok {
			http.Error(w, "invalid baseline_buffer", http.StatusBadRequest)
			return
		}
		if err := s.engine.SetBaselineBuffer(principal.Address, amount); err != nil {
			s.writeEngineError(w, "params", err)
			return
		}
	}
	if req.MinAdminDiscountBps != nil {
		if err := s.engine.SetMinAdminDiscountBps(principal.Address, *req.MinAdminDiscountBps); err != nil {
			s.writeEngineError(w, "params", err)
			return
		}
	}
	if req.MaxAdminDiscountBps != nil {
		if err := s.engine.SetMaxAdminDiscountBps(principal.Address, *req.MaxAdminDiscountBps); err != nil {
			s.writeEngineError(w, "params", err)
			return
		}
	}
	if req.MinAdminBaselineBuffer != nil {
		amount, ok := parsePositiveAmount(strings.TrimSpace(*req.MinAdminBaselineBuffer))
		if !ok {
			http.Error(w, "invalid min_admin_baseline_buffer", http.StatusBadRequest)
			return
		}
		if err := s.engine.SetMinAdminBaselineBuffer(principal.Address, amount); err != nil {
			s.writeEngineError(w, "params", err)
			return
		}
	}
	if req.MaxAdminBaselineBuffer != nil {
		amount, ok := parsePositiveAmount(strings.TrimSpace(*req.MaxAdminBaselineBuffer))
		if !ok {
			http.Error(w, "invalid max_admin_baseline_buffer", http.StatusBadRequest)
			return
		}
		if err := s.engine.SetMaxAdminBaselineBuffer(principal.Address, amount); err != nil {
			s.writeEngineError(w, "params", err)
			return
		}
	}
	s.handleParams(w, r)
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListParamChanges(r.Context(), 0)
	if err != nil {
		s.logger.Error("list param changes", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	type changeResponse struct {
		Kind      string `json:"kind"`
		Name      string `json:"name"`
		OldValue  string `json:"old_value"`
		NewValue  string `json:"new_value"`
		ChangedBy string `json:"changed_by"`
		At        string `json:"at"`
	}
	changes := make([]changeResponse, 0, len(records))
	for _, record := range records {
		changes = append(changes, changeResponse{
			Kind:      string(record.Kind),
			Name:      record.Name,
			OldValue:  record.OldValue,
			NewValue:  record.NewValue,
			ChangedBy: record.ChangedBy,
			At:        record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) writeEngineError(w http.ResponseWriter, route string, err error) {
	status := http.StatusInternalServerError
	var shortfall *buyback.ShortfallError
	switch {
	case errors.Is(err, buyback.ErrAmountInvalid),
		errors.Is(err, buyback.ErrRecipientInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, buyback.ErrUnauthorized),
		errors.Is(err, buyback.ErrOwnerOnly):
		status = http.StatusForbidden
	case errors.Is(err, buyback.ErrPaused),
		errors.Is(err, buyback.ErrReentrantCall),
		errors.Is(err, buyback.ErrInventoryShort):
		status = http.StatusConflict
	case errors.Is(err, buyback.ErrDiscountOutOfRange),
		errors.Is(err, buyback.ErrDiscountOutsideWindow),
		errors.Is(err, buyback.ErrBaselineOutsideWindow),
		errors.As(err, &shortfall):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, buyback.ErrPriceInvalid):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("engine call failed", "route", route, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func tradeFromReceipt(receipt *buyback.TradeReceipt) tradeResponse {
	return tradeResponse{
		ID:             receipt.ID,
		Protocol:       string(receipt.Protocol),
		Caller:         receipt.Caller.Hex(),
		Recipient:      receipt.Recipient.Hex(),
		PaymentIn:      bigOrZero(receipt.PaymentIn),
		SellOut:        bigOrZero(receipt.SellOut),
		EffectivePrice: bigOrZero(receipt.EffectivePrice),
		DiscountBps:    receipt.DiscountBps,
		SettledAt:      receipt.Timestamp.UTC().Format(time.RFC3339),
	}
}

func tradeFromRecord(record storage.TradeRecord) tradeResponse {
	return tradeResponse{
		ID:             record.ID.String(),
		Protocol:       record.Protocol,
		Caller:         record.Caller,
		Recipient:      record.Recipient,
		PaymentIn:      record.PaymentIn,
		SellOut:        record.SellOut,
		EffectivePrice: record.EffectivePrice,
		DiscountBps:    record.DiscountBps,
		SettledAt:      record.SettledAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parsePositiveAmount(value string) (*big.Int, bool) {
	if value == "" {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

func bigOrZero(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
