package storage

import (
	"context"
	"log/slog"
	"time"

	"buybackd/core/events"
	"buybackd/native/buyback"
)

// Recorder subscribes to engine events and receipts, persisting them through
// the store. Persistence failures are logged rather than propagated so a
// database hiccup never unwinds a settled trade.
type Recorder struct {
	store   *Store
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder wires a recorder to the store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, timeout: 5 * time.Second}
}

// RecordTrade implements the engine's receipt sink.
func (r *Recorder) RecordTrade(ctx context.Context, receipt *buyback.TradeReceipt) {
	if r == nil || r.store == nil || receipt == nil {
		return
	}
	ctx, cancel := r.detached(ctx)
	defer cancel()
	if err := r.store.SaveTrade(ctx, receipt); err != nil {
		r.logger.Error("persist trade receipt", "receipt_id", receipt.ID, "error", err)
	}
}

// Emit implements the event emitter contract for governance audit rows.
func (r *Recorder) Emit(ev events.Event) {
	if r == nil || r.store == nil {
		return
	}
	record, ok := auditRow(ev)
	if !ok {
		return
	}
	ctx, cancel := r.detached(context.Background())
	defer cancel()
	if err := r.store.SaveParamChange(ctx, record); err != nil {
		r.logger.Error("persist governance event", "event", ev.EventType(), "error", err)
	}
}

func auditRow(ev events.Event) (ParamChangeRecord, bool) {
	switch event := ev.(type) {
	case events.BuybackParameterUpdated:
		return ParamChangeRecord{
			Kind:      ChangeParameter,
			Name:      event.Name,
			OldValue:  event.Old,
			NewValue:  event.New,
			ChangedBy: event.By.Hex(),
		}, true
	case events.BuybackRoleUpdated:
		return ParamChangeRecord{
			Kind:      ChangeRole,
			Name:      event.Role,
			OldValue:  event.Previous.Hex(),
			NewValue:  event.Current.Hex(),
			ChangedBy: event.By.Hex(),
		}, true
	case events.BuybackPauseChanged:
		newValue := "active"
		if event.Paused {
			newValue = "paused"
		}
		return ParamChangeRecord{
			Kind:      ChangePause,
			Name:      "paused",
			NewValue:  newValue,
			ChangedBy: event.By.Hex(),
		}, true
	default:
		// Trade events are persisted through the receipt sink.
		return ParamChangeRecord{}, false
	}
}

func (r *Recorder) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}
