package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"buybackd/native/buyback"
	"buybackd/oracle"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("storage: database path must be configured")

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store wraps the buybackd persistence layer.
type Store struct {
	db *gorm.DB
}

// Open initialises the backing store using a sqlite-compatible DSN and runs
// schema migrations.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTrade persists a settled trade receipt.
func (s *Store) SaveTrade(ctx context.Context, receipt *buyback.TradeReceipt) error {
	if s == nil {
		return fmt.Errorf("storage: not configured")
	}
	if receipt == nil {
		return fmt.Errorf("storage: receipt required")
	}
	id, err := uuid.Parse(strings.TrimSpace(receipt.ID))
	if err != nil {
		id = uuid.New()
	}
	record := TradeRecord{
		ID:             id,
		Protocol:       string(receipt.Protocol),
		Caller:         receipt.Caller.Hex(),
		Recipient:      receipt.Recipient.Hex(),
		PaymentIn:      bigString(receipt.PaymentIn),
		SellOut:        bigString(receipt.SellOut),
		EffectivePrice: bigString(receipt.EffectivePrice),
		DiscountBps:    receipt.DiscountBps,
		SettledAt:      receipt.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("storage: insert trade: %w", err)
	}
	return nil
}

// ListTrades returns the most recent trades, newest first.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage: not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []TradeRecord
	if err := s.db.WithContext(ctx).
		Order("settled_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("storage: query trades: %w", err)
	}
	return records, nil
}

// RecordSample persists a raw oracle quote.
func (s *Store) RecordSample(ctx context.Context, base, quote, source string, sample oracle.PriceQuote, recorded time.Time) error {
	if s == nil {
		return fmt.Errorf("storage: not configured")
	}
	if sample.Rate == nil {
		return fmt.Errorf("storage: quote missing rate")
	}
	record := PriceSampleRecord{
		Pair:       pairKey(base, quote),
		Source:     strings.ToLower(strings.TrimSpace(source)),
		Rate:       sample.Rate.FloatString(18),
		ObservedAt: sample.Timestamp.UTC().Unix(),
		RecordedAt: recorded.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("storage: insert sample: %w", err)
	}
	return nil
}

// RecordSnapshot stores the aggregated median snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, base, quote, median string, feeders []string, proofID string, ts time.Time) error {
	if s == nil {
		return fmt.Errorf("storage: not configured")
	}
	encoded, err := encodeFeeders(feeders)
	if err != nil {
		return fmt.Errorf("storage: encode feeders: %w", err)
	}
	record := PriceSnapshotRecord{
		Pair:       pairKey(base, quote),
		MedianRate: strings.TrimSpace(median),
		Feeders:    encoded,
		ProofID:    proofID,
		ObservedAt: ts.UTC().Unix(),
		RecordedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("storage: insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent aggregated median for the pair.
func (s *Store) LatestSnapshot(ctx context.Context, base, quote string) (PriceSnapshotRecord, error) {
	var record PriceSnapshotRecord
	if s == nil {
		return record, fmt.Errorf("storage: not configured")
	}
	err := s.db.WithContext(ctx).
		Where("pair = ?", pairKey(base, quote)).
		Order("id DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return record, ErrNotFound
		}
		return record, fmt.Errorf("storage: query snapshot: %w", err)
	}
	return record, nil
}

// SaveParamChange persists one governance mutation.
func (s *Store) SaveParamChange(ctx context.Context, record ParamChangeRecord) error {
	if s == nil {
		return fmt.Errorf("storage: not configured")
	}
	if record.ID == (uuid.UUID{}) {
		record.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("storage: insert param change: %w", err)
	}
	return nil
}

// ListParamChanges returns the most recent governance mutations, newest first.
func (s *Store) ListParamChanges(ctx context.Context, limit int) ([]ParamChangeRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage: not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []ParamChangeRecord
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("storage: query param changes: %w", err)
	}
	return records, nil
}

func pairKey(base, quote string) string {
	b := strings.ToUpper(strings.TrimSpace(base))
	q := strings.ToUpper(strings.TrimSpace(quote))
	if b == "" && q == "" {
		return ""
	}
	return b + "/" + q
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
