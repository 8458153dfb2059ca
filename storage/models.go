package storage

import (
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChangeKind distinguishes persisted governance audit rows.
type ChangeKind string

const (
	// ChangeParameter records a numeric or reference parameter update.
	ChangeParameter ChangeKind = "parameter"
	// ChangeRole records an owner or admin rotation.
	ChangeRole ChangeKind = "role"
	// ChangePause records a pause state transition.
	ChangePause ChangeKind = "pause"
)

// TradeRecord persists one settled trade receipt.
type TradeRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Protocol       string    `gorm:"size:16;index"`
	Caller         string    `gorm:"size:64;index"`
	Recipient      string    `gorm:"size:64"`
	PaymentIn      string    `gorm:"size:96"`
	SellOut        string    `gorm:"size:96"`
	EffectivePrice string    `gorm:"size:96"`
	DiscountBps    uint64
	SettledAt      time.Time `gorm:"index"`
	CreatedAt      time.Time
}

// PriceSampleRecord persists one raw upstream quote.
type PriceSampleRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Pair       string `gorm:"size:32;index:idx_samples_pair_ts"`
	Source     string `gorm:"size:64"`
	Rate       string `gorm:"size:96"`
	ObservedAt int64  `gorm:"index:idx_samples_pair_ts"`
	RecordedAt time.Time
}

// PriceSnapshotRecord persists one aggregated median. The feeder list is
// RLP-encoded so the column round-trips without delimiter ambiguity.
type PriceSnapshotRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Pair       string `gorm:"size:32;index:idx_snapshots_pair_ts"`
	MedianRate string `gorm:"size:96"`
	Feeders    []byte
	ProofID    string `gorm:"size:128"`
	ObservedAt int64  `gorm:"index:idx_snapshots_pair_ts"`
	RecordedAt time.Time
}

// FeederNames decodes the RLP-encoded feeder list.
func (r PriceSnapshotRecord) FeederNames() ([]string, error) {
	if len(r.Feeders) == 0 {
		return nil, nil
	}
	var names []string
	if err := rlp.DecodeBytes(r.Feeders, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func encodeFeeders(names []string) ([]byte, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return rlp.EncodeToBytes(names)
}

// ParamChangeRecord persists one governance mutation for audit.
type ParamChangeRecord struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Kind      ChangeKind `gorm:"size:16;index"`
	Name      string     `gorm:"size:64;index"`
	OldValue  string     `gorm:"size:128"`
	NewValue  string     `gorm:"size:128"`
	ChangedBy string     `gorm:"size:64"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TradeRecord{},
		&PriceSampleRecord{},
		&PriceSnapshotRecord{},
		&ParamChangeRecord{},
	)
}
