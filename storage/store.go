// Package storage persists batch executions and exchange circuit-breaker
// state across process restarts, so reconcile can recover in-flight orders
// and risk can resume a tripped exchange's cooldown instead of forgetting it.
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BatchRecord is one row per order submitted as part of a batch, written
// before submission so reconcile can find orders that were in flight when
// the process stopped.
type BatchRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	BatchID     string `gorm:"index"`
	OrderID     string `gorm:"index"`
	ExchangeID  string `gorm:"index"`
	Symbol      string
	Side        string
	Amount      decimal.Decimal `gorm:"type:decimal(30,10)"`
	Type        string
	SubmittedAt time.Time
	CreatedAt   time.Time
}

func (BatchRecord) TableName() string { return "batch_records" }

// PersistedReport mirrors report.Report in a storable shape, written once
// an order reaches a terminal state.
type PersistedReport struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	BatchID       string `gorm:"index"`
	OrderID       string `gorm:"index"`
	ExchangeID    string
	Symbol        string
	FinalState    string
	FilledAmount  decimal.Decimal `gorm:"type:decimal(30,10)"`
	AvgPrice      decimal.Decimal `gorm:"type:decimal(30,10)"`
	FillLatencyMs int64
	FailureReason string
	SubmitTs      time.Time
	CloseTs       time.Time
	CreatedAt     time.Time
}

func (PersistedReport) TableName() string { return "persisted_reports" }

// CircuitBreakerState snapshots one exchange's risk breaker so a restart
// doesn't forget a cooldown in progress.
type CircuitBreakerState struct {
	ExchangeID        string `gorm:"primaryKey"`
	ConsecutiveLosses int
	Tripped           bool
	TrippedAt         time.Time
	UpdatedAt         time.Time
}

func (CircuitBreakerState) TableName() string { return "circuit_breaker_states" }

// Store wraps a gorm connection. It opens postgres when dsn looks like a
// postgres connection string, otherwise falls back to a sqlite file at dsn.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn (a postgres:// URL or a sqlite file path) and
// migrates every model this package owns.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("storage connected (postgres)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("storage initialized (sqlite)")
	}

	if err := db.AutoMigrate(&BatchRecord{}, &PersistedReport{}, &CircuitBreakerState{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// RecordSubmission writes a BatchRecord before an order is submitted.
func (s *Store) RecordSubmission(rec BatchRecord) error {
	rec.CreatedAt = time.Now()
	return s.db.Create(&rec).Error
}

// RecordReport writes a terminal PersistedReport for an order.
func (s *Store) RecordReport(rep PersistedReport) error {
	rep.CreatedAt = time.Now()
	return s.db.Create(&rep).Error
}

// OpenBatchRecords returns every BatchRecord for batchID that has no
// matching PersistedReport yet — orders left in flight by a crash.
func (s *Store) OpenBatchRecords(batchID string) ([]BatchRecord, error) {
	var reported []string
	if err := s.db.Model(&PersistedReport{}).Where("batch_id = ?", batchID).Pluck("order_id", &reported).Error; err != nil {
		return nil, err
	}

	q := s.db.Where("batch_id = ?", batchID)
	if len(reported) > 0 {
		q = q.Where("order_id NOT IN ?", reported)
	}

	var open []BatchRecord
	if err := q.Find(&open).Error; err != nil {
		return nil, err
	}
	return open, nil
}

// DistinctOpenBatchIDs returns every batch_id that has at least one
// BatchRecord with no matching PersistedReport yet — the batches reconcile
// needs to inspect after a restart, without the caller having to remember
// which batch IDs were in flight.
func (s *Store) DistinctOpenBatchIDs() ([]string, error) {
	var ids []string
	err := s.db.Model(&BatchRecord{}).
		Where("order_id NOT IN (?)", s.db.Model(&PersistedReport{}).Select("order_id")).
		Distinct("batch_id").
		Pluck("batch_id", &ids).Error
	return ids, err
}

// SaveCircuitBreakerState upserts exchangeID's breaker snapshot.
func (s *Store) SaveCircuitBreakerState(state CircuitBreakerState) error {
	state.UpdatedAt = time.Now()
	return s.db.Save(&state).Error
}

// LoadCircuitBreakerStates returns every persisted breaker snapshot, for
// rehydrating risk.Gate at startup.
func (s *Store) LoadCircuitBreakerStates() ([]CircuitBreakerState, error) {
	var states []CircuitBreakerState
	err := s.db.Find(&states).Error
	return states, err
}
