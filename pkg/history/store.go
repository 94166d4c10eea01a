// Package history keeps a queryable log of lifecycle operations. Failed
// operations leave the instance untouched for forensics; the log records
// what was attempted, when, and how it ended.
package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// OperationRecord is the GORM model for one lifecycle operation.
type OperationRecord struct {
	ID         string  `gorm:"primaryKey;column:id;type:varchar(36)"`
	InstanceID string  `gorm:"column:instance_id;type:varchar(36);index:idx_operation_instance"`
	Action     string  `gorm:"column:action;type:varchar(32);not null"`
	Outcome    Outcome `gorm:"column:outcome;type:varchar(16);not null"`
	Error      string  `gorm:"column:error"`
	DurationMs int64   `gorm:"column:duration_ms"`
	CreatedAt  time.Time
}

// TableName returns the GORM table name.
func (OperationRecord) TableName() string { return "operation_records" }

// Store persists operation records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the operation_records table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&OperationRecord{}); err != nil {
		return fmt.Errorf("auto-migrate operation_records: %w", err)
	}
	return nil
}

// Record appends one operation record. opErr may be nil.
func (s *Store) Record(instanceID, action string, started time.Time, opErr error) error {
	rec := &OperationRecord{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Action:     action,
		Outcome:    OutcomeSucceeded,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if opErr != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = opErr.Error()
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

// DeleteOlderThan removes records created before the cutoff and returns
// how many were deleted.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&OperationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete operations before %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}

// List returns the most recent records, newest first, optionally filtered
// by instance.
func (s *Store) List(instanceID string, limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.Order("created_at DESC").Limit(limit)
	if instanceID != "" {
		q = q.Where("instance_id = ?", instanceID)
	}
	var records []OperationRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return records, nil
}
