package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the persistent catalog of database instances. It is the single
// source of truth for whether a tenant has a database and whether that
// database is usable.
type Store struct {
	db      *gorm.DB
	machine *Machine
}

// NewStore creates a Store on top of the given GORM connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, machine: NewMachine()}
}

// AutoMigrate creates or updates the database_instances table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&DatabaseInstance{}); err != nil {
		return fmt.Errorf("auto-migrate database_instances: %w", err)
	}
	return nil
}

// Register creates a new instance row in creating status. It fails with
// ErrDuplicateInstance if a non-deleted instance already exists for the
// (kind, referenceID) pair. The unique index on the table makes concurrent
// registrations for the same tenant fail deterministically even when both
// pass the existence check.
func (s *Store) Register(kind Kind, referenceID string) (*DatabaseInstance, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown tenant kind %q", kind)
	}
	if referenceID == "" {
		return nil, fmt.Errorf("reference id must not be empty")
	}

	var existing DatabaseInstance
	err := s.db.Where("kind = ? AND reference_id = ?", kind, referenceID).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("tenant %s/%s: %w", kind, referenceID, ErrDuplicateInstance)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check existing instance: %w", err)
	}

	instance := &DatabaseInstance{
		ID:          uuid.New().String(),
		Kind:        kind,
		ReferenceID: referenceID,
		Status:      StatusCreating,
		Metadata:    Metadata{},
	}
	if err := s.db.Create(instance).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("tenant %s/%s: %w", kind, referenceID, ErrDuplicateInstance)
		}
		return nil, fmt.Errorf("register instance: %w", err)
	}
	return instance, nil
}

// Get retrieves the non-deleted instance for a tenant reference.
func (s *Store) Get(kind Kind, referenceID string) (*DatabaseInstance, error) {
	var instance DatabaseInstance
	err := s.db.Where("kind = ? AND reference_id = ?", kind, referenceID).First(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tenant %s/%s: %w", kind, referenceID, ErrInstanceNotFound)
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return &instance, nil
}

// GetByID retrieves a non-deleted instance by its opaque id.
func (s *Store) GetByID(id string) (*DatabaseInstance, error) {
	var instance DatabaseInstance
	err := s.db.Where("id = ?", id).First(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("instance %s: %w", id, ErrInstanceNotFound)
		}
		return nil, fmt.Errorf("get instance by id: %w", err)
	}
	return &instance, nil
}

// List returns all non-deleted instances, optionally filtered by kind.
func (s *Store) List(kind Kind) ([]DatabaseInstance, error) {
	q := s.db.Order("created_at")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var instances []DatabaseInstance
	if err := q.Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// SetPhysicalName records the allocated physical database identifier.
// The name is immutable once set.
func (s *Store) SetPhysicalName(instance *DatabaseInstance, name string) error {
	if instance.PhysicalName != "" && instance.PhysicalName != name {
		return fmt.Errorf("physical name already set to %q", instance.PhysicalName)
	}
	if err := s.db.Model(instance).Update("physical_name", name).Error; err != nil {
		return fmt.Errorf("set physical name: %w", err)
	}
	instance.PhysicalName = name
	return nil
}

// Transition moves the instance along one lifecycle edge. Illegal edges
// fail with *TransitionError. The update is conditioned on the current
// status so a concurrent transition loses deterministically.
func (s *Store) Transition(instance *DatabaseInstance, to Status) error {
	if err := s.machine.Validate(instance.Status, to); err != nil {
		return err
	}
	res := s.db.Model(&DatabaseInstance{}).
		Where("id = ? AND status = ?", instance.ID, instance.Status).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("transition %s -> %s: %w", instance.Status, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return &TransitionError{
			From:    instance.Status,
			To:      to,
			Message: fmt.Sprintf("instance %s changed state concurrently", instance.ID),
		}
	}
	instance.Status = to
	return nil
}

// SetMetadata replaces the instance metadata map.
func (s *Store) SetMetadata(instance *DatabaseInstance, metadata Metadata) error {
	if metadata == nil {
		metadata = Metadata{}
	}
	if err := s.db.Model(instance).Update("metadata", metadata).Error; err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	instance.Metadata = metadata
	return nil
}

// SetSize records the last computed storage footprint.
func (s *Store) SetSize(instance *DatabaseInstance, sizeBytes int64) error {
	if err := s.db.Model(instance).Update("size_bytes", sizeBytes).Error; err != nil {
		return fmt.Errorf("set size: %w", err)
	}
	instance.SizeBytes = sizeBytes
	return nil
}

// SetLastBackup records the timestamp of the most recent successful backup.
func (s *Store) SetLastBackup(instance *DatabaseInstance, at time.Time) error {
	if err := s.db.Model(instance).Update("last_backup_at", at).Error; err != nil {
		return fmt.Errorf("set last backup: %w", err)
	}
	instance.LastBackupAt = &at
	return nil
}

// SoftDelete tombstones the row: the record is retained with status
// soft_deleted and excluded from all lookups.
func (s *Store) SoftDelete(instance *DatabaseInstance) error {
	if err := s.Transition(instance, StatusSoftDeleted); err != nil {
		return err
	}
	if err := s.db.Delete(instance).Error; err != nil {
		return fmt.Errorf("soft-delete instance: %w", err)
	}
	return nil
}

// Purge removes the row entirely.
func (s *Store) Purge(instance *DatabaseInstance) error {
	if err := s.machine.Validate(instance.Status, StatusPurged); err != nil {
		return err
	}
	if err := s.db.Unscoped().Delete(instance).Error; err != nil {
		return fmt.Errorf("purge instance: %w", err)
	}
	instance.Status = StatusPurged
	return nil
}

// Discard removes an error-state instance outside the normal lifecycle.
// error has no outgoing edges, so delete-and-recreate recovery bypasses
// the machine here and nowhere else.
func (s *Store) Discard(instance *DatabaseInstance, purge bool) error {
	if instance.Status != StatusError {
		return fmt.Errorf("discard only applies to error instances, got %s", instance.Status)
	}
	if purge {
		if err := s.db.Unscoped().Delete(instance).Error; err != nil {
			return fmt.Errorf("discard instance: %w", err)
		}
		instance.Status = StatusPurged
		return nil
	}
	if err := s.db.Model(instance).Update("status", StatusSoftDeleted).Error; err != nil {
		return fmt.Errorf("discard instance: %w", err)
	}
	if err := s.db.Delete(instance).Error; err != nil {
		return fmt.Errorf("discard instance: %w", err)
	}
	instance.Status = StatusSoftDeleted
	return nil
}

// isDuplicateKey reports whether err is a unique-constraint violation.
// GORM translates these for some dialects; the string checks cover the
// mysql, postgres and sqlite drivers that don't opt in to translation.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
