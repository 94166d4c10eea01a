package registry

import (
	"time"

	"gorm.io/plugin/soft_delete"
)

// DatabaseInstance is the GORM model tracking one tenant's physical
// database. At most one non-deleted row may exist per (kind, reference_id);
// the composite unique index includes the soft-delete flag so the
// constraint is enforced by the database itself rather than by a
// check-then-insert race.
type DatabaseInstance struct {
	ID           string                `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind         Kind                  `gorm:"column:kind;type:varchar(16);uniqueIndex:idx_instance_tenant,priority:1;not null"`
	ReferenceID  string                `gorm:"column:reference_id;type:varchar(64);uniqueIndex:idx_instance_tenant,priority:2;not null"`
	PhysicalName string                `gorm:"column:physical_name;type:varchar(64);index:idx_instance_physical_name"`
	Status       Status                `gorm:"column:status;type:varchar(16);index:idx_instance_status;not null;default:creating"`
	Metadata     Metadata              `gorm:"column:metadata;type:text"`
	SizeBytes    int64                 `gorm:"column:size_bytes;default:0"`
	LastBackupAt *time.Time            `gorm:"column:last_backup_at"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    soft_delete.DeletedAt `gorm:"uniqueIndex:idx_instance_tenant,priority:3"`
}

// TableName returns the GORM table name.
func (DatabaseInstance) TableName() string { return "database_instances" }

// Readable reports whether external consumers may read from the physical
// database. The rendering pipeline must only touch active instances.
func (i *DatabaseInstance) Readable() bool {
	return i.Status == StatusActive
}
