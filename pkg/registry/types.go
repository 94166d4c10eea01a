package registry

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind distinguishes the two tenant classes that can own a database.
type Kind string

const (
	KindTemplate Kind = "template"
	KindWebsite  Kind = "website"
)

// Valid reports whether k is a known tenant kind.
func (k Kind) Valid() bool {
	return k == KindTemplate || k == KindWebsite
}

// Status represents the lifecycle state of a database instance.
type Status string

const (
	StatusCreating Status = "creating"
	StatusActive   Status = "active"
	StatusCopying  Status = "copying"
	StatusDeleting Status = "deleting"
	StatusError    Status = "error"
	// StatusSoftDeleted is recorded on tombstoned rows. StatusPurged never
	// appears in storage; it validates the transition that removes the row.
	StatusSoftDeleted Status = "soft_deleted"
	StatusPurged      Status = "purged"
)

// Terminal reports whether no further transitions are allowed from s
// without manual repair.
func (s Status) Terminal() bool {
	switch s {
	case StatusError, StatusSoftDeleted, StatusPurged:
		return true
	}
	return false
}

// MetadataKeyFeatures is the metadata entry holding the installed-feature
// map (feature name -> config).
const MetadataKeyFeatures = "installed_features"

// Metadata is an open key/value map stored as a JSON column.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
	if len(b) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// InstalledFeatures returns the feature name -> config map, never nil.
func (m Metadata) InstalledFeatures() map[string]any {
	features, _ := m[MetadataKeyFeatures].(map[string]any)
	if features == nil {
		features = map[string]any{}
	}
	return features
}

// ErrDuplicateInstance is returned when a non-deleted instance already
// exists for a (kind, reference id) pair.
var ErrDuplicateInstance = errors.New("a database instance already exists for this tenant")

// ErrInstanceNotFound is returned when no non-deleted instance exists for
// the requested tenant reference.
var ErrInstanceNotFound = errors.New("database instance not found")
