// Package sizing computes the on-disk footprint of tenant databases from
// the engine's metadata catalog.
package sizing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/siteforge/tenantdb/pkg/registry"
)

const sizeQuery = `SELECT COALESCE(SUM(data_length + index_length), 0)
FROM information_schema.tables WHERE table_schema = ?`

// Accountant recomputes and records instance storage footprints. The value
// is advisory; it is refreshed after every structural operation.
type Accountant struct {
	admin *sql.DB
	store *registry.Store
}

// NewAccountant creates an Accountant using the administrative connection.
func NewAccountant(admin *sql.DB, store *registry.Store) *Accountant {
	return &Accountant{admin: admin, store: store}
}

// Recompute sums data and index storage attributed to the instance's
// physical database and writes the result onto the instance. A missing
// schema yields 0, not an error.
func (a *Accountant) Recompute(ctx context.Context, instance *registry.DatabaseInstance) (int64, error) {
	var size sql.NullInt64
	err := a.admin.QueryRowContext(ctx, sizeQuery, instance.PhysicalName).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("query size of %s: %w", instance.PhysicalName, err)
	}
	bytes := size.Int64
	if bytes < 0 {
		bytes = 0
	}
	if err := a.store.SetSize(instance, bytes); err != nil {
		return 0, err
	}
	return bytes, nil
}
