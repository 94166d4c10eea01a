// Package clone duplicates an existing tenant database's full schema and
// rows into a newly created one.
package clone

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/siteforge/tenantdb/pkg/naming"
	"github.com/siteforge/tenantdb/pkg/registry"
)

// ErrSourceNotReady is returned when the clone source is not active.
var ErrSourceNotReady = errors.New("source database is not active")

// Error reports a clone failure and names the last table attempted.
// A mid-copy failure leaves a partially populated target; tables are
// copied sequentially with no cross-table transaction.
type Error struct {
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("clone failed: %v", e.Err)
	}
	return fmt.Sprintf("clone failed at table %s: %v", e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PhysicalCreator creates empty physical databases.
type PhysicalCreator interface {
	CreatePhysical(ctx context.Context, name string) error
}

// Sizer recomputes an instance's storage footprint.
type Sizer interface {
	Recompute(ctx context.Context, instance *registry.DatabaseInstance) (int64, error)
}

const listTablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`

// Cloner duplicates one tenant database into another.
type Cloner struct {
	store    *registry.Store
	names    *naming.Allocator
	admin    *sql.DB
	creator  PhysicalCreator
	sessions SessionOpener
	sizer    Sizer
	logger   *slog.Logger
}

// NewCloner creates a Cloner.
func NewCloner(store *registry.Store, names *naming.Allocator, admin *sql.DB,
	creator PhysicalCreator, sessions SessionOpener, sizer Sizer, logger *slog.Logger) *Cloner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cloner{
		store:    store,
		names:    names,
		admin:    admin,
		creator:  creator,
		sessions: sessions,
		sizer:    sizer,
		logger:   logger,
	}
}

// Clone registers a target instance for the tenant, creates its physical
// database, carries the source metadata over verbatim, and copies every
// table. The target is in copying status for the duration of the row copy
// so readers know the container exists but is not yet safe to read.
func (c *Cloner) Clone(ctx context.Context, source *registry.DatabaseInstance,
	targetKind registry.Kind, targetReferenceID, desiredName string) (*registry.DatabaseInstance, error) {
	if source.Status != registry.StatusActive {
		return nil, fmt.Errorf("instance %s is %s: %w", source.ID, source.Status, ErrSourceNotReady)
	}

	target, err := c.store.Register(targetKind, targetReferenceID)
	if err != nil {
		return nil, err
	}

	name, err := c.allocate(targetKind, targetReferenceID, desiredName)
	if err != nil {
		return target, c.fail(target, "", err)
	}
	if err := c.store.SetPhysicalName(target, name); err != nil {
		return target, c.fail(target, "", err)
	}
	if err := c.creator.CreatePhysical(ctx, name); err != nil {
		return target, c.fail(target, "", err)
	}
	if err := c.store.Transition(target, registry.StatusActive); err != nil {
		return target, c.fail(target, "", err)
	}
	if err := c.store.SetMetadata(target, copyMetadata(source.Metadata)); err != nil {
		return target, c.fail(target, "", err)
	}
	if err := c.store.Transition(target, registry.StatusCopying); err != nil {
		return target, c.fail(target, "", err)
	}

	if table, err := c.copyTables(ctx, source.PhysicalName, target.PhysicalName); err != nil {
		return target, c.fail(target, table, err)
	}

	if err := c.store.Transition(target, registry.StatusActive); err != nil {
		return target, c.fail(target, "", err)
	}
	if _, err := c.sizer.Recompute(ctx, target); err != nil {
		c.logger.Warn("size recomputation failed", "instance", target.ID, "error", err)
	}

	c.logger.Info("cloned database",
		"source", source.PhysicalName, "target", target.PhysicalName)
	return target, nil
}

// copyTables duplicates every base table of sourceDB into targetDB. On
// failure it returns the table being processed. Rows move with a
// same-server cross-schema INSERT ... SELECT, never through the client.
//
// Tables are processed in name order, not dependency order. Foreign key
// checks are turned off on the session for the whole copy so a child
// table's DDL and rows can land before the parent it references. The
// toggle is session-scoped and dies with the connection.
func (c *Cloner) copyTables(ctx context.Context, sourceDB, targetDB string) (string, error) {
	tables, err := c.listTables(ctx, sourceDB)
	if err != nil {
		return "", err
	}

	session, err := c.sessions.Open(ctx, targetDB)
	if err != nil {
		return "", err
	}
	defer session.Close()

	if err := session.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=0"); err != nil {
		return "", fmt.Errorf("disable foreign key checks: %w", err)
	}

	for _, table := range tables {
		if err := c.copyTable(ctx, session, sourceDB, targetDB, table); err != nil {
			return table, err
		}
	}
	return "", nil
}

func (c *Cloner) copyTable(ctx context.Context, session ScopedSession, sourceDB, targetDB, table string) error {
	qualifiedSource := naming.QuoteIdentifier(sourceDB) + "." + naming.QuoteIdentifier(table)
	qualifiedTarget := naming.QuoteIdentifier(targetDB) + "." + naming.QuoteIdentifier(table)

	if err := session.ExecContext(ctx, "DROP TABLE IF EXISTS "+qualifiedTarget); err != nil {
		return fmt.Errorf("drop stale table: %w", err)
	}

	ddl, err := c.tableDefinition(ctx, qualifiedSource)
	if err != nil {
		return err
	}
	if err := session.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table in target: %w", err)
	}

	copyStmt := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", qualifiedTarget, qualifiedSource)
	if err := session.ExecContext(ctx, copyStmt); err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}
	return nil
}

// tableDefinition reads the full CREATE TABLE statement via introspection.
func (c *Cloner) tableDefinition(ctx context.Context, qualifiedTable string) (string, error) {
	var name, ddl string
	row := c.admin.QueryRowContext(ctx, "SHOW CREATE TABLE "+qualifiedTable)
	if err := row.Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("read table definition: %w", err)
	}
	return ddl, nil
}

func (c *Cloner) listTables(ctx context.Context, database string) ([]string, error) {
	rows, err := c.admin.QueryContext(ctx, listTablesQuery, database)
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", database, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", database, err)
	}
	return tables, nil
}

func (c *Cloner) allocate(kind registry.Kind, referenceID, desiredName string) (string, error) {
	if kind == registry.KindTemplate {
		return c.names.ForTemplate(referenceID), nil
	}
	if desiredName == "" {
		desiredName = referenceID
	}
	return c.names.ForWebsite(desiredName)
}

func (c *Cloner) fail(target *registry.DatabaseInstance, table string, cause error) error {
	if terr := c.store.Transition(target, registry.StatusError); terr != nil {
		c.logger.Error("could not mark clone target as failed",
			"instance", target.ID, "error", terr)
	}
	c.logger.Error("clone failed",
		"instance", target.ID, "table", table, "error", cause)
	return &Error{Table: table, Err: cause}
}

// copyMetadata deep-copies the source metadata so the clone starts with
// the same installed-feature list without sharing map state.
func copyMetadata(m registry.Metadata) registry.Metadata {
	if len(m) == 0 {
		return registry.Metadata{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return registry.Metadata{}
	}
	var out registry.Metadata
	if err := json.Unmarshal(b, &out); err != nil {
		return registry.Metadata{}
	}
	return out
}
