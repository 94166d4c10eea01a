// Package provision creates and retires the physical databases backing
// tenants.
package provision

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/siteforge/tenantdb/pkg/naming"
	"github.com/siteforge/tenantdb/pkg/registry"
)

// BaselineMigrationsTable tracks baseline schema versions inside each
// tenant database.
const BaselineMigrationsTable = "schema_migrations"

// Every tenant database is created with the same character set and a
// case-insensitive unicode collation.
const (
	charset   = "utf8mb4"
	collation = "utf8mb4_unicode_ci"
)

// SchemaMigrator applies a directory of migration scripts to one tenant
// database.
type SchemaMigrator interface {
	Up(dir, database, table string) error
}

// Sizer recomputes an instance's storage footprint.
type Sizer interface {
	Recompute(ctx context.Context, instance *registry.DatabaseInstance) (int64, error)
}

// Error wraps any failure during provisioning. The instance row and any
// partially created physical database are left in place for inspection.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provisioning failed during %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provisioner creates a physical database per tenant and applies its
// baseline schema.
type Provisioner struct {
	store       *registry.Store
	names       *naming.Allocator
	admin       *sql.DB
	migrator    SchemaMigrator
	sizer       Sizer
	baselineDir string
	logger      *slog.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(store *registry.Store, names *naming.Allocator, admin *sql.DB,
	migrator SchemaMigrator, sizer Sizer, baselineDir string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		store:       store,
		names:       names,
		admin:       admin,
		migrator:    migrator,
		sizer:       sizer,
		baselineDir: baselineDir,
		logger:      logger,
	}
}

// Create registers and builds a database for the tenant. The registry row
// is created before the physical database so a crash mid-provisioning
// leaves a discoverable record rather than an untracked database. A
// duplicate tenant fails with registry.ErrDuplicateInstance before
// anything physical happens.
func (p *Provisioner) Create(ctx context.Context, kind registry.Kind, referenceID, requestedName string) (*registry.DatabaseInstance, error) {
	instance, err := p.store.Register(kind, referenceID)
	if err != nil {
		return nil, err
	}

	name, err := p.allocate(kind, referenceID, requestedName)
	if err != nil {
		return instance, p.fail(instance, "name allocation", err)
	}
	if err := p.store.SetPhysicalName(instance, name); err != nil {
		return instance, p.fail(instance, "name allocation", err)
	}

	if err := p.CreatePhysical(ctx, name); err != nil {
		return instance, p.fail(instance, "database creation", err)
	}
	if err := p.migrator.Up(p.baselineDir, name, BaselineMigrationsTable); err != nil {
		return instance, p.fail(instance, "baseline schema", err)
	}
	if err := p.store.Transition(instance, registry.StatusActive); err != nil {
		return instance, p.fail(instance, "activation", err)
	}
	if _, err := p.sizer.Recompute(ctx, instance); err != nil {
		p.logger.Warn("size recomputation failed", "instance", instance.ID, "error", err)
	}

	p.logger.Info("provisioned database",
		"kind", kind, "reference", referenceID, "physical", name)
	return instance, nil
}

// Delete drops the tenant's physical database and retires the row. With
// purge the row is removed entirely; otherwise it is tombstoned. Instances
// stuck in error are discarded outside the normal lifecycle, which is the
// manual-repair path.
func (p *Provisioner) Delete(ctx context.Context, instance *registry.DatabaseInstance, purge bool) error {
	if instance.Status == registry.StatusError {
		// An instance that failed before name allocation owns no database.
		if instance.PhysicalName != "" {
			if err := p.DropPhysical(ctx, instance.PhysicalName); err != nil {
				return fmt.Errorf("drop database %s: %w", instance.PhysicalName, err)
			}
		}
		return p.store.Discard(instance, purge)
	}

	if err := p.store.Transition(instance, registry.StatusDeleting); err != nil {
		return err
	}
	if instance.PhysicalName != "" {
		if err := p.DropPhysical(ctx, instance.PhysicalName); err != nil {
			return p.fail(instance, "database drop", err)
		}
	}
	if purge {
		return p.store.Purge(instance)
	}
	return p.store.SoftDelete(instance)
}

// CreatePhysical creates an empty physical database with the platform's
// fixed character set and collation.
func (p *Provisioner) CreatePhysical(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("CREATE DATABASE %s CHARACTER SET %s COLLATE %s",
		naming.QuoteIdentifier(name), charset, collation)
	if _, err := p.admin.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// DropPhysical drops a physical database if it exists.
func (p *Provisioner) DropPhysical(ctx context.Context, name string) error {
	stmt := "DROP DATABASE IF EXISTS " + naming.QuoteIdentifier(name)
	if _, err := p.admin.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

func (p *Provisioner) allocate(kind registry.Kind, referenceID, requestedName string) (string, error) {
	if kind == registry.KindTemplate {
		return p.names.ForTemplate(referenceID), nil
	}
	if requestedName == "" {
		requestedName = referenceID
	}
	return p.names.ForWebsite(requestedName)
}

// fail transitions the instance to error and wraps the cause. Nothing is
// cleaned up automatically; the row and database stay put for inspection.
func (p *Provisioner) fail(instance *registry.DatabaseInstance, stage string, cause error) error {
	if terr := p.store.Transition(instance, registry.StatusError); terr != nil {
		p.logger.Error("could not mark instance as failed",
			"instance", instance.ID, "error", terr)
	}
	p.logger.Error("provisioning failed",
		"instance", instance.ID, "stage", stage, "error", cause)
	return &Error{Stage: stage, Err: cause}
}
