// Package lifecycle coordinates the tenant database engines behind a
// single manager and exposes them over HTTP. Callers always address
// databases by tenant reference, never by raw physical name.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/siteforge/tenantdb/pkg/history"
	"github.com/siteforge/tenantdb/pkg/registry"
)

// Provisioner creates and retires physical databases.
type Provisioner interface {
	Create(ctx context.Context, kind registry.Kind, referenceID, requestedName string) (*registry.DatabaseInstance, error)
	Delete(ctx context.Context, instance *registry.DatabaseInstance, purge bool) error
}

// Cloner duplicates a source database into a fresh target.
type Cloner interface {
	Clone(ctx context.Context, source *registry.DatabaseInstance,
		targetKind registry.Kind, targetReferenceID, desiredName string) (*registry.DatabaseInstance, error)
}

// FeatureInstaller applies and retracts optional schema modules.
type FeatureInstaller interface {
	Install(ctx context.Context, instance *registry.DatabaseInstance, feature string, config map[string]any) error
	Uninstall(ctx context.Context, instance *registry.DatabaseInstance, feature string) error
}

// BackupEngine exports and imports database dumps.
type BackupEngine interface {
	Backup(ctx context.Context, instance *registry.DatabaseInstance) (string, error)
	Restore(ctx context.Context, instance *registry.DatabaseInstance, path string) error
}

// Manager is the lifecycle entry point. All operations are synchronous and
// blocking; callers needing concurrency dispatch onto their own goroutines
// and impose their own deadlines via ctx.
type Manager struct {
	store      *registry.Store
	provisions Provisioner
	clones     Cloner
	features   FeatureInstaller
	backups    BackupEngine
	operations *history.Store
	logger     *slog.Logger
}

// NewManager wires the engines together.
func NewManager(store *registry.Store, provisions Provisioner, clones Cloner,
	features FeatureInstaller, backups BackupEngine, operations *history.Store,
	logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		provisions: provisions,
		clones:     clones,
		features:   features,
		backups:    backups,
		operations: operations,
		logger:     logger,
	}
}

// CreateTemplateDatabase provisions the database for a template.
func (m *Manager) CreateTemplateDatabase(ctx context.Context, templateID string) (*registry.DatabaseInstance, error) {
	started := time.Now()
	instance, err := m.provisions.Create(ctx, registry.KindTemplate, templateID, "")
	m.record(instance, "create_template", started, err)
	return instance, err
}

// CreateWebsiteDatabase provisions the database for a customer website.
func (m *Manager) CreateWebsiteDatabase(ctx context.Context, userID, requestedName string) (*registry.DatabaseInstance, error) {
	started := time.Now()
	instance, err := m.provisions.Create(ctx, registry.KindWebsite, userID, requestedName)
	m.record(instance, "create_website", started, err)
	return instance, err
}

// CloneTemplateToWebsite duplicates a template's database into a new
// website database for the given user.
func (m *Manager) CloneTemplateToWebsite(ctx context.Context, templateID, userID, desiredName string) (*registry.DatabaseInstance, error) {
	started := time.Now()
	source, err := m.store.Get(registry.KindTemplate, templateID)
	if err != nil {
		return nil, err
	}
	target, err := m.clones.Clone(ctx, source, registry.KindWebsite, userID, desiredName)
	m.record(target, "clone", started, err)
	return target, err
}

// Delete drops a tenant's database and retires the instance. With purge
// the registry row is removed; otherwise it is tombstoned.
func (m *Manager) Delete(ctx context.Context, kind registry.Kind, referenceID string, purge bool) error {
	started := time.Now()
	instance, err := m.store.Get(kind, referenceID)
	if err != nil {
		return err
	}
	err = m.provisions.Delete(ctx, instance, purge)
	m.record(instance, "delete", started, err)
	return err
}

// Backup exports a tenant's database to a dump file and returns its path.
func (m *Manager) Backup(ctx context.Context, kind registry.Kind, referenceID string) (string, error) {
	started := time.Now()
	instance, err := m.store.Get(kind, referenceID)
	if err != nil {
		return "", err
	}
	path, err := m.backups.Backup(ctx, instance)
	m.record(instance, "backup", started, err)
	return path, err
}

// Restore replaces a tenant's database with the contents of a dump file.
func (m *Manager) Restore(ctx context.Context, kind registry.Kind, referenceID, path string) error {
	started := time.Now()
	instance, err := m.store.Get(kind, referenceID)
	if err != nil {
		return err
	}
	err = m.backups.Restore(ctx, instance, path)
	m.record(instance, "restore", started, err)
	return err
}

// InstallFeature applies an optional schema module to a tenant's database.
func (m *Manager) InstallFeature(ctx context.Context, kind registry.Kind, referenceID, feature string, config map[string]any) error {
	started := time.Now()
	instance, err := m.store.Get(kind, referenceID)
	if err != nil {
		return err
	}
	err = m.features.Install(ctx, instance, feature, config)
	m.record(instance, "install_feature", started, err)
	return err
}

// UninstallFeature removes a feature's metadata entry. The underlying
// schema is left in place.
func (m *Manager) UninstallFeature(ctx context.Context, kind registry.Kind, referenceID, feature string) error {
	started := time.Now()
	instance, err := m.store.Get(kind, referenceID)
	if err != nil {
		return err
	}
	err = m.features.Uninstall(ctx, instance, feature)
	m.record(instance, "uninstall_feature", started, err)
	return err
}

// Get returns the non-deleted instance for a tenant reference.
func (m *Manager) Get(kind registry.Kind, referenceID string) (*registry.DatabaseInstance, error) {
	return m.store.Get(kind, referenceID)
}

// List returns all non-deleted instances, optionally filtered by kind.
func (m *Manager) List(kind registry.Kind) ([]registry.DatabaseInstance, error) {
	return m.store.List(kind)
}

// History returns recent operation records, optionally for one instance.
func (m *Manager) History(instanceID string, limit int) ([]history.OperationRecord, error) {
	return m.operations.List(instanceID, limit)
}

func (m *Manager) record(instance *registry.DatabaseInstance, action string, started time.Time, opErr error) {
	if m.operations == nil {
		return
	}
	instanceID := ""
	if instance != nil {
		instanceID = instance.ID
	}
	if err := m.operations.Record(instanceID, action, started, opErr); err != nil {
		m.logger.Warn("could not record operation", "action", action, "error", err)
	}
}
