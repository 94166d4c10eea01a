package feature

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/siteforge/tenantdb/pkg/registry"
)

type migrationCall struct {
	dir      string
	database string
	table    string
}

type fakeMigrator struct {
	calls []migrationCall
	err   error
}

func (f *fakeMigrator) Up(dir, database, table string) error {
	f.calls = append(f.calls, migrationCall{dir, database, table})
	return f.err
}

type fakeSizer struct {
	calls int
}

func (f *fakeSizer) Recompute(_ context.Context, _ *registry.DatabaseInstance) (int64, error) {
	f.calls++
	return 0, nil
}

func setupStore(t *testing.T) *registry.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := registry.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func activeInstance(t *testing.T, store *registry.Store) *registry.DatabaseInstance {
	t.Helper()
	instance, err := store.Register(registry.KindWebsite, "9")
	require.NoError(t, err)
	require.NoError(t, store.SetPhysicalName(instance, "sf_shop_a1b2c3d4"))
	require.NoError(t, store.Transition(instance, registry.StatusActive))
	return instance
}

func featureRoot(t *testing.T, features ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range features {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}
	return root
}

func TestInstallRunsScopedMigration(t *testing.T) {
	store := setupStore(t)
	instance := activeInstance(t, store)
	root := featureRoot(t, "contact_form")
	migrator := &fakeMigrator{}
	sizer := &fakeSizer{}

	installer := NewInstaller(store, migrator, sizer, root, slog.Default())
	config := map[string]any{"notify": "owner@example.com"}
	require.NoError(t, installer.Install(context.Background(), instance, "contact_form", config))

	require.Len(t, migrator.calls, 1)
	assert.Equal(t, filepath.Join(root, "contact_form"), migrator.calls[0].dir)
	assert.Equal(t, "sf_shop_a1b2c3d4", migrator.calls[0].database)
	assert.Equal(t, "feature_contact_form_migrations", migrator.calls[0].table)
	assert.Equal(t, 1, sizer.calls)

	reloaded, err := store.Get(registry.KindWebsite, "9")
	require.NoError(t, err)
	features := reloaded.Metadata.InstalledFeatures()
	require.Contains(t, features, "contact_form")
}

func TestInstallUnknownFeatureIsHardError(t *testing.T) {
	store := setupStore(t)
	instance := activeInstance(t, store)
	migrator := &fakeMigrator{}

	installer := NewInstaller(store, migrator, &fakeSizer{}, featureRoot(t), slog.Default())
	err := installer.Install(context.Background(), instance, "contact_form", nil)
	require.ErrorIs(t, err, ErrFeatureNotFound)
	assert.Empty(t, migrator.calls)
}

func TestInstallRejectsUnsafeFeatureName(t *testing.T) {
	store := setupStore(t)
	instance := activeInstance(t, store)

	installer := NewInstaller(store, &fakeMigrator{}, &fakeSizer{}, featureRoot(t), slog.Default())
	for _, name := range []string{"../evil", "Contact Form", "", "UPPER"} {
		err := installer.Install(context.Background(), instance, name, nil)
		require.ErrorIs(t, err, ErrFeatureNotFound, "name %q", name)
	}
}

func TestInstallRequiresActiveInstance(t *testing.T) {
	store := setupStore(t)
	instance, err := store.Register(registry.KindWebsite, "9")
	require.NoError(t, err)
	migrator := &fakeMigrator{}

	installer := NewInstaller(store, migrator, &fakeSizer{}, featureRoot(t, "contact_form"), slog.Default())
	err = installer.Install(context.Background(), instance, "contact_form", nil)
	require.ErrorIs(t, err, ErrInstanceNotReady)
	assert.Empty(t, migrator.calls)
}

func TestInstallFailureMarksInstance(t *testing.T) {
	store := setupStore(t)
	instance := activeInstance(t, store)
	boom := errors.New("syntax error in migration")
	migrator := &fakeMigrator{err: boom}

	installer := NewInstaller(store, migrator, &fakeSizer{}, featureRoot(t, "contact_form"), slog.Default())
	err := installer.Install(context.Background(), instance, "contact_form", nil)

	var merr *MigrationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "contact_form", merr.Feature)
	require.ErrorIs(t, err, boom)

	reloaded, err := store.Get(registry.KindWebsite, "9")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusError, reloaded.Status)
	assert.NotContains(t, reloaded.Metadata.InstalledFeatures(), "contact_form")
}

func TestUninstallRemovesMetadataOnly(t *testing.T) {
	store := setupStore(t)
	instance := activeInstance(t, store)
	migrator := &fakeMigrator{}

	installer := NewInstaller(store, migrator, &fakeSizer{}, featureRoot(t, "contact_form"), slog.Default())
	require.NoError(t, installer.Install(context.Background(), instance, "contact_form", nil))
	require.NoError(t, installer.Uninstall(context.Background(), instance, "contact_form"))

	reloaded, err := store.Get(registry.KindWebsite, "9")
	require.NoError(t, err)
	assert.NotContains(t, reloaded.Metadata.InstalledFeatures(), "contact_form")

	// No reverse migration ever runs; only the install touched the schema.
	assert.Len(t, migrator.calls, 1)
}

func TestUninstallMissingFeature(t *testing.T) {
	store := setupStore(t)
	instance := activeInstance(t, store)

	installer := NewInstaller(store, &fakeMigrator{}, &fakeSizer{}, featureRoot(t), slog.Default())
	err := installer.Uninstall(context.Background(), instance, "contact_form")
	require.ErrorIs(t, err, ErrFeatureNotInstalled)
}
