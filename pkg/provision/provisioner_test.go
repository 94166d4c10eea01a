package provision

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/siteforge/tenantdb/pkg/naming"
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
	size  int64
	err   error
}

func (f *fakeSizer) Recompute(_ context.Context, instance *registry.DatabaseInstance) (int64, error) {
	f.calls++
	instance.SizeBytes = f.size
	return f.size, f.err
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

func newTestProvisioner(t *testing.T, store *registry.Store, migrator *fakeMigrator, sizer *fakeSizer) (*Provisioner, sqlmock.Sqlmock) {
	t.Helper()
	admin, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { admin.Close() })
	p := NewProvisioner(store, naming.NewAllocator("sf"), admin, migrator, sizer,
		"migrations/baseline", slog.Default())
	return p, mock
}

func TestCreateTemplateDatabase(t *testing.T) {
	store := setupStore(t)
	migrator := &fakeMigrator{}
	sizer := &fakeSizer{size: 16384}
	p, mock := newTestProvisioner(t, store, migrator, sizer)

	mock.ExpectExec("CREATE DATABASE `sf_template_5` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci").
		WillReturnResult(sqlmock.NewResult(0, 0))

	instance, err := p.Create(context.Background(), registry.KindTemplate, "5", "")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusActive, instance.Status)
	assert.Equal(t, "sf_template_5", instance.PhysicalName)
	assert.GreaterOrEqual(t, instance.SizeBytes, int64(0))

	require.Len(t, migrator.calls, 1)
	assert.Equal(t, "migrations/baseline", migrator.calls[0].dir)
	assert.Equal(t, "sf_template_5", migrator.calls[0].database)
	assert.Equal(t, BaselineMigrationsTable, migrator.calls[0].table)
	assert.Equal(t, 1, sizer.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWebsiteDatabaseUsesSanitizedName(t *testing.T) {
	store := setupStore(t)
	p, mock := newTestProvisioner(t, store, &fakeMigrator{}, &fakeSizer{})

	mock.ExpectExec("CREATE DATABASE `sf_my_shop_[0-9a-f]{8}`").
		WillReturnResult(sqlmock.NewResult(0, 0))

	instance, err := p.Create(context.Background(), registry.KindWebsite, "9", "My Shop")
	require.NoError(t, err)
	assert.Regexp(t, `^sf_my_shop_[0-9a-f]{8}$`, instance.PhysicalName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsDuplicateTenant(t *testing.T) {
	store := setupStore(t)
	p, mock := newTestProvisioner(t, store, &fakeMigrator{}, &fakeSizer{})

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := p.Create(context.Background(), registry.KindWebsite, "9", "first")
	require.NoError(t, err)

	// No physical work may happen for the duplicate.
	_, err = p.Create(context.Background(), registry.KindWebsite, "9", "second")
	require.ErrorIs(t, err, registry.ErrDuplicateInstance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFailureLeavesErrorInstance(t *testing.T) {
	store := setupStore(t)
	boom := errors.New("disk full")
	migrator := &fakeMigrator{err: boom}
	p, mock := newTestProvisioner(t, store, migrator, &fakeSizer{})

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := p.Create(context.Background(), registry.KindTemplate, "5", "")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "baseline schema", perr.Stage)
	require.ErrorIs(t, err, boom)

	// The row is kept in error status for inspection, not cleaned up.
	instance, err := store.Get(registry.KindTemplate, "5")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusError, instance.Status)
}

func TestCreateDatabaseExecFailure(t *testing.T) {
	store := setupStore(t)
	p, mock := newTestProvisioner(t, store, &fakeMigrator{}, &fakeSizer{})

	mock.ExpectExec("CREATE DATABASE").WillReturnError(errors.New("access denied"))

	_, err := p.Create(context.Background(), registry.KindTemplate, "5", "")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "database creation", perr.Stage)

	instance, err := store.Get(registry.KindTemplate, "5")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusError, instance.Status)
}

func TestDeleteSoftDeletes(t *testing.T) {
	store := setupStore(t)
	p, mock := newTestProvisioner(t, store, &fakeMigrator{}, &fakeSizer{})

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	instance, err := p.Create(context.Background(), registry.KindWebsite, "9", "shop")
	require.NoError(t, err)

	mock.ExpectExec("DROP DATABASE IF EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, p.Delete(context.Background(), instance, false))

	_, err = store.Get(registry.KindWebsite, "9")
	require.ErrorIs(t, err, registry.ErrInstanceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePurges(t *testing.T) {
	store := setupStore(t)
	p, mock := newTestProvisioner(t, store, &fakeMigrator{}, &fakeSizer{})

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	instance, err := p.Create(context.Background(), registry.KindWebsite, "9", "shop")
	require.NoError(t, err)

	mock.ExpectExec("DROP DATABASE IF EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, p.Delete(context.Background(), instance, true))
	assert.Equal(t, registry.StatusPurged, instance.Status)
}

func TestDeleteErrorInstanceWithoutDatabase(t *testing.T) {
	store := setupStore(t)
	p, mock := newTestProvisioner(t, store, &fakeMigrator{}, &fakeSizer{})

	// An instance that failed before name allocation owns no database, so
	// no DROP DATABASE may be issued for it.
	instance, err := store.Register(registry.KindWebsite, "9")
	require.NoError(t, err)
	require.NoError(t, store.Transition(instance, registry.StatusError))
	require.Empty(t, instance.PhysicalName)

	require.NoError(t, p.Delete(context.Background(), instance, true))

	_, err = store.Get(registry.KindWebsite, "9")
	require.ErrorIs(t, err, registry.ErrInstanceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDiscardsErrorInstance(t *testing.T) {
	store := setupStore(t)
	boom := errors.New("broken")
	p, mock := newTestProvisioner(t, store, &fakeMigrator{err: boom}, &fakeSizer{})

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	instance, _ := p.Create(context.Background(), registry.KindWebsite, "9", "shop")
	require.Equal(t, registry.StatusError, instance.Status)

	mock.ExpectExec("DROP DATABASE IF EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, p.Delete(context.Background(), instance, true))

	_, err := store.Get(registry.KindWebsite, "9")
	require.ErrorIs(t, err, registry.ErrInstanceNotFound)
}
