package registry

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&DatabaseInstance{}))
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(setupTestDB(t))
}

func TestRegisterCreatesInstance(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindTemplate, "5")
	require.NoError(t, err)
	assert.NotEmpty(t, instance.ID)
	assert.Equal(t, KindTemplate, instance.Kind)
	assert.Equal(t, "5", instance.ReferenceID)
	assert.Equal(t, StatusCreating, instance.Status)
	assert.NotNil(t, instance.Metadata)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Register(KindWebsite, "9")
	require.NoError(t, err)

	_, err = store.Register(KindWebsite, "9")
	require.ErrorIs(t, err, ErrDuplicateInstance)

	// Same reference under a different kind is a different tenant.
	_, err = store.Register(KindTemplate, "9")
	require.NoError(t, err)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Register(Kind("bogus"), "1")
	assert.Error(t, err)
	_, err = store.Register(KindWebsite, "")
	assert.Error(t, err)
}

func TestRegisterUniqueIndexBackstopsRace(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	first, err := store.Register(KindWebsite, "42")
	require.NoError(t, err)

	// Simulate the loser of a check-then-act race by inserting directly,
	// bypassing the existence check. The unique index must reject it.
	dup := &DatabaseInstance{
		ID:          "race-" + first.ID,
		Kind:        KindWebsite,
		ReferenceID: "42",
		Status:      StatusCreating,
		Metadata:    Metadata{},
	}
	err = db.Create(dup).Error
	require.Error(t, err)
	assert.True(t, isDuplicateKey(err))
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(KindTemplate, "missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestTransitionFollowsMachine(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindTemplate, "5")
	require.NoError(t, err)

	require.NoError(t, store.Transition(instance, StatusActive))
	assert.Equal(t, StatusActive, instance.Status)

	err = store.Transition(instance, StatusCreating)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)

	reloaded, err := store.Get(KindTemplate, "5")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, reloaded.Status)
}

func TestTransitionDetectsConcurrentChange(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindTemplate, "5")
	require.NoError(t, err)

	// Another copy of the row advances first.
	other, err := store.Get(KindTemplate, "5")
	require.NoError(t, err)
	require.NoError(t, store.Transition(other, StatusActive))

	err = store.Transition(instance, StatusActive)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
}

func TestSetPhysicalNameIsImmutable(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindWebsite, "9")
	require.NoError(t, err)
	require.NoError(t, store.SetPhysicalName(instance, "sf_shop_a1b2c3d4"))

	assert.Error(t, store.SetPhysicalName(instance, "sf_other_ffffffff"))
	assert.NoError(t, store.SetPhysicalName(instance, "sf_shop_a1b2c3d4"))
}

func TestMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindWebsite, "9")
	require.NoError(t, err)

	metadata := Metadata{
		MetadataKeyFeatures: map[string]any{
			"contact_form": map[string]any{"notify": "owner@example.com"},
		},
	}
	require.NoError(t, store.SetMetadata(instance, metadata))

	reloaded, err := store.Get(KindWebsite, "9")
	require.NoError(t, err)
	features := reloaded.Metadata.InstalledFeatures()
	require.Contains(t, features, "contact_form")
}

func TestSizeAndBackupBookkeeping(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindWebsite, "9")
	require.NoError(t, err)

	require.NoError(t, store.SetSize(instance, 4096))
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLastBackup(instance, at))

	reloaded, err := store.Get(KindWebsite, "9")
	require.NoError(t, err)
	assert.EqualValues(t, 4096, reloaded.SizeBytes)
	require.NotNil(t, reloaded.LastBackupAt)
	assert.True(t, at.Equal(*reloaded.LastBackupAt))
}

func TestSoftDeleteFreesTenantSlot(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindWebsite, "9")
	require.NoError(t, err)
	require.NoError(t, store.Transition(instance, StatusActive))
	require.NoError(t, store.Transition(instance, StatusDeleting))
	require.NoError(t, store.SoftDelete(instance))

	_, err = store.Get(KindWebsite, "9")
	require.ErrorIs(t, err, ErrInstanceNotFound)

	// The tenant may provision again after deletion.
	_, err = store.Register(KindWebsite, "9")
	require.NoError(t, err)
}

func TestPurgeRemovesRow(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindTemplate, "5")
	require.NoError(t, err)
	require.NoError(t, store.Transition(instance, StatusActive))
	require.NoError(t, store.Transition(instance, StatusDeleting))
	require.NoError(t, store.Purge(instance))
	assert.Equal(t, StatusPurged, instance.Status)

	_, err = store.Get(KindTemplate, "5")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestPurgeRequiresDeletingState(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindTemplate, "5")
	require.NoError(t, err)

	var terr *TransitionError
	require.ErrorAs(t, store.Purge(instance), &terr)
}

func TestDiscardClearsErrorInstances(t *testing.T) {
	store := newTestStore(t)

	instance, err := store.Register(KindWebsite, "9")
	require.NoError(t, err)
	require.NoError(t, store.Transition(instance, StatusError))

	// Discard only applies to error instances.
	healthy, err := store.Register(KindWebsite, "10")
	require.NoError(t, err)
	assert.Error(t, store.Discard(healthy, false))

	require.NoError(t, store.Discard(instance, false))
	_, err = store.Get(KindWebsite, "9")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestListFiltersByKind(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Register(KindTemplate, "5")
	require.NoError(t, err)
	_, err = store.Register(KindWebsite, "9")
	require.NoError(t, err)

	all, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	templates, err := store.List(KindTemplate)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, KindTemplate, templates[0].Kind)
}
