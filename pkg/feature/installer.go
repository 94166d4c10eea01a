// Package feature installs optional schema modules into individual tenant
// databases.
package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/siteforge/tenantdb/pkg/registry"
)

// ErrFeatureNotFound is returned when no migration set exists for the
// requested feature name. A missing feature is a hard error, never a
// silent no-op.
var ErrFeatureNotFound = errors.New("no migration set exists for feature")

// ErrFeatureNotInstalled is returned when uninstalling a feature that is
// not recorded on the instance.
var ErrFeatureNotInstalled = errors.New("feature is not installed")

// ErrInstanceNotReady is returned when installing into an instance that is
// not active.
var ErrInstanceNotReady = errors.New("database instance is not active")

// MigrationError wraps a failed feature migration run.
type MigrationError struct {
	Feature string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("feature %s migration failed: %v", e.Feature, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Migrator applies a directory of migration scripts to one tenant
// database. Implementations build a unique short-lived connection per
// call; there is no shared connection slot to race on.
type Migrator interface {
	Up(dir, database, table string) error
}

// Sizer recomputes an instance's storage footprint.
type Sizer interface {
	Recompute(ctx context.Context, instance *registry.DatabaseInstance) (int64, error)
}

// Feature names double as directory names and migration-table fragments.
var validFeatureName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Installer applies or retracts optional schema modules scoped to one
// tenant's database.
type Installer struct {
	store    *registry.Store
	migrator Migrator
	sizer    Sizer
	root     string
	logger   *slog.Logger
}

// NewInstaller creates an Installer. root is the directory holding one
// migration-script subdirectory per feature name.
func NewInstaller(store *registry.Store, migrator Migrator, sizer Sizer, root string, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{store: store, migrator: migrator, sizer: sizer, root: root, logger: logger}
}

// Install runs the feature's migration set against the instance's database
// and records the feature with its config in the instance metadata. On
// migration failure the instance moves to error and a *MigrationError is
// returned.
func (i *Installer) Install(ctx context.Context, instance *registry.DatabaseInstance, feature string, config map[string]any) error {
	if instance.Status != registry.StatusActive {
		return fmt.Errorf("instance %s is %s: %w", instance.ID, instance.Status, ErrInstanceNotReady)
	}
	dir, err := i.migrationDir(feature)
	if err != nil {
		return err
	}

	table := fmt.Sprintf("feature_%s_migrations", feature)
	if err := i.migrator.Up(dir, instance.PhysicalName, table); err != nil {
		if terr := i.store.Transition(instance, registry.StatusError); terr != nil {
			i.logger.Error("could not mark instance as failed",
				"instance", instance.ID, "error", terr)
		}
		return &MigrationError{Feature: feature, Err: err}
	}

	if config == nil {
		config = map[string]any{}
	}
	metadata := instance.Metadata
	if metadata == nil {
		metadata = registry.Metadata{}
	}
	features := metadata.InstalledFeatures()
	features[feature] = config
	metadata[registry.MetadataKeyFeatures] = features
	if err := i.store.SetMetadata(instance, metadata); err != nil {
		return err
	}

	if _, err := i.sizer.Recompute(ctx, instance); err != nil {
		i.logger.Warn("size recomputation failed", "instance", instance.ID, "error", err)
	}

	i.logger.Info("installed feature", "instance", instance.ID, "feature", feature)
	return nil
}

// Uninstall removes the feature's metadata entry. It never runs reverse
// migrations: tenant data under the feature's tables may still be
// meaningful, so the schema is left untouched.
func (i *Installer) Uninstall(ctx context.Context, instance *registry.DatabaseInstance, feature string) error {
	metadata := instance.Metadata
	features := metadata.InstalledFeatures()
	if _, ok := features[feature]; !ok {
		return fmt.Errorf("feature %s: %w", feature, ErrFeatureNotInstalled)
	}
	delete(features, feature)
	metadata[registry.MetadataKeyFeatures] = features
	if err := i.store.SetMetadata(instance, metadata); err != nil {
		return err
	}

	if _, err := i.sizer.Recompute(ctx, instance); err != nil {
		i.logger.Warn("size recomputation failed", "instance", instance.ID, "error", err)
	}

	i.logger.Info("uninstalled feature", "instance", instance.ID, "feature", feature)
	return nil
}

// migrationDir resolves and validates the feature's migration directory.
func (i *Installer) migrationDir(feature string) (string, error) {
	if !validFeatureName.MatchString(feature) {
		return "", fmt.Errorf("feature name %q: %w", feature, ErrFeatureNotFound)
	}
	dir := filepath.Join(i.root, feature)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("feature %s: %w", feature, ErrFeatureNotFound)
	}
	return dir, nil
}
