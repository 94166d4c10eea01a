// Package backup produces and consumes portable SQL dumps of tenant
// databases via the external mysqldump and mysql client tools.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/siteforge/tenantdb/pkg/registry"
	"github.com/siteforge/tenantdb/pkg/schema"
)

// ErrBackupNotFound is returned when restoring from a dump file that does
// not exist.
var ErrBackupNotFound = errors.New("backup file not found")

// timestampLayout is ISO-8601-ish with colons replaced so the value is
// safe in a filename.
const timestampLayout = "2006-01-02T15-04-05"

// PhysicalManager creates and drops physical databases.
type PhysicalManager interface {
	CreatePhysical(ctx context.Context, name string) error
	DropPhysical(ctx context.Context, name string) error
}

// Engine exports tenant databases to dump files and restores them.
type Engine struct {
	store    *registry.Store
	physical PhysicalManager
	runner   Runner
	conn     schema.ConnInfo
	dir      string
	dumpTool string
	loadTool string
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine writing dumps under dir.
func NewEngine(store *registry.Store, physical PhysicalManager, runner Runner,
	conn schema.ConnInfo, dir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		physical: physical,
		runner:   runner,
		conn:     conn,
		dir:      dir,
		dumpTool: "mysqldump",
		loadTool: "mysql",
		logger:   logger,
		now:      time.Now,
	}
}

// Backup exports the instance's database to a timestamped dump file and
// records the backup time. A non-zero tool exit moves the instance to
// error and surfaces as *ProcessError.
func (e *Engine) Backup(ctx context.Context, instance *registry.DatabaseInstance) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	startedAt := e.now().UTC()
	path := filepath.Join(e.dir, fmt.Sprintf("%s_%s.sql",
		instance.PhysicalName, startedAt.Format(timestampLayout)))

	args := append(e.connArgs(),
		"--single-transaction",
		"--routines",
		"--triggers",
		"--result-file="+path,
		instance.PhysicalName,
	)
	if err := e.runner.Run(ctx, e.dumpTool, args, nil); err != nil {
		e.fail(instance, err)
		return "", err
	}

	if err := e.store.SetLastBackup(instance, startedAt); err != nil {
		return "", err
	}
	e.logger.Info("backed up database", "physical", instance.PhysicalName, "file", path)
	return path, nil
}

// Restore replaces the instance's database with the contents of the dump
// file. The current contents are dropped first; this is destructive by
// design and intended for disaster recovery.
func (e *Engine) Restore(ctx context.Context, instance *registry.DatabaseInstance, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrBackupNotFound)
		}
		return fmt.Errorf("open backup file: %w", err)
	}
	defer file.Close()

	if err := e.physical.DropPhysical(ctx, instance.PhysicalName); err != nil {
		e.fail(instance, err)
		return err
	}
	if err := e.physical.CreatePhysical(ctx, instance.PhysicalName); err != nil {
		e.fail(instance, err)
		return err
	}

	args := append(e.connArgs(), instance.PhysicalName)
	if err := e.runner.Run(ctx, e.loadTool, args, file); err != nil {
		e.fail(instance, err)
		return err
	}

	e.logger.Info("restored database", "physical", instance.PhysicalName, "file", path)
	return nil
}

// connArgs builds the connection argument vector shared by both tools.
func (e *Engine) connArgs() []string {
	return []string{
		"--host=" + e.conn.Host,
		"--port=" + strconv.Itoa(e.conn.Port),
		"--user=" + e.conn.User,
		"--password=" + e.conn.Password,
	}
}

func (e *Engine) fail(instance *registry.DatabaseInstance, cause error) {
	if terr := e.store.Transition(instance, registry.StatusError); terr != nil {
		e.logger.Error("could not mark instance as failed",
			"instance", instance.ID, "error", terr)
	}
	e.logger.Error("backup operation failed",
		"instance", instance.ID, "error", cause)
}
