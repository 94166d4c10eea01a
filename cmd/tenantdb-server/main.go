// Package main provides the tenant database lifecycle server entry point.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/golang/glog"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/siteforge/tenantdb/pkg/backup"
	"github.com/siteforge/tenantdb/pkg/clone"
	"github.com/siteforge/tenantdb/pkg/config"
	"github.com/siteforge/tenantdb/pkg/feature"
	"github.com/siteforge/tenantdb/pkg/history"
	"github.com/siteforge/tenantdb/pkg/lifecycle"
	"github.com/siteforge/tenantdb/pkg/naming"
	"github.com/siteforge/tenantdb/pkg/provision"
	"github.com/siteforge/tenantdb/pkg/registry"
	"github.com/siteforge/tenantdb/pkg/schema"
	"github.com/siteforge/tenantdb/pkg/sizing"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	log.Info("starting tenantdb server",
		"listen", cfg.Listen,
		"registry", cfg.Registry.Dialect,
		"admin", fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	registryDB, err := setupRegistryDB(cfg.Registry)
	if err != nil {
		glog.Fatalf("Failed to connect to registry database: %v", err)
	}

	store := registry.NewStore(registryDB)
	if err := store.AutoMigrate(); err != nil {
		glog.Fatalf("Failed to migrate registry schema: %v", err)
	}
	operations := history.NewStore(registryDB)
	if err := operations.AutoMigrate(); err != nil {
		glog.Fatalf("Failed to migrate operations schema: %v", err)
	}

	adminCfg := adminMySQLConfig(cfg.Admin)
	admin, err := sql.Open("mysql", adminCfg.FormatDSN())
	if err != nil {
		glog.Fatalf("Failed to open admin connection: %v", err)
	}
	defer admin.Close()
	if err := admin.PingContext(ctx); err != nil {
		glog.Fatalf("Failed to reach admin endpoint: %v", err)
	}

	conn := schema.ConnInfo{
		Host:     cfg.Admin.Host,
		Port:     cfg.Admin.Port,
		User:     cfg.Admin.User,
		Password: cfg.Admin.Password,
	}

	names := naming.NewAllocator(cfg.Naming.Prefix)
	migrations := schema.NewRunner(conn)
	sizer := sizing.NewAccountant(admin, store)
	provisioner := provision.NewProvisioner(store, names, admin, migrations, sizer,
		cfg.Paths.BaselineDir(), log)
	cloner := clone.NewCloner(store, names, admin, provisioner,
		clone.NewOpener(adminCfg), sizer, log)
	features := feature.NewInstaller(store, migrations, sizer, cfg.Paths.FeaturesDir(), log)
	backups := backup.NewEngine(store, provisioner, backup.ExecRunner{}, conn,
		cfg.Paths.Backups, log)

	manager := lifecycle.NewManager(store, provisioner, cloner, features, backups, operations, log)

	pruner := history.NewPruner(operations, cfg.History.RetentionDays, 24*time.Hour, log)
	go pruner.Run(ctx)

	root := chi.NewRouter()
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	root.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	root.Mount("/api/v1", lifecycle.Router(manager, nil))

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("listening", "addr", cfg.Listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		glog.Fatalf("Server failed: %v", err)
	}
	log.Info("server stopped")
}

// setupRegistryDB opens the platform database holding instance rows.
func setupRegistryDB(cfg config.RegistryConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch cfg.Dialect {
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported registry dialect %q", cfg.Dialect)
	}
}

// adminMySQLConfig builds the driver config for the administrative
// connection. No default schema is selected; every statement qualifies its
// target explicitly.
func adminMySQLConfig(cfg config.AdminConfig) *gomysql.Config {
	c := gomysql.NewConfig()
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.ParseTime = true
	return c
}
