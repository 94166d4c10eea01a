// Package schema applies directories of opaque SQL migration scripts to
// individual tenant databases.
package schema

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ConnInfo describes the administrative MySQL endpoint migrations run
// against. The database itself is chosen per call.
type ConnInfo struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Runner runs migration directories against tenant databases. Every Up
// call builds its own short-lived connection scoped to the target
// database, so concurrent runs for different tenants cannot overwrite each
// other's connection state.
type Runner struct {
	conn ConnInfo
}

// NewRunner creates a Runner for the given endpoint.
func NewRunner(conn ConnInfo) *Runner {
	return &Runner{conn: conn}
}

// Up applies every pending migration in dir to the named database,
// tracking versions in the given migrations table. Migration scripts are
// opaque units of work; an already up-to-date database is not an error.
func (r *Runner) Up(dir, database, table string) error {
	m, err := migrate.New("file://"+dir, r.dsn(database, table))
	if err != nil {
		return fmt.Errorf("open migrations in %s: %w", dir, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations from %s to %s: %w", dir, database, err)
	}
	return nil
}

func (r *Runner) dsn(database, table string) string {
	q := url.Values{}
	q.Set("multiStatements", "true")
	q.Set("x-migrations-table", table)
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		url.QueryEscape(r.conn.User), url.QueryEscape(r.conn.Password),
		r.conn.Host, r.conn.Port, database, q.Encode())
}
