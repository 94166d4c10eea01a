package clone

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ScopedSession executes statements with one tenant database as the
// session's default schema. Captured DDL from SHOW CREATE TABLE carries no
// schema qualifier, so it must run on a session bound to the target
// database, and the copy relies on session variables (foreign key checks
// off) that must not leak onto shared connections. A dedicated connection
// per clone replaces mutating the shared session's default schema and
// switching it back, which is not safe under concurrent use.
type ScopedSession interface {
	ExecContext(ctx context.Context, stmt string) error
	Close() error
}

// SessionOpener opens a short-lived session bound to one database.
type SessionOpener interface {
	Open(ctx context.Context, database string) (ScopedSession, error)
}

// Opener opens scoped MySQL sessions derived from the administrative
// connection settings.
type Opener struct {
	cfg *mysql.Config
}

// NewOpener creates an Opener. The config's DBName is replaced per Open
// call; the config itself is never mutated.
func NewOpener(cfg *mysql.Config) *Opener {
	return &Opener{cfg: cfg}
}

// Open connects to the given database and verifies the connection.
func (o *Opener) Open(ctx context.Context, database string) (ScopedSession, error) {
	cfg := o.cfg.Clone()
	cfg.DBName = database
	cfg.MultiStatements = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open session scoped to %s: %w", database, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", database, err)
	}
	return &session{db: db}, nil
}

type session struct {
	db *sql.DB
}

func (s *session) ExecContext(ctx context.Context, stmt string) error {
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *session) Close() error { return s.db.Close() }
