package audit

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the schema up to date. It is idempotent: running it against
// an initialized store is a no-op.
func (l *Ledger) Migrate() error {
	if l.db == nil {
		return errNotOpened()
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(l.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run audit migrations: %w", err)
	}

	return nil
}

// SchemaVersion returns the applied migration version.
func (l *Ledger) SchemaVersion() (int64, error) {
	if l.db == nil {
		return 0, errNotOpened()
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}

	return goose.GetDBVersion(l.db)
}
