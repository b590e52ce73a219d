// Package audit is the append-only ledger of pipeline runs and governance
// events (erasure requests and activation exports), stored in SQLite.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/lakegov/internal/governance"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// Ledger records run lifecycles and governance events.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger instance. Call Open before use.
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{logger: logger, now: time.Now}
}

// Open opens the SQLite audit store at path.
func (l *Ledger) Open(path string) error {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	// One writer at a time; the ledger is a local single-process store.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping audit store %s: %w", path, err)
	}

	l.logger.Debug("opened audit store", "path", path)
	l.db = db
	l.path = path
	return nil
}

// OpenDB attaches an existing connection, e.g. a mock in tests.
func (l *Ledger) OpenDB(db *sql.DB) {
	l.db = db
}

// Close closes the audit store.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Path returns the audit store location.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) timestamp() string {
	return governance.Timestamp(l.now())
}

func generateID() string {
	return uuid.New().String()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func errNotOpened() error {
	return fmt.Errorf("audit store not opened")
}
