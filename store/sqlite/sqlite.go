/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the property engine using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences (INSERT OR IGNORE -> ON CONFLICT DO NOTHING).

INTERFACES IMPLEMENTED:
  inventory.TxStore:  Buckets, transition markers, movements
  population.Store:   Windowed seeding and counting
  reservation.Store:  Reservations, folio windows
  audit.Store:        Invoices, versioned business date, audit runs

KEY TABLES:
  room_types:            Seeding source (total and out of order units)
  inventory_buckets:     One row per room type per night, conservation CHECKed
  inventory_transitions: Applied/released markers, one per reservation and kind
  inventory_movements:   Append-only per-night effect of each transition
  reservations:          Booking documents and their status
  folio_windows:         Chargeable spans opened at check-in
  invoices:              Invoice headers with decimal totals
  invoice_items:         Lines; nightly lines unique per (folio window, date)
  property_settings:     Business date with a version column for CAS writes
  audit_runs:            One row per night audit execution

INDEXES:
  - inventory_buckets PK (room_type, for_date): ledger hot path, seeding dedupe
  - idx_buckets_date: counting and dashboard reads
  - idx_unique_nightly_line: enforces one nightly charge per folio window/date
  - idx_movements_reservation: release replay

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within the process, and opens
  transactions with BEGIN IMMEDIATE so another process writing the same file
  waits on the busy timeout instead of failing mid-transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/abchotels.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := inventory.NewLedger(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - inventory.go: Buckets, seeding, ledger records
  - reservation.go: Reservations, folio windows
  - audit.go: Invoices, business date, audit runs
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx. Statement helpers take one so
// the same code runs inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Seeding source
	CREATE TABLE IF NOT EXISTS room_types (
		name TEXT PRIMARY KEY,
		total_units INTEGER NOT NULL CHECK (total_units >= 0),
		out_of_order_units INTEGER NOT NULL DEFAULT 0
			CHECK (out_of_order_units >= 0 AND out_of_order_units <= total_units),
		created_at TEXT NOT NULL
	);

	-- Per room type, per night counters
	CREATE TABLE IF NOT EXISTS inventory_buckets (
		room_type TEXT NOT NULL REFERENCES room_types(name),
		for_date INTEGER NOT NULL,
		name TEXT NOT NULL,
		total_units INTEGER NOT NULL,
		occupied_count INTEGER NOT NULL DEFAULT 0,
		out_of_order_count INTEGER NOT NULL DEFAULT 0,
		available_units INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (room_type, for_date),
		CHECK (total_units >= 0 AND occupied_count >= 0 AND out_of_order_count >= 0 AND available_units >= 0),
		CHECK (total_units = occupied_count + out_of_order_count + available_units)
	);

	CREATE INDEX IF NOT EXISTS idx_buckets_date ON inventory_buckets(for_date);

	-- Rate plan prices per bucket night
	CREATE TABLE IF NOT EXISTS inventory_rate_codes (
		room_type TEXT NOT NULL,
		for_date INTEGER NOT NULL,
		rate_code TEXT NOT NULL,
		rate_price TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (room_type, for_date, rate_code),
		FOREIGN KEY (room_type, for_date) REFERENCES inventory_buckets(room_type, for_date)
	);

	CREATE INDEX IF NOT EXISTS idx_rate_codes_date ON inventory_rate_codes(for_date);

	-- Ledger markers (written once)
	CREATE TABLE IF NOT EXISTS inventory_transitions (
		reservation_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('applied', 'released')),
		room_type TEXT NOT NULL,
		stay_start INTEGER NOT NULL,
		stay_end INTEGER NOT NULL,
		rows_touched INTEGER NOT NULL,
		total_delta INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (reservation_id, kind)
	);

	-- Per-night effect of each transition (append-only)
	CREATE TABLE IF NOT EXISTS inventory_movements (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL,
		room_type TEXT NOT NULL,
		for_date INTEGER NOT NULL,
		kind TEXT NOT NULL,
		units INTEGER NOT NULL CHECK (units >= 0),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_reservation
		ON inventory_movements(reservation_id, kind, for_date);

	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		customer TEXT NOT NULL DEFAULT '',
		room_type TEXT NOT NULL,
		check_in INTEGER NOT NULL,
		check_out INTEGER NOT NULL,
		rooms INTEGER NOT NULL CHECK (rooms >= 1),
		nightly_rate TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0 CHECK (status IN (0, 1, 2)),
		checked_in INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (check_out > check_in)
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_stay ON reservations(check_in, check_out);

	-- Folio windows (opened at check-in)
	CREATE TABLE IF NOT EXISTS folio_windows (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL UNIQUE REFERENCES reservations(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		customer TEXT NOT NULL DEFAULT '',
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		nightly_rate TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_folio_windows_span ON folio_windows(window_start, window_end);

	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		folio_window_id TEXT NOT NULL,
		customer TEXT NOT NULL DEFAULT '',
		total TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoice_items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		idx INTEGER NOT NULL,
		item_code TEXT NOT NULL,
		folio_window_id TEXT,
		for_date INTEGER NOT NULL,
		qty TEXT NOT NULL,
		rate TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_nightly_line
		ON invoice_items(invoice_id, folio_window_id, for_date)
		WHERE item_code = 'nightly-accommodation';

	-- Business date (versioned for compare-and-swap)
	CREATE TABLE IF NOT EXISTS property_settings (
		property_id TEXT PRIMARY KEY,
		business_date INTEGER,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Audit runs
	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		business_date INTEGER NOT NULL,
		next_business_date INTEGER,
		status TEXT NOT NULL,
		trigger_name TEXT NOT NULL DEFAULT '',
		candidates INTEGER NOT NULL DEFAULT 0,
		posted INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_property ON audit_runs(property_id, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn inside one database transaction under the write lock.
// fn must only use the given querier.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Helper functions

// Fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeLayout, v)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
