package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaEEPROM = `
CREATE TABLE IF NOT EXISTS eeprom (
    addr INTEGER PRIMARY KEY,
    value INTEGER NOT NULL CHECK (value BETWEEN 0 AND 255)
);
`

const (
	selectRangeSQL = `SELECT addr, value FROM eeprom WHERE addr >= ? AND addr < ?`

	upsertByteSQL = `
		INSERT INTO eeprom (addr, value) VALUES (?, ?)
		ON CONFLICT(addr) DO UPDATE SET value=excluded.value
	`
)

// InitDB opens or creates the SQLite file backing the emulated EEPROM.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(schemaEEPROM); err != nil {
		return fmt.Errorf("apply eeprom schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

// SQLite is a ByteStore that keeps one row per written byte, so a record
// update only touches the rows whose value changed.
type SQLite struct {
	db   *sql.DB
	size int
}

// NewSQLite wraps an open database as a ByteStore of the given capacity.
func NewSQLite(db *sql.DB, size int) *SQLite {
	return &SQLite{db: db, size: size}
}

// Load implements ByteStore.
func (s *SQLite) Load(addr, size int) ([]byte, error) {
	if err := checkRange(addr, size, s.size); err != nil {
		return nil, err
	}
	return loadRange(s.db, addr, size)
}

// Store implements ByteStore. Unchanged bytes are not rewritten and all
// changed bytes are committed in a single transaction.
func (s *SQLite) Store(addr int, data []byte) error {
	if err := checkRange(addr, len(data), s.size); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin eeprom write: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := loadRange(tx, addr, len(data))
	if err != nil {
		return err
	}

	for i, b := range data {
		if current[i] == b {
			continue
		}
		if _, err := tx.Exec(upsertByteSQL, addr+i, b); err != nil {
			return fmt.Errorf("write eeprom byte %d: %w", addr+i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit eeprom write: %w", err)
	}
	return nil
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func loadRange(q querier, addr, size int) ([]byte, error) {
	out := make([]byte, size)
	for i := range out {
		out[i] = erased
	}

	rows, err := q.Query(selectRangeSQL, addr, addr+size)
	if err != nil {
		return nil, fmt.Errorf("read eeprom: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a, v int
		if err := rows.Scan(&a, &v); err != nil {
			return nil, fmt.Errorf("scan eeprom row: %w", err)
		}
		out[a-addr] = byte(v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read eeprom: %w", err)
	}
	return out, nil
}
