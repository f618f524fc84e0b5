package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Compile-time check that sqliteRepo implements repo.
var _ repo = (*sqliteRepo)(nil)

type sqliteRepo struct {
	db *sql.DB
}

func newSQLiteRepo(dsn string) (*sqliteRepo, error) {
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history: %w", err)
	}
	return &sqliteRepo{db: db}, nil
}

func (r *sqliteRepo) Init() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS gift_availability (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		gift_id INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		available_amount INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		observed_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create gift_availability table: %w", err)
	}
	_, err = r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_gift_availability_gift ON gift_availability (gift_id, observed_at)`)
	if err != nil {
		return fmt.Errorf("create gift_availability index: %w", err)
	}
	return nil
}

func (r *sqliteRepo) Record(o Observation) error {
	_, err := r.db.Exec(
		`INSERT INTO gift_availability (gift_id, ordinal, available_amount, total_amount, kind, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.GiftID, o.Ordinal, o.AvailableAmount, o.TotalAmount, o.Kind, o.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (r *sqliteRepo) Close() error {
	return r.db.Close()
}
