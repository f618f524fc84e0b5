package history

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Compile-time check that postgresRepo implements repo.
var _ repo = (*postgresRepo)(nil)

type postgresRepo struct {
	db *sql.DB
}

func newPostgresRepo(dsn string) (*postgresRepo, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres history: %w", err)
	}
	return &postgresRepo{db: db}, nil
}

func (r *postgresRepo) Init() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS gift_availability (
		id BIGSERIAL PRIMARY KEY,
		gift_id BIGINT NOT NULL,
		ordinal INTEGER NOT NULL,
		available_amount INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL
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

func (r *postgresRepo) Record(o Observation) error {
	_, err := r.db.Exec(
		`INSERT INTO gift_availability (gift_id, ordinal, available_amount, total_amount, kind, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.GiftID, o.Ordinal, o.AvailableAmount, o.TotalAmount, o.Kind, o.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (r *postgresRepo) Close() error {
	return r.db.Close()
}
