// Package history records availability observations in a SQL database.
//
// The recorder is optional: it is enabled by configuring a DSN and a nil
// *Recorder is a safe no-op, so the notification pipeline never depends on
// it. Both SQLite file paths and PostgreSQL URLs are accepted; the backend
// is picked by DSN shape.
package history

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Observation is one availability reading of a gift.
type Observation struct {
	GiftID          int64
	Ordinal         int
	AvailableAmount int
	TotalAmount     int
	// Kind is "new" for a first sighting and "update" for an availability
	// drop.
	Kind       string
	ObservedAt time.Time
}

// repo is the storage backend of the recorder.
type repo interface {
	Init() error
	Record(o Observation) error
	Close() error
}

// Recorder writes observations to the configured backend. Failures are
// logged and swallowed; history is auxiliary data.
type Recorder struct {
	repo repo
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped DSNs and
// "sqlite3" for everything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates a recorder for the DSN. An empty DSN yields a nil recorder,
// which disables history.
func Open(dsn string) (*Recorder, error) {
	if dsn == "" {
		return nil, nil
	}

	var (
		r   repo
		err error
	)
	switch DetectDSNType(dsn) {
	case "postgres":
		r, err = newPostgresRepo(dsn)
	default:
		r, err = newSQLiteRepo(dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("open history backend: %w", err)
	}
	if err := r.Init(); err != nil {
		r.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	slog.Info("availability history enabled", "backend", DetectDSNType(dsn))
	return &Recorder{repo: r}, nil
}

// Record stores one observation. Safe on a nil recorder.
func (r *Recorder) Record(o Observation) {
	if r == nil {
		return
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = time.Now()
	}
	if err := r.repo.Record(o); err != nil {
		slog.Warn("history record failed", "gift_id", o.GiftID, "kind", o.Kind, "error", err)
	}
}

// Close releases the backend. Safe on a nil recorder.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	if err := r.repo.Close(); err != nil {
		slog.Warn("history close failed", "error", err)
	}
}
