package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"intruder-sentry-go/internal/config"
	"intruder-sentry-go/internal/models"
)

// TimeLayout is the timestamp string format persisted alongside the evidence
// image.
const TimeLayout = "2006-01-02 15:04:05"

// EventStore appends confirmed intrusion events to the intruder_log table.
// The table is append-only; there is no update or delete path.
type EventStore struct {
	db *sql.DB
}

// New opens the database pool and verifies connectivity.
func New(cfg *config.Config) (*EventStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.DBHost).
		Int("port", cfg.DBPort).
		Str("database", cfg.DBName).
		Msg("Durable store connected")

	return &EventStore{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Persist writes the evidence image and zoned timestamp in a connection
// scoped to this call; the connection is returned to the pool on every exit
// path. Errors propagate to the caller, which treats them as fatal.
func (s *EventStore) Persist(ctx context.Context, ev models.IntrusionEvent) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire store connection: %w", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO intruder_log (image, captured_time) VALUES ($1, $2)`,
		ev.EvidenceImage, ev.Timestamp.Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("insert intruder_log: %w", err)
	}

	log.Info().
		Str("captured_time", ev.Timestamp.Format(TimeLayout)).
		Int("image_bytes", len(ev.EvidenceImage)).
		Msg("Intrusion event persisted")

	return nil
}

func (s *EventStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
