package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrAlreadyMarked reports that another delivery of the same event got there
// first. Callers treat it as "skip", never as a failure.
var ErrAlreadyMarked = errors.New("event already marked as processed")

// Store is the append-once set of processed event ids. Mark must fail with
// ErrAlreadyMarked on a duplicate rather than overwrite; the primary key on
// (event_id, consumer_group) is what makes redelivery safe across instances.
type Store interface {
	Exists(ctx context.Context, eventID, consumerGroup string) (bool, error)
	Mark(ctx context.Context, eventID, eventType, consumerGroup string) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Exists(ctx context.Context, eventID, consumerGroup string) (bool, error) {
	query := `
		SELECT 1 FROM processed_events
		WHERE event_id = $1 AND consumer_group = $2
	`

	var one int
	err := s.db.QueryRowContext(ctx, query, eventID, consumerGroup).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Mark(ctx context.Context, eventID, eventType, consumerGroup string) error {
	query := `
		INSERT INTO processed_events (event_id, event_type, consumer_group, processed_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.db.ExecContext(ctx, query, eventID, eventType, consumerGroup, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyMarked
		}
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint")
}
