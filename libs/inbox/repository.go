// Package inbox records consumed event ids so redelivered Kafka messages are processed once.
package inbox

import (
	"context"

	"github.com/md-rashed-zaman/upachar/libs/db"
)

// Repository dedupes per consumer, so two services reading the same topic do not shadow each other.
type Repository struct {
	pool     db.Querier
	consumer string
}

func NewRepository(pool db.Querier, consumer string) *Repository {
	return &Repository{pool: pool, consumer: consumer}
}

// Record returns false when the event id was already recorded.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
	`, r.consumer, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}
