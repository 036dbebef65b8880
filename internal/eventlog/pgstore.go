package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

// Append takes the row lock on the aggregate's counter for the rest of the
// transaction, so concurrent writers from any process get distinct,
// gap-free sequence numbers.
func (s *PGStore) Append(ctx context.Context, e Event) (Event, error) {
	return postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) (Event, error) {
		err := tx.QueryRow(ctx, `
			INSERT INTO event_sequences (aggregate_id, last_seq) VALUES ($1, 1)
			ON CONFLICT (aggregate_id) DO UPDATE SET last_seq = event_sequences.last_seq + 1
			RETURNING last_seq`, e.AggregateID).Scan(&e.Sequence)
		if err != nil {
			return Event{}, fmt.Errorf("allocate sequence: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO order_events
				(event_id, aggregate_type, aggregate_id, event_type, sequence, payload, occurred_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, e.AggregateType, e.AggregateID, e.Type, e.Sequence, e.Payload, e.OccurredAt)
		if postgres.IsUniqueViolation(err, "order_events_pkey") {
			return Event{}, ErrDuplicateEvent
		}
		if err != nil {
			return Event{}, fmt.Errorf("insert event: %w", err)
		}
		return e, nil
	})
}

func (s *PGStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_events WHERE event_id=$1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("select event exists: %w", err)
	}
	return ok, nil
}

func (s *PGStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE order_events SET published_at=$2 WHERE event_id=$1 AND published_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}

const eventColumns = `event_id, aggregate_type, aggregate_id, event_type, sequence, payload, occurred_at, published_at`

func (s *PGStore) ListUnpublished(ctx context.Context, before time.Time, limit int) ([]Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM order_events
		WHERE published_at IS NULL AND occurred_at < $1
		ORDER BY aggregate_id, sequence
		LIMIT $2`, before, limit)
}

func (s *PGStore) ByAggregate(ctx context.Context, aggregateID string) ([]Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM order_events
		WHERE aggregate_id=$1 ORDER BY sequence`, aggregateID)
}

func (s *PGStore) query(ctx context.Context, sql string, args ...any) ([]Event, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	events, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Event])
	if err != nil {
		return nil, fmt.Errorf("collect events: %w", err)
	}
	return events, nil
}
