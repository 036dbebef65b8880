package eventlog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateEvent is returned by Store.Append when the event id is stored
// already.
var ErrDuplicateEvent = errors.New("event already stored")

type Store interface {
	// Append stores e and assigns it the next sequence number of its
	// aggregate. Allocation and insert happen atomically.
	Append(ctx context.Context, e Event) (Event, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListUnpublished returns events not yet acknowledged by the broker that
	// occurred before the cut-off, ordered by aggregate and sequence.
	ListUnpublished(ctx context.Context, before time.Time, limit int) ([]Event, error)
	ByAggregate(ctx context.Context, aggregateID string) ([]Event, error)
}

type MemoryStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]Event
	seqs   map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: map[uuid.UUID]Event{}, seqs: map[string]int64{}}
}

func (s *MemoryStore) Append(_ context.Context, e Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return Event{}, ErrDuplicateEvent
	}
	s.seqs[e.AggregateID]++
	e.Sequence = s.seqs[e.AggregateID]
	e.Payload = maps.Clone(e.Payload)
	s.events[e.ID] = e
	return e, nil
}

func (s *MemoryStore) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[id]
	return ok, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s not found", id)
	}
	if e.PublishedAt == nil {
		e.PublishedAt = &at
		s.events[id] = e
	}
	return nil
}

func (s *MemoryStore) ListUnpublished(_ context.Context, before time.Time, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.PublishedAt == nil && e.OccurredAt.Before(before) {
			out = append(out, e)
		}
	}
	sortByAggregate(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ByAggregate(_ context.Context, aggregateID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	sortByAggregate(out)
	return out, nil
}

func sortByAggregate(events []Event) {
	slices.SortFunc(events, func(a, b Event) int {
		if c := strings.Compare(a.AggregateID, b.AggregateID); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})
}
