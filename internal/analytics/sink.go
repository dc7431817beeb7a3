package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

// Event is one circulation fact worth counting.
type Event struct {
	Type         enums.CirculationEventType `json:"event_type"`
	LibraryID    uuid.UUID                  `json:"library_id"`
	CollectionID uuid.UUID                  `json:"collection_id"`
	PoolID       uuid.UUID                  `json:"license_pool_id"`
	Identifier   string                     `json:"identifier"`
	PatronID     *uuid.UUID                 `json:"patron_id,omitempty"`
	Neighborhood string                     `json:"neighborhood,omitempty"`
	OccurredAt   time.Time                  `json:"occurred_at"`
}

// Sink receives circulation events. Implementations are fire-and-forget: a
// failing sink logs and drops the event rather than surfacing an error that
// could abort circulation.
type Sink interface {
	CollectEvent(ctx context.Context, event Event)
}

// Noop discards every event.
type Noop struct{}

func (Noop) CollectEvent(context.Context, Event) {}
