package sweeps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ajimenez-dev/circulation-backend/internal/analytics"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
	"github.com/ajimenez-dev/circulation-backend/pkg/metrics"
)

// PoolReaper reconciles a whole collection against the vendor's catalog and
// zeroes pools whose identifiers the vendor no longer reports.
type PoolReaper interface {
	UpdateLicensePoolsForIdentifiers(ctx context.Context, collectionID uuid.UUID) (int64, error)
}

type collectionLister interface {
	ActiveCollections(ctx context.Context) ([]models.Collection, error)
}

// ReapingSweep runs catalog-wide reconciliation for every collection that has
// a reaper registered. Today that is the Boundless collections; ODL catalogs
// are reconciled per license feed import instead.
type ReapingSweep struct {
	ledger  collectionLister
	reapers map[uuid.UUID]PoolReaper
	events  analytics.Sink
	metrics *metrics.SweepJobMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewReapingSweep(ledger collectionLister, reapers map[uuid.UUID]PoolReaper, events analytics.Sink, jobMetrics *metrics.SweepJobMetrics, logg *logger.Logger) (*ReapingSweep, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if events == nil {
		events = analytics.Noop{}
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ReapingSweep{
		ledger:  ledger,
		reapers: reapers,
		events:  events,
		metrics: jobMetrics,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (s *ReapingSweep) Name() string { return "reaping" }

func (s *ReapingSweep) Run(ctx context.Context) error {
	collections, err := s.ledger.ActiveCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing active collections: %w", err)
	}

	var errs error
	for _, collection := range collections {
		reaper, ok := s.reapers[collection.ID]
		if !ok {
			continue
		}
		cctx := s.logg.WithCollectionID(ctx, collection.ID.String())
		reaped, err := reaper.UpdateLicensePoolsForIdentifiers(cctx, collection.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("collection %s: %w", collection.ID, err))
			continue
		}
		if reaped > 0 {
			s.metrics.AddReaped(s.Name(), reaped)
			s.events.CollectEvent(cctx, analytics.Event{
				Type:         enums.EventAvailabilityReaped,
				LibraryID:    collection.LibraryID,
				CollectionID: collection.ID,
				OccurredAt:   s.now(),
			})
			s.logg.Info(s.logg.WithField(cctx, "pools_reaped", reaped), "vendor dropped titles, pools zeroed")
		}
	}
	return errs
}
