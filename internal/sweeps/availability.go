package sweeps

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ajimenez-dev/circulation-backend/internal/circulation"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

const defaultBatchSize = 50

type availabilityLedger interface {
	ActiveCollections(ctx context.Context) ([]models.Collection, error)
	PoolsByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]models.LicensePool, error)
}

// AvailabilitySweep walks every pool of every active collection and refreshes
// its counters from the vendor. Per-pool failures are collected, not fatal:
// one sick title must not starve the rest of the catalog.
type AvailabilitySweep struct {
	ledger    availabilityLedger
	registry  *circulation.Registry
	batchSize int
	logg      *logger.Logger
}

func NewAvailabilitySweep(ledger availabilityLedger, registry *circulation.Registry, batchSize int, logg *logger.Logger) (*AvailabilitySweep, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if registry == nil {
		return nil, fmt.Errorf("adapter registry required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &AvailabilitySweep{ledger: ledger, registry: registry, batchSize: batchSize, logg: logg}, nil
}

func (s *AvailabilitySweep) Name() string { return "availability" }

func (s *AvailabilitySweep) Run(ctx context.Context) error {
	collections, err := s.ledger.ActiveCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing active collections: %w", err)
	}

	var errs error
	for _, collection := range collections {
		if err := s.sweepCollection(ctx, collection); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("collection %s: %w", collection.ID, err))
		}
	}
	return errs
}

func (s *AvailabilitySweep) sweepCollection(ctx context.Context, collection models.Collection) error {
	ctx = s.logg.WithCollectionID(ctx, collection.ID.String())

	var errs error
	for offset := 0; ; offset += s.batchSize {
		pools, err := s.ledger.PoolsByCollection(ctx, collection.ID, s.batchSize, offset)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("listing pools at offset %d: %w", offset, err))
		}
		if len(pools) == 0 {
			return errs
		}
		for i := range pools {
			pool := &pools[i]
			adapter, ok := s.registry.AdapterFor(pool)
			if !ok {
				continue
			}
			if err := adapter.UpdateAvailability(ctx, pool); err != nil {
				s.logg.Error(s.logg.WithPoolID(ctx, pool.ID.String()), "availability refresh failed", err)
				errs = multierr.Append(errs, fmt.Errorf("pool %s: %w", pool.ID, err))
			}
		}
		if len(pools) < s.batchSize {
			return errs
		}
	}
}
