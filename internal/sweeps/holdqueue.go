package sweeps

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

type holdQueueLedger interface {
	ActiveCollections(ctx context.Context) ([]models.Collection, error)
	PoolsByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]models.LicensePool, error)
	RecalculateHoldQueue(ctx context.Context, poolID uuid.UUID) (int, error)
}

// HoldQueueSweep re-derives hold positions for protocols whose queues live
// entirely in the ledger. Vendors that manage their own queues report
// positions on the wire and are skipped here.
type HoldQueueSweep struct {
	ledger    holdQueueLedger
	batchSize int
	logg      *logger.Logger
}

func NewHoldQueueSweep(ledger holdQueueLedger, batchSize int, logg *logger.Logger) (*HoldQueueSweep, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &HoldQueueSweep{ledger: ledger, batchSize: batchSize, logg: logg}, nil
}

func (s *HoldQueueSweep) Name() string { return "hold_queue" }

func (s *HoldQueueSweep) Run(ctx context.Context) error {
	collections, err := s.ledger.ActiveCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing active collections: %w", err)
	}

	var errs error
	for _, collection := range collections {
		if !locallyQueued(collection.Protocol) {
			continue
		}
		if err := s.sweepCollection(ctx, collection.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("collection %s: %w", collection.ID, err))
		}
	}
	return errs
}

func locallyQueued(protocol enums.CollectionProtocol) bool {
	return protocol == enums.ProtocolODL
}

func (s *HoldQueueSweep) sweepCollection(ctx context.Context, collectionID uuid.UUID) error {
	ctx = s.logg.WithCollectionID(ctx, collectionID.String())

	var errs error
	recalculated := 0
	for offset := 0; ; offset += s.batchSize {
		pools, err := s.ledger.PoolsByCollection(ctx, collectionID, s.batchSize, offset)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("listing pools at offset %d: %w", offset, err))
		}
		if len(pools) == 0 {
			break
		}
		for i := range pools {
			if pools[i].PatronsInHoldQueue == 0 && pools[i].LicensesReserved == 0 {
				continue
			}
			changed, err := s.ledger.RecalculateHoldQueue(ctx, pools[i].ID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("pool %s: %w", pools[i].ID, err))
				continue
			}
			recalculated += changed
		}
		if len(pools) < s.batchSize {
			break
		}
	}
	if recalculated > 0 {
		s.logg.Info(s.logg.WithField(ctx, "holds_repositioned", recalculated), "hold queue positions recalculated")
	}
	return errs
}
