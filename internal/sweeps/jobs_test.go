package sweeps

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajimenez-dev/circulation-backend/internal/analytics"
	"github.com/ajimenez-dev/circulation-backend/internal/circulation"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

type stubSweepLedger struct {
	collections  []models.Collection
	pools        map[uuid.UUID][]models.LicensePool
	recalculated []uuid.UUID
	recalcErr    error
}

func (s *stubSweepLedger) ActiveCollections(context.Context) ([]models.Collection, error) {
	return s.collections, nil
}

func (s *stubSweepLedger) PoolsByCollection(_ context.Context, collectionID uuid.UUID, limit, offset int) ([]models.LicensePool, error) {
	pools := s.pools[collectionID]
	if offset >= len(pools) {
		return nil, nil
	}
	end := offset + limit
	if end > len(pools) {
		end = len(pools)
	}
	return pools[offset:end], nil
}

func (s *stubSweepLedger) RecalculateHoldQueue(_ context.Context, poolID uuid.UUID) (int, error) {
	if s.recalcErr != nil {
		return 0, s.recalcErr
	}
	s.recalculated = append(s.recalculated, poolID)
	return 1, nil
}

type refreshingAdapter struct {
	refreshed []uuid.UUID
	err       error
}

func (a *refreshingAdapter) Checkout(context.Context, *models.Patron, string, *models.LicensePool, *models.DeliveryMechanism) (circulation.CheckoutOutcome, error) {
	return circulation.CheckoutOutcome{}, nil
}

func (a *refreshingAdapter) PlaceHold(context.Context, *models.Patron, string, *models.LicensePool, string) (*circulation.HoldInfo, error) {
	return nil, nil
}

func (a *refreshingAdapter) Fulfill(context.Context, circulation.FulfillRequest) (circulation.Fulfillment, error) {
	return nil, nil
}

func (a *refreshingAdapter) Checkin(context.Context, *models.Patron, string, *models.LicensePool) error {
	return nil
}

func (a *refreshingAdapter) ReleaseHold(context.Context, *models.Patron, string, *models.LicensePool) error {
	return nil
}

func (a *refreshingAdapter) UpdateAvailability(_ context.Context, pool *models.LicensePool) error {
	if a.err != nil {
		return a.err
	}
	a.refreshed = append(a.refreshed, pool.ID)
	return nil
}

func (a *refreshingAdapter) CanFulfillWithoutLoan(context.Context, *models.Patron, *models.LicensePool, *models.DeliveryMechanism) bool {
	return false
}

func (a *refreshingAdapter) CanRevokeHoldWhenReserved() bool { return true }

func (a *refreshingAdapter) MechanismSetAt() circulation.MechanismTiming {
	return circulation.MechanismAtFulfill
}

func TestAvailabilitySweep_RefreshesEveryPoolAcrossBatches(t *testing.T) {
	collectionID := uuid.New()
	pools := make([]models.LicensePool, 7)
	for i := range pools {
		pools[i] = models.LicensePool{ID: uuid.New(), CollectionID: collectionID}
	}
	ledger := &stubSweepLedger{
		collections: []models.Collection{{ID: collectionID, Protocol: enums.ProtocolODL}},
		pools:       map[uuid.UUID][]models.LicensePool{collectionID: pools},
	}
	adapter := &refreshingAdapter{}
	registry := circulation.NewRegistry()
	registry.Register(collectionID, adapter)

	sweep, err := NewAvailabilitySweep(ledger, registry, 3, testLogger())
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background()))
	assert.Len(t, adapter.refreshed, 7)
}

func TestAvailabilitySweep_AggregatesPoolFailures(t *testing.T) {
	collectionID := uuid.New()
	ledger := &stubSweepLedger{
		collections: []models.Collection{{ID: collectionID, Protocol: enums.ProtocolBoundless}},
		pools: map[uuid.UUID][]models.LicensePool{collectionID: {
			{ID: uuid.New(), CollectionID: collectionID},
			{ID: uuid.New(), CollectionID: collectionID},
		}},
	}
	adapter := &refreshingAdapter{err: errors.New("vendor timeout")}
	registry := circulation.NewRegistry()
	registry.Register(collectionID, adapter)

	sweep, err := NewAvailabilitySweep(ledger, registry, 50, testLogger())
	require.NoError(t, err)

	err = sweep.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vendor timeout")
}

func TestAvailabilitySweep_SkipsCollectionsWithoutAdapter(t *testing.T) {
	collectionID := uuid.New()
	ledger := &stubSweepLedger{
		collections: []models.Collection{{ID: collectionID, Protocol: enums.ProtocolODL}},
		pools: map[uuid.UUID][]models.LicensePool{collectionID: {
			{ID: uuid.New(), CollectionID: collectionID},
		}},
	}

	sweep, err := NewAvailabilitySweep(ledger, circulation.NewRegistry(), 50, testLogger())
	require.NoError(t, err)

	assert.NoError(t, sweep.Run(context.Background()))
}

type stubReaper struct {
	reaped int64
	err    error
	calls  int
}

func (r *stubReaper) UpdateLicensePoolsForIdentifiers(context.Context, uuid.UUID) (int64, error) {
	r.calls++
	return r.reaped, r.err
}

type recordingSink struct {
	events []analytics.Event
}

func (s *recordingSink) CollectEvent(_ context.Context, event analytics.Event) {
	s.events = append(s.events, event)
}

func TestReapingSweep_EmitsEventWhenPoolsZeroed(t *testing.T) {
	collection := models.Collection{ID: uuid.New(), LibraryID: uuid.New(), Protocol: enums.ProtocolBoundless}
	ledger := &stubSweepLedger{collections: []models.Collection{collection}}
	reaper := &stubReaper{reaped: 4}
	sink := &recordingSink{}

	sweep, err := NewReapingSweep(ledger, map[uuid.UUID]PoolReaper{collection.ID: reaper}, sink, nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background()))
	require.Len(t, sink.events, 1)
	assert.Equal(t, enums.EventAvailabilityReaped, sink.events[0].Type)
	assert.Equal(t, collection.LibraryID, sink.events[0].LibraryID)
}

func TestReapingSweep_NothingReapedStaysQuiet(t *testing.T) {
	collection := models.Collection{ID: uuid.New(), Protocol: enums.ProtocolBoundless}
	ledger := &stubSweepLedger{collections: []models.Collection{collection}}
	sink := &recordingSink{}

	sweep, err := NewReapingSweep(ledger, map[uuid.UUID]PoolReaper{collection.ID: &stubReaper{}}, sink, nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background()))
	assert.Empty(t, sink.events)
}

func TestReapingSweep_SkipsCollectionsWithoutReaper(t *testing.T) {
	ledger := &stubSweepLedger{collections: []models.Collection{
		{ID: uuid.New(), Protocol: enums.ProtocolODL},
	}}
	reaper := &stubReaper{}

	sweep, err := NewReapingSweep(ledger, map[uuid.UUID]PoolReaper{uuid.New(): reaper}, nil, nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background()))
	assert.Zero(t, reaper.calls)
}

func TestHoldQueueSweep_RecalculatesOnlyLocallyQueuedProtocols(t *testing.T) {
	odlCollection := uuid.New()
	boundlessCollection := uuid.New()
	queuedPool := models.LicensePool{ID: uuid.New(), CollectionID: odlCollection, PatronsInHoldQueue: 3}
	idlePool := models.LicensePool{ID: uuid.New(), CollectionID: odlCollection}
	ledger := &stubSweepLedger{
		collections: []models.Collection{
			{ID: odlCollection, Protocol: enums.ProtocolODL},
			{ID: boundlessCollection, Protocol: enums.ProtocolBoundless},
		},
		pools: map[uuid.UUID][]models.LicensePool{
			odlCollection:       {queuedPool, idlePool},
			boundlessCollection: {{ID: uuid.New(), CollectionID: boundlessCollection, PatronsInHoldQueue: 9}},
		},
	}

	sweep, err := NewHoldQueueSweep(ledger, 50, testLogger())
	require.NoError(t, err)

	require.NoError(t, sweep.Run(context.Background()))
	assert.Equal(t, []uuid.UUID{queuedPool.ID}, ledger.recalculated)
}
