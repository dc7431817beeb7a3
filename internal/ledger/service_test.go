package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Library{},
		&models.Patron{},
		&models.Collection{},
		&models.LicensePool{},
		&models.License{},
		&models.DeliveryMechanism{},
		&models.Loan{},
		&models.Hold{},
	); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc, err := NewService(gormTxRunner{db: db}, NewRepository(db))
	require.NoError(t, err)
	return svc, db
}

func seedPool(t *testing.T, db *gorm.DB, mutate func(*models.LicensePool)) *models.LicensePool {
	t.Helper()
	pool := &models.LicensePool{
		ID:                uuid.New(),
		CollectionID:      uuid.New(),
		Identifier:        "urn:isbn:" + uuid.NewString(),
		Type:              enums.PoolTypeMetered,
		LicensesOwned:     2,
		LicensesAvailable: 1,
		Active:            true,
	}
	if mutate != nil {
		mutate(pool)
	}
	require.NoError(t, db.Create(pool).Error)
	return pool
}

func TestApplyLoan_NewLoanConvertsExistingHold(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()
	pool := seedPool(t, db, func(p *models.LicensePool) { p.PatronsInHoldQueue = 2; p.LicensesReserved = 1 })
	patronID := uuid.New()
	require.NoError(t, db.Create(&models.Hold{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: pool.ID, Position: 0, Start: time.Now(),
	}).Error)

	end := time.Now().Add(21 * 24 * time.Hour)
	result, err := svc.ApplyLoan(ctx, ApplyLoanInput{
		PatronID: patronID,
		PoolID:   pool.ID,
		Start:    time.Now(),
		End:      &end,
	})

	require.NoError(t, err)
	assert.True(t, result.IsNew)
	assert.True(t, result.HoldConverted)

	var updated models.LicensePool
	require.NoError(t, db.First(&updated, "id = ?", pool.ID).Error)
	assert.Equal(t, 1, updated.PatronsInHoldQueue)
	assert.Equal(t, 1, updated.LicensesReserved)

	var holds int64
	require.NoError(t, db.Model(&models.Hold{}).Where("patron_id = ?", patronID).Count(&holds).Error)
	assert.Zero(t, holds)
}

func TestApplyLoan_ExistingLoanUpdatedInPlace(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()
	pool := seedPool(t, db, nil)
	patronID := uuid.New()
	external := "txn-1"
	require.NoError(t, db.Create(&models.Loan{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: pool.ID, Start: time.Now().Add(-time.Hour),
	}).Error)

	end := time.Now().Add(48 * time.Hour)
	result, err := svc.ApplyLoan(ctx, ApplyLoanInput{
		PatronID:           patronID,
		PoolID:             pool.ID,
		ExternalIdentifier: &external,
		Start:              time.Now(),
		End:                &end,
	})

	require.NoError(t, err)
	assert.False(t, result.IsNew)
	require.NotNil(t, result.Loan.ExternalIdentifier)
	assert.Equal(t, "txn-1", *result.Loan.ExternalIdentifier)

	var count int64
	require.NoError(t, db.Model(&models.Loan{}).Where("patron_id = ?", patronID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestApplyHold_NewHoldBumpsQueueAndConvertsLoan(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()
	pool := seedPool(t, db, func(p *models.LicensePool) { p.LicensesAvailable = 0 })
	patronID := uuid.New()
	require.NoError(t, db.Create(&models.Loan{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: pool.ID, Start: time.Now(),
	}).Error)

	result, err := svc.ApplyHold(ctx, ApplyHoldInput{
		PatronID: patronID,
		PoolID:   pool.ID,
		Position: 3,
		Start:    time.Now(),
	})

	require.NoError(t, err)
	assert.True(t, result.IsNew)
	assert.True(t, result.LoanConverted)
	assert.Equal(t, 3, result.Hold.Position)

	var updated models.LicensePool
	require.NoError(t, db.First(&updated, "id = ?", pool.ID).Error)
	assert.Equal(t, 1, updated.PatronsInHoldQueue)
}

func TestApplyHold_ExistingHoldRepositioned(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()
	pool := seedPool(t, db, func(p *models.LicensePool) { p.PatronsInHoldQueue = 1 })
	patronID := uuid.New()
	require.NoError(t, db.Create(&models.Hold{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: pool.ID, Position: 5, Start: time.Now(),
	}).Error)

	result, err := svc.ApplyHold(ctx, ApplyHoldInput{
		PatronID: patronID,
		PoolID:   pool.ID,
		Position: 2,
		Start:    time.Now(),
	})

	require.NoError(t, err)
	assert.False(t, result.IsNew)
	assert.Equal(t, 2, result.Hold.Position)

	var updated models.LicensePool
	require.NoError(t, db.First(&updated, "id = ?", pool.ID).Error)
	assert.Equal(t, 1, updated.PatronsInHoldQueue)
}

func TestRemoveHold_DecrementsQueueCounters(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()
	pool := seedPool(t, db, func(p *models.LicensePool) { p.PatronsInHoldQueue = 1; p.LicensesReserved = 1 })
	patronID := uuid.New()
	require.NoError(t, db.Create(&models.Hold{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: pool.ID, Position: 0, Start: time.Now(),
	}).Error)

	deleted, err := svc.RemoveHold(ctx, patronID, pool.ID)

	require.NoError(t, err)
	assert.True(t, deleted)

	var updated models.LicensePool
	require.NoError(t, db.First(&updated, "id = ?", pool.ID).Error)
	assert.Zero(t, updated.PatronsInHoldQueue)
	assert.Zero(t, updated.LicensesReserved)
}

func TestRemoveHold_MissingRowReportsFalse(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	pool := seedPool(t, db, nil)

	deleted, err := svc.RemoveHold(context.Background(), uuid.New(), pool.ID)

	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRecordFulfillment_FirstWriteWins(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()
	pool := seedPool(t, db, nil)
	first := models.DeliveryMechanism{
		ID: uuid.New(), LicensePoolID: pool.ID, ContentType: models.ContentTypeEPUB, DRMScheme: enums.DRMAdobeACS,
	}
	second := models.DeliveryMechanism{
		ID: uuid.New(), LicensePoolID: pool.ID, ContentType: models.ContentTypePDF, DRMScheme: enums.DRMAdobeACS,
	}
	require.NoError(t, db.Create(&first).Error)
	require.NoError(t, db.Create(&second).Error)
	loan := models.Loan{ID: uuid.New(), PatronID: uuid.New(), LicensePoolID: pool.ID, Start: time.Now()}
	require.NoError(t, db.Create(&loan).Error)

	require.NoError(t, svc.RecordFulfillment(ctx, loan.ID, first.ID))
	require.NoError(t, svc.RecordFulfillment(ctx, loan.ID, second.ID))

	var updated models.Loan
	require.NoError(t, db.First(&updated, "id = ?", loan.ID).Error)
	require.NotNil(t, updated.FulfillmentID)
	assert.Equal(t, first.ID, *updated.FulfillmentID)
}

func TestCirculationCounts_IgnoresExpiredAndUnlimited(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	ctx := context.Background()
	patronID := uuid.New()
	metered := seedPool(t, db, nil)
	unlimited := seedPool(t, db, func(p *models.LicensePool) { p.Type = enums.PoolTypeUnlimited })
	expiredPool := seedPool(t, db, nil)

	now := time.Now()
	past := now.Add(-time.Hour)
	require.NoError(t, db.Create(&models.Loan{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: metered.ID, Start: past,
	}).Error)
	require.NoError(t, db.Create(&models.Loan{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: unlimited.ID, Start: past,
	}).Error)
	require.NoError(t, db.Create(&models.Loan{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: expiredPool.ID, Start: past.Add(-time.Hour), End: &past,
	}).Error)
	require.NoError(t, db.Create(&models.Hold{
		ID: uuid.New(), PatronID: patronID, LicensePoolID: metered.ID, Position: 1, Start: past,
	}).Error)

	loans, holds, err := svc.CirculationCounts(ctx, patronID, now)

	require.NoError(t, err)
	assert.Equal(t, 1, loans)
	assert.Equal(t, 1, holds)
}

func TestApplyAvailability_CapsAvailableAtOwned(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	pool := seedPool(t, db, nil)

	inactive := false
	err := svc.ApplyAvailability(context.Background(), pool.ID, AvailabilitySnapshot{
		Owned:     3,
		Available: 9,
		Reserved:  1,
		QueueSize: 4,
		Active:    &inactive,
	})

	require.NoError(t, err)
	var updated models.LicensePool
	require.NoError(t, db.First(&updated, "id = ?", pool.ID).Error)
	assert.Equal(t, 3, updated.LicensesOwned)
	assert.Equal(t, 3, updated.LicensesAvailable)
	assert.Equal(t, 4, updated.PatronsInHoldQueue)
	assert.False(t, updated.Active)
}

func TestApplyLicenseCheckout_DecrementsCopyAndPool(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	pool := seedPool(t, db, func(p *models.LicensePool) { p.LicensesAvailable = 2 })
	license := models.License{
		ID: uuid.New(), LicensePoolID: pool.ID, Identifier: "lic-1",
		CheckoutURL: "https://vendor.example/checkout{?id}", CheckoutsAvailable: 5,
	}
	require.NoError(t, db.Create(&license).Error)

	require.NoError(t, svc.ApplyLicenseCheckout(context.Background(), pool.ID, license.ID))

	var updatedLicense models.License
	require.NoError(t, db.First(&updatedLicense, "id = ?", license.ID).Error)
	assert.Equal(t, 4, updatedLicense.CheckoutsAvailable)

	var updatedPool models.LicensePool
	require.NoError(t, db.First(&updatedPool, "id = ?", pool.ID).Error)
	assert.Equal(t, 1, updatedPool.LicensesAvailable)
}

func TestRecalculateHoldQueue_DerivesPositionsFromOrdering(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	pool := seedPool(t, db, func(p *models.LicensePool) { p.LicensesAvailable = 2 })

	base := time.Now().Add(-4 * time.Hour)
	patrons := make([]uuid.UUID, 4)
	for i := range patrons {
		patrons[i] = uuid.New()
		require.NoError(t, db.Create(&models.Hold{
			ID:            uuid.New(),
			PatronID:      patrons[i],
			LicensePoolID: pool.ID,
			Position:      9,
			Start:         base.Add(time.Duration(i) * time.Hour),
		}).Error)
	}

	changed, err := svc.RecalculateHoldQueue(context.Background(), pool.ID)

	require.NoError(t, err)
	assert.Equal(t, 4, changed)

	expected := []int{0, 0, 1, 2}
	for i, patronID := range patrons {
		var hold models.Hold
		require.NoError(t, db.First(&hold, "patron_id = ?", patronID).Error)
		assert.Equal(t, expected[i], hold.Position, "patron %d", i)
	}

	var updated models.LicensePool
	require.NoError(t, db.First(&updated, "id = ?", pool.ID).Error)
	assert.Equal(t, 2, updated.LicensesReserved)
	assert.Equal(t, 4, updated.PatronsInHoldQueue)
}

func TestReapPoolsExcept_ZeroesDroppedIdentifiers(t *testing.T) {
	t.Parallel()
	svc, db := newTestService(t)
	collectionID := uuid.New()
	kept := seedPool(t, db, func(p *models.LicensePool) { p.CollectionID = collectionID; p.Identifier = "title-kept" })
	dropped := seedPool(t, db, func(p *models.LicensePool) { p.CollectionID = collectionID; p.Identifier = "title-dropped" })

	reaped, err := svc.ReapPoolsExcept(context.Background(), collectionID, []string{"title-kept"})

	require.NoError(t, err)
	assert.EqualValues(t, 1, reaped)

	var keptPool, droppedPool models.LicensePool
	require.NoError(t, db.First(&keptPool, "id = ?", kept.ID).Error)
	require.NoError(t, db.First(&droppedPool, "id = ?", dropped.ID).Error)
	assert.True(t, keptPool.Active)
	assert.False(t, droppedPool.Active)
	assert.Zero(t, droppedPool.LicensesOwned)
}
