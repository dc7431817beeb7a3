package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
)

// Repository manages persistence for loans, holds, pools and licenses.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindLoan(ctx context.Context, patronID, poolID uuid.UUID) (*models.Loan, error)
	CreateLoan(ctx context.Context, loan *models.Loan) error
	SaveLoan(ctx context.Context, loan *models.Loan) error
	DeleteLoan(ctx context.Context, patronID, poolID uuid.UUID) (bool, error)
	CountActiveLoans(ctx context.Context, patronID uuid.UUID, now time.Time) (int, error)

	FindHold(ctx context.Context, patronID, poolID uuid.UUID) (*models.Hold, error)
	CreateHold(ctx context.Context, hold *models.Hold) error
	SaveHold(ctx context.Context, hold *models.Hold) error
	DeleteHold(ctx context.Context, patronID, poolID uuid.UUID) (bool, error)
	CountActiveHolds(ctx context.Context, patronID uuid.UUID, now time.Time) (int, error)
	ListHoldsByPool(ctx context.Context, poolID uuid.UUID) ([]models.Hold, error)

	FindPool(ctx context.Context, poolID uuid.UUID) (*models.LicensePool, error)
	FindPoolByIdentifier(ctx context.Context, collectionID uuid.UUID, identifier string) (*models.LicensePool, error)
	SavePool(ctx context.Context, pool *models.LicensePool) error
	ListPoolsByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]models.LicensePool, error)
	ZeroPoolsExcept(ctx context.Context, collectionID uuid.UUID, keep []string) (int64, error)

	LendableLicenses(ctx context.Context, poolID uuid.UUID, now time.Time) ([]models.License, error)
	SaveLicense(ctx context.Context, license *models.License) error

	FindCollection(ctx context.Context, collectionID uuid.UUID) (*models.Collection, error)
	ListActiveCollections(ctx context.Context) ([]models.Collection, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a circulation ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindLoan(ctx context.Context, patronID, poolID uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Preload("Fulfillment").
		Where("patron_id = ? AND license_pool_id = ?", patronID, poolID).
		First(&loan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *repository) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

func (r *repository) SaveLoan(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Save(loan).Error
}

func (r *repository) DeleteLoan(ctx context.Context, patronID, poolID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("patron_id = ? AND license_pool_id = ?", patronID, poolID).
		Delete(&models.Loan{})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) CountActiveLoans(ctx context.Context, patronID uuid.UUID, now time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Joins("JOIN license_pools ON license_pools.id = loans.license_pool_id").
		Where("loans.patron_id = ?", patronID).
		Where("license_pools.type = ?", enums.PoolTypeMetered).
		Where(`loans."end" IS NULL OR loans."end" > ?`, now).
		Count(&count).Error
	return int(count), err
}

func (r *repository) FindHold(ctx context.Context, patronID, poolID uuid.UUID) (*models.Hold, error) {
	var hold models.Hold
	err := r.db.WithContext(ctx).
		Where("patron_id = ? AND license_pool_id = ?", patronID, poolID).
		First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (r *repository) CreateHold(ctx context.Context, hold *models.Hold) error {
	return r.db.WithContext(ctx).Create(hold).Error
}

func (r *repository) SaveHold(ctx context.Context, hold *models.Hold) error {
	return r.db.WithContext(ctx).Save(hold).Error
}

func (r *repository) DeleteHold(ctx context.Context, patronID, poolID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("patron_id = ? AND license_pool_id = ?", patronID, poolID).
		Delete(&models.Hold{})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) CountActiveHolds(ctx context.Context, patronID uuid.UUID, now time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Hold{}).
		Joins("JOIN license_pools ON license_pools.id = holds.license_pool_id").
		Where("holds.patron_id = ?", patronID).
		Where("license_pools.type = ?", enums.PoolTypeMetered).
		Where(`holds."end" IS NULL OR holds."end" > ?`, now).
		Count(&count).Error
	return int(count), err
}

func (r *repository) ListHoldsByPool(ctx context.Context, poolID uuid.UUID) ([]models.Hold, error) {
	var holds []models.Hold
	err := r.db.WithContext(ctx).
		Where("license_pool_id = ?", poolID).
		Order("start ASC, created_at ASC").
		Find(&holds).Error
	return holds, err
}

func (r *repository) FindPool(ctx context.Context, poolID uuid.UUID) (*models.LicensePool, error) {
	var pool models.LicensePool
	err := r.db.WithContext(ctx).
		Preload("Collection").
		Preload("DeliveryMechanisms").
		Where("id = ?", poolID).
		First(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *repository) FindPoolByIdentifier(ctx context.Context, collectionID uuid.UUID, identifier string) (*models.LicensePool, error) {
	var pool models.LicensePool
	err := r.db.WithContext(ctx).
		Where("collection_id = ? AND identifier = ?", collectionID, identifier).
		First(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *repository) SavePool(ctx context.Context, pool *models.LicensePool) error {
	return r.db.WithContext(ctx).
		Omit("Collection", "Licenses", "DeliveryMechanisms").
		Save(pool).Error
}

func (r *repository) ListPoolsByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]models.LicensePool, error) {
	var pools []models.LicensePool
	query := r.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("identifier ASC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&pools).Error
	return pools, err
}

// ZeroPoolsExcept reaps pools for identifiers the vendor no longer reports:
// counters go to zero and the pool is marked inactive.
func (r *repository) ZeroPoolsExcept(ctx context.Context, collectionID uuid.UUID, keep []string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.LicensePool{}).
		Where("collection_id = ?", collectionID)
	if len(keep) > 0 {
		query = query.Where("identifier NOT IN ?", keep)
	}
	result := query.Updates(map[string]any{
		"licenses_owned":     0,
		"licenses_available": 0,
		"licenses_reserved":  0,
		"active":             false,
	})
	return result.RowsAffected, result.Error
}

func (r *repository) LendableLicenses(ctx context.Context, poolID uuid.UUID, now time.Time) ([]models.License, error) {
	var licenses []models.License
	err := r.db.WithContext(ctx).
		Where("license_pool_id = ?", poolID).
		Where("inactive = ?", false).
		Where("checkouts_available >= 1").
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("checkouts_available DESC, identifier ASC").
		Find(&licenses).Error
	return licenses, err
}

func (r *repository) SaveLicense(ctx context.Context, license *models.License) error {
	return r.db.WithContext(ctx).Save(license).Error
}

func (r *repository) FindCollection(ctx context.Context, collectionID uuid.UUID) (*models.Collection, error) {
	var collection models.Collection
	err := r.db.WithContext(ctx).Where("id = ?", collectionID).First(&collection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

func (r *repository) ListActiveCollections(ctx context.Context) ([]models.Collection, error) {
	var collections []models.Collection
	err := r.db.WithContext(ctx).Where("active = ?", true).Find(&collections).Error
	return collections, err
}
