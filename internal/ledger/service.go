package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ajimenez-dev/circulation-backend/pkg/db"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the local circulation ledger. Every mutation runs inside its own
// narrowly scoped transaction; callers perform vendor I/O strictly before
// invoking a mutation, never during one.
type Service interface {
	ActiveLoan(ctx context.Context, patronID, poolID uuid.UUID) (*models.Loan, error)
	ActiveHold(ctx context.Context, patronID, poolID uuid.UUID) (*models.Hold, error)
	CirculationCounts(ctx context.Context, patronID uuid.UUID, now time.Time) (loans int, holds int, err error)

	Pool(ctx context.Context, poolID uuid.UUID) (*models.LicensePool, error)
	PoolByIdentifier(ctx context.Context, collectionID uuid.UUID, identifier string) (*models.LicensePool, error)
	Collection(ctx context.Context, collectionID uuid.UUID) (*models.Collection, error)
	ActiveCollections(ctx context.Context) ([]models.Collection, error)
	PoolsByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]models.LicensePool, error)

	ApplyLoan(ctx context.Context, input ApplyLoanInput) (*ApplyLoanResult, error)
	ApplyHold(ctx context.Context, input ApplyHoldInput) (*ApplyHoldResult, error)
	RecordFulfillment(ctx context.Context, loanID, mechanismID uuid.UUID) error
	RemoveLoan(ctx context.Context, patronID, poolID uuid.UUID) (bool, error)
	RemoveHold(ctx context.Context, patronID, poolID uuid.UUID) (bool, error)
	BumpHoldPosition(ctx context.Context, patronID, poolID uuid.UUID, position int) error

	ApplyAvailability(ctx context.Context, poolID uuid.UUID, snapshot AvailabilitySnapshot) error
	LendableLicenses(ctx context.Context, poolID uuid.UUID) ([]models.License, error)
	ApplyLicenseCheckout(ctx context.Context, poolID, licenseID uuid.UUID) error
	RecalculateHoldQueue(ctx context.Context, poolID uuid.UUID) (int, error)
	ReapPoolsExcept(ctx context.Context, collectionID uuid.UUID, keep []string) (int64, error)
}

// ApplyLoanInput carries a vendor-confirmed loan into the ledger.
type ApplyLoanInput struct {
	PatronID           uuid.UUID
	PoolID             uuid.UUID
	LicenseID          *uuid.UUID
	ExternalIdentifier *string
	Start              time.Time
	End                *time.Time
	FulfillmentID      *uuid.UUID
}

// ApplyLoanResult reports what the reconciliation actually changed.
type ApplyLoanResult struct {
	Loan          *models.Loan
	IsNew         bool
	HoldConverted bool
}

// ApplyHoldInput carries a vendor-confirmed hold into the ledger.
type ApplyHoldInput struct {
	PatronID uuid.UUID
	PoolID   uuid.UUID
	Position int
	Start    time.Time
	End      *time.Time
}

// ApplyHoldResult reports what the reconciliation actually changed.
type ApplyHoldResult struct {
	Hold          *models.Hold
	IsNew         bool
	LoanConverted bool
}

// AvailabilitySnapshot is a vendor's current view of a pool's counters.
type AvailabilitySnapshot struct {
	Owned     int
	Available int
	Reserved  int
	QueueSize int
	Active    *bool
}

type service struct {
	tx   txRunner
	repo Repository
	now  func() time.Time
}

// NewService wires the ledger store with its transaction runner and repository.
func NewService(tx txRunner, repo Repository) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{tx: tx, repo: repo, now: time.Now}, nil
}

func (s *service) ActiveLoan(ctx context.Context, patronID, poolID uuid.UUID) (*models.Loan, error) {
	return s.repo.FindLoan(ctx, patronID, poolID)
}

func (s *service) ActiveHold(ctx context.Context, patronID, poolID uuid.UUID) (*models.Hold, error) {
	return s.repo.FindHold(ctx, patronID, poolID)
}

func (s *service) CirculationCounts(ctx context.Context, patronID uuid.UUID, now time.Time) (int, int, error) {
	loans, err := s.repo.CountActiveLoans(ctx, patronID, now)
	if err != nil {
		return 0, 0, err
	}
	holds, err := s.repo.CountActiveHolds(ctx, patronID, now)
	if err != nil {
		return 0, 0, err
	}
	return loans, holds, nil
}

func (s *service) Pool(ctx context.Context, poolID uuid.UUID) (*models.LicensePool, error) {
	return s.repo.FindPool(ctx, poolID)
}

func (s *service) PoolByIdentifier(ctx context.Context, collectionID uuid.UUID, identifier string) (*models.LicensePool, error) {
	return s.repo.FindPoolByIdentifier(ctx, collectionID, identifier)
}

func (s *service) Collection(ctx context.Context, collectionID uuid.UUID) (*models.Collection, error) {
	return s.repo.FindCollection(ctx, collectionID)
}

func (s *service) ActiveCollections(ctx context.Context) ([]models.Collection, error) {
	return s.repo.ListActiveCollections(ctx)
}

func (s *service) PoolsByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]models.LicensePool, error) {
	return s.repo.ListPoolsByCollection(ctx, collectionID, limit, offset)
}

func (s *service) ApplyLoan(ctx context.Context, input ApplyLoanInput) (*ApplyLoanResult, error) {
	if input.PatronID == uuid.Nil || input.PoolID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patron id and pool id required")
	}

	var result ApplyLoanResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		loan, err := repo.FindLoan(ctx, input.PatronID, input.PoolID)
		if err != nil {
			return err
		}
		if loan != nil {
			loan.End = input.End
			if input.ExternalIdentifier != nil {
				loan.ExternalIdentifier = input.ExternalIdentifier
			}
			if input.LicenseID != nil {
				loan.LicenseID = input.LicenseID
			}
			if input.FulfillmentID != nil && loan.FulfillmentID == nil {
				loan.FulfillmentID = input.FulfillmentID
			}
			if err := repo.SaveLoan(ctx, loan); err != nil {
				return err
			}
			result.Loan = loan
			result.IsNew = false
		} else {
			loan = &models.Loan{
				PatronID:           input.PatronID,
				LicensePoolID:      input.PoolID,
				LicenseID:          input.LicenseID,
				FulfillmentID:      input.FulfillmentID,
				ExternalIdentifier: input.ExternalIdentifier,
				Start:              input.Start,
				End:                input.End,
			}
			if err := repo.CreateLoan(ctx, loan); err != nil {
				if !db.IsUniqueViolation(err, "uniq_loan_patron_pool") {
					return err
				}
				// A racing borrow won the insert; adopt its row.
				loan, err = repo.FindLoan(ctx, input.PatronID, input.PoolID)
				if err != nil {
					return err
				}
				result.Loan = loan
				result.IsNew = false
			} else {
				result.Loan = loan
				result.IsNew = true
			}
		}

		deleted, err := repo.DeleteHold(ctx, input.PatronID, input.PoolID)
		if err != nil {
			return err
		}
		result.HoldConverted = deleted
		if deleted {
			return s.adjustQueueCounters(ctx, repo, input.PoolID, -1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *service) ApplyHold(ctx context.Context, input ApplyHoldInput) (*ApplyHoldResult, error) {
	if input.PatronID == uuid.Nil || input.PoolID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patron id and pool id required")
	}

	var result ApplyHoldResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		hold, err := repo.FindHold(ctx, input.PatronID, input.PoolID)
		if err != nil {
			return err
		}
		if hold != nil {
			hold.Position = input.Position
			hold.End = input.End
			if err := repo.SaveHold(ctx, hold); err != nil {
				return err
			}
			result.Hold = hold
			result.IsNew = false
		} else {
			hold = &models.Hold{
				PatronID:      input.PatronID,
				LicensePoolID: input.PoolID,
				Position:      input.Position,
				Start:         input.Start,
				End:           input.End,
			}
			if err := repo.CreateHold(ctx, hold); err != nil {
				if !db.IsUniqueViolation(err, "uniq_hold_patron_pool") {
					return err
				}
				hold, err = repo.FindHold(ctx, input.PatronID, input.PoolID)
				if err != nil {
					return err
				}
				result.Hold = hold
				result.IsNew = false
			} else {
				result.Hold = hold
				result.IsNew = true
				if err := s.adjustQueueCounters(ctx, repo, input.PoolID, 1); err != nil {
					return err
				}
			}
		}

		deleted, err := repo.DeleteLoan(ctx, input.PatronID, input.PoolID)
		if err != nil {
			return err
		}
		result.LoanConverted = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *service) RecordFulfillment(ctx context.Context, loanID, mechanismID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).
			Model(&models.Loan{}).
			Where("id = ? AND fulfillment_id IS NULL", loanID).
			Update("fulfillment_id", mechanismID).Error
	})
}

func (s *service) RemoveLoan(ctx context.Context, patronID, poolID uuid.UUID) (bool, error) {
	var deleted bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		deleted, err = s.repo.WithTx(tx).DeleteLoan(ctx, patronID, poolID)
		return err
	})
	return deleted, err
}

func (s *service) RemoveHold(ctx context.Context, patronID, poolID uuid.UUID) (bool, error) {
	var deleted bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		deleted, err = repo.DeleteHold(ctx, patronID, poolID)
		if err != nil {
			return err
		}
		if deleted {
			return s.adjustQueueCounters(ctx, repo, poolID, -1)
		}
		return nil
	})
	return deleted, err
}

func (s *service) BumpHoldPosition(ctx context.Context, patronID, poolID uuid.UUID, position int) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		hold, err := repo.FindHold(ctx, patronID, poolID)
		if err != nil || hold == nil {
			return err
		}
		hold.Position = position
		return repo.SaveHold(ctx, hold)
	})
}

func (s *service) ApplyAvailability(ctx context.Context, poolID uuid.UUID, snapshot AvailabilitySnapshot) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		pool, err := repo.FindPool(ctx, poolID)
		if err != nil {
			return err
		}
		if pool == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "license pool not found")
		}
		pool.LicensesOwned = snapshot.Owned
		pool.LicensesAvailable = snapshot.Available
		if pool.Type.Limited() && pool.LicensesAvailable > pool.LicensesOwned {
			pool.LicensesAvailable = pool.LicensesOwned
		}
		pool.LicensesReserved = snapshot.Reserved
		pool.PatronsInHoldQueue = snapshot.QueueSize
		if snapshot.Active != nil {
			pool.Active = *snapshot.Active
		}
		return repo.SavePool(ctx, pool)
	})
}

func (s *service) LendableLicenses(ctx context.Context, poolID uuid.UUID) ([]models.License, error) {
	return s.repo.LendableLicenses(ctx, poolID, s.now())
}

// ApplyLicenseCheckout decrements the chosen copy and the pool's availability
// after a vendor accepted a checkout against it.
func (s *service) ApplyLicenseCheckout(ctx context.Context, poolID, licenseID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Model(&models.License{}).
			Where("id = ? AND checkouts_available > 0", licenseID).
			Update("checkouts_available", gorm.Expr("checkouts_available - 1")).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).
			Model(&models.LicensePool{}).
			Where("id = ? AND licenses_available > 0", poolID).
			Update("licenses_available", gorm.Expr("licenses_available - 1")).Error
	})
}

// RecalculateHoldQueue re-derives hold positions and reserved counts from the
// hold ordering. Positions drift between sweeps; that inaccuracy is accepted.
func (s *service) RecalculateHoldQueue(ctx context.Context, poolID uuid.UUID) (int, error) {
	changed := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		pool, err := repo.FindPool(ctx, poolID)
		if err != nil {
			return err
		}
		if pool == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "license pool not found")
		}
		holds, err := repo.ListHoldsByPool(ctx, poolID)
		if err != nil {
			return err
		}

		ready := pool.LicensesAvailable
		if ready > len(holds) {
			ready = len(holds)
		}
		for i := range holds {
			position := 0
			if i >= ready {
				position = i - ready + 1
			}
			if holds[i].Position != position {
				holds[i].Position = position
				if err := repo.SaveHold(ctx, &holds[i]); err != nil {
					return err
				}
				changed++
			}
		}

		pool.LicensesReserved = ready
		pool.PatronsInHoldQueue = len(holds)
		return repo.SavePool(ctx, pool)
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *service) ReapPoolsExcept(ctx context.Context, collectionID uuid.UUID, keep []string) (int64, error) {
	var reaped int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		reaped, err = s.repo.WithTx(tx).ZeroPoolsExcept(ctx, collectionID, keep)
		return err
	})
	return reaped, err
}

func (s *service) adjustQueueCounters(ctx context.Context, repo Repository, poolID uuid.UUID, delta int) error {
	pool, err := repo.FindPool(ctx, poolID)
	if err != nil || pool == nil {
		return err
	}
	pool.PatronsInHoldQueue += delta
	if pool.PatronsInHoldQueue < 0 {
		pool.PatronsInHoldQueue = 0
	}
	if pool.LicensesReserved > pool.PatronsInHoldQueue {
		pool.LicensesReserved = pool.PatronsInHoldQueue
	}
	return repo.SavePool(ctx, pool)
}
