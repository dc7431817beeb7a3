package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajimenez-dev/circulation-backend/internal/analytics"
	"github.com/ajimenez-dev/circulation-backend/internal/ledger"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

// estimatedLoanWindow is the synthetic expiry assigned when a vendor reports
// "already checked out" without echoing the real loan terms.
const estimatedLoanWindow = time.Hour

// PrivilegeChecker rejects patrons who may not borrow at all.
type PrivilegeChecker interface {
	AssertBorrowingPrivileges(ctx context.Context, patron *models.Patron, library *models.Library) error
}

// Service is the vendor-agnostic circulation dispatcher. Patron and library
// arrive as explicit parameters; the dispatcher holds no request-scoped state.
type Service interface {
	// BorrowOrHold attempts a checkout and falls back to a hold. Exactly one
	// of the returned loan/hold is non-nil on success; isNew reports whether
	// the returned row was created by this call.
	BorrowOrHold(ctx context.Context, req BorrowRequest) (*models.Loan, *models.Hold, bool, error)

	// Fulfill produces the content for an active loan.
	Fulfill(ctx context.Context, req FulfillmentRequest) (Fulfillment, error)

	// RevokeLoan returns a title. Succeeds even when no local loan exists.
	RevokeLoan(ctx context.Context, req RevokeRequest) error

	// ReleaseHold removes a patron from a queue. Succeeds even when no local
	// hold exists.
	ReleaseHold(ctx context.Context, req RevokeRequest) error
}

// BorrowRequest carries one patron borrow action.
type BorrowRequest struct {
	Patron      *models.Patron
	Library     *models.Library
	PIN         string
	Pool        *models.LicensePool
	Mechanism   *models.DeliveryMechanism
	NotifyEmail string
}

// FulfillmentRequest carries one patron fulfill action.
type FulfillmentRequest struct {
	Patron       *models.Patron
	Library      *models.Library
	PIN          string
	Pool         *models.LicensePool
	Mechanism    *models.DeliveryMechanism
	ClientCrypto *ClientCryptoParams
}

// RevokeRequest carries a revoke-loan or release-hold action.
type RevokeRequest struct {
	Patron  *models.Patron
	Library *models.Library
	PIN     string
	Pool    *models.LicensePool
}

type service struct {
	registry   *Registry
	ledger     ledger.Service
	privileges PrivilegeChecker
	events     analytics.Sink
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the circulation dispatcher.
func NewService(
	registry *Registry,
	ledgerSvc ledger.Service,
	privileges PrivilegeChecker,
	events analytics.Sink,
	logg *logger.Logger,
) (Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("adapter registry required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if privileges == nil {
		return nil, fmt.Errorf("privilege checker required")
	}
	if events == nil {
		events = analytics.Noop{}
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		registry:   registry,
		ledger:     ledgerSvc,
		privileges: privileges,
		events:     events,
		logg:       logg,
		now:        time.Now,
	}, nil
}

func (s *service) BorrowOrHold(ctx context.Context, req BorrowRequest) (*models.Loan, *models.Hold, bool, error) {
	if err := validateAction(req.Patron, req.Library, req.Pool); err != nil {
		return nil, nil, false, err
	}
	ctx = s.logg.WithPatronID(ctx, req.Patron.ID.String())
	ctx = s.logg.WithPoolID(ctx, req.Pool.ID.String())

	if err := s.privileges.AssertBorrowingPrivileges(ctx, req.Patron, req.Library); err != nil {
		return nil, nil, false, err
	}

	adapter, ok := s.registry.AdapterFor(req.Pool)
	if !ok {
		return nil, nil, false, pkgerrors.New(pkgerrors.CodeNoLicenses, "no licensing source configured for this collection")
	}
	if !req.Pool.Type.Limited() && !req.Pool.Active {
		return nil, nil, false, pkgerrors.New(pkgerrors.CodeNoLicenses, "this title is no longer offered")
	}

	if adapter.MechanismSetAt() == MechanismAtBorrow && req.Mechanism == nil {
		return nil, nil, false, pkgerrors.New(pkgerrors.CodeDeliveryMechanismMissing, "a delivery mechanism must be chosen before borrowing")
	}

	existingLoan, err := s.ledger.ActiveLoan(ctx, req.Patron.ID, req.Pool.ID)
	if err != nil {
		return nil, nil, false, err
	}

	if err := s.enforceLimits(ctx, adapter, req.Patron, req.Library, req.Pool); err != nil {
		return nil, nil, false, err
	}

	var (
		loanInfo         *LoanInfo
		holdInfo         *HoldInfo
		stashedLoanLimit error
	)

	outcome, checkoutErr := adapter.Checkout(ctx, req.Patron, req.PIN, req.Pool, req.Mechanism)
	if checkoutErr == nil {
		loanInfo = outcome.Loan
		holdInfo = outcome.Hold
	} else {
		switch pkgerrors.CodeOf(checkoutErr) {
		case pkgerrors.CodeAlreadyCheckedOut:
			// The vendor did not echo loan terms; estimate a short window so
			// the caller still gets a loan-shaped answer.
			end := s.now().Add(estimatedLoanWindow)
			loanInfo = &LoanInfo{
				CollectionID:   req.Pool.CollectionID,
				PoolIdentifier: req.Pool.Identifier,
				Start:          s.now(),
				End:            &end,
			}
		case pkgerrors.CodeAlreadyOnHold:
			holdInfo = &HoldInfo{
				CollectionID:   req.Pool.CollectionID,
				PoolIdentifier: req.Pool.Identifier,
				Position:       PositionUnknown,
				Start:          s.now(),
			}
		case pkgerrors.CodeNoAvailableCopies:
			if existingLoan != nil {
				// Renewal while other patrons are queued.
				return nil, nil, false, pkgerrors.Wrap(pkgerrors.CodeCannotRenew, checkoutErr, "loan cannot be renewed while copies are claimed")
			}
			s.refreshAvailability(ctx, adapter, req.Pool)
		case pkgerrors.CodeNoLicenses:
			s.refreshAvailability(ctx, adapter, req.Pool)
			return nil, nil, false, checkoutErr
		case pkgerrors.CodeLoanLimitReached:
			// The vendor's own limit check may be wrong if the title turns
			// out to be unavailable; hold the error and try queueing first.
			stashedLoanLimit = checkoutErr
		default:
			return nil, nil, false, checkoutErr
		}
	}

	if loanInfo != nil {
		return s.reconcileLoan(ctx, adapter, req, loanInfo)
	}

	if holdInfo == nil {
		holdInfo, err = adapter.PlaceHold(ctx, req.Patron, req.PIN, req.Pool, req.NotifyEmail)
		if err != nil {
			switch pkgerrors.CodeOf(err) {
			case pkgerrors.CodeAlreadyOnHold:
				holdInfo = &HoldInfo{
					CollectionID:   req.Pool.CollectionID,
					PoolIdentifier: req.Pool.Identifier,
					Position:       PositionUnknown,
					Start:          s.now(),
				}
			case pkgerrors.CodeCurrentlyAvailable:
				if stashedLoanLimit != nil {
					// The hold attempt proved the title IS available, so the
					// vendor's original limit diagnosis was right after all.
					return nil, nil, false, stashedLoanLimit
				}
				return nil, nil, false, err
			default:
				return nil, nil, false, err
			}
		}
	}

	return s.reconcileHold(ctx, req, holdInfo)
}

func (s *service) reconcileLoan(ctx context.Context, adapter VendorAdapter, req BorrowRequest, info *LoanInfo) (*models.Loan, *models.Hold, bool, error) {
	input := ledger.ApplyLoanInput{
		PatronID:  req.Patron.ID,
		PoolID:    req.Pool.ID,
		LicenseID: info.LicenseID,
		Start:     info.Start,
		End:       info.End,
	}
	if info.ExternalIdentifier != "" {
		external := info.ExternalIdentifier
		input.ExternalIdentifier = &external
	}
	if info.Start.IsZero() {
		input.Start = s.now()
	}
	if req.Mechanism != nil && adapter.MechanismSetAt() == MechanismAtBorrow {
		mechID := req.Mechanism.ID
		input.FulfillmentID = &mechID
	}

	result, err := s.ledger.ApplyLoan(ctx, input)
	if err != nil {
		return nil, nil, false, err
	}

	if result.HoldConverted {
		s.collect(ctx, req.Library, req.Pool, req.Patron, enums.EventHoldConvertedToLoan)
	}
	if result.IsNew {
		s.collect(ctx, req.Library, req.Pool, req.Patron, enums.EventCheckout)
	}
	return result.Loan, nil, result.IsNew, nil
}

func (s *service) reconcileHold(ctx context.Context, req BorrowRequest, info *HoldInfo) (*models.Loan, *models.Hold, bool, error) {
	input := ledger.ApplyHoldInput{
		PatronID: req.Patron.ID,
		PoolID:   req.Pool.ID,
		Position: info.Position,
		Start:    info.Start,
		End:      info.End,
	}
	if info.Start.IsZero() {
		input.Start = s.now()
	}

	result, err := s.ledger.ApplyHold(ctx, input)
	if err != nil {
		return nil, nil, false, err
	}

	if result.IsNew {
		s.collect(ctx, req.Library, req.Pool, req.Patron, enums.EventHoldPlaced)
	}
	if result.LoanConverted {
		// Unusual: a loan the vendor no longer honors became a hold.
		s.collect(ctx, req.Library, req.Pool, req.Patron, enums.EventLoanConvertedToHold)
	}
	return nil, result.Hold, result.IsNew, nil
}

// enforceLimits applies the library's loan/hold limits to metered pools. When
// only one limit is hit, the pool's availability is refreshed first so the
// right limit is applied to the title's true state.
func (s *service) enforceLimits(ctx context.Context, adapter VendorAdapter, p *models.Patron, library *models.Library, pool *models.LicensePool) error {
	if !pool.Type.Limited() {
		return nil
	}

	loans, holds, err := s.ledger.CirculationCounts(ctx, p.ID, s.now())
	if err != nil {
		return err
	}
	atLoanLimit := library.LoanLimit > 0 && loans >= library.LoanLimit
	atHoldLimit := library.HoldLimit > 0 && holds >= library.HoldLimit

	if !atLoanLimit && !atHoldLimit {
		return nil
	}
	if atLoanLimit && atHoldLimit {
		// Deliberately the loan-limit error: it is the more actionable of
		// the two messages.
		return pkgerrors.New(pkgerrors.CodeLoanLimitReached, "patron is at the loan limit").
			WithDetails(map[string]int{"limit": library.LoanLimit})
	}

	s.refreshAvailability(ctx, adapter, pool)
	refreshed, err := s.ledger.Pool(ctx, pool.ID)
	if err != nil {
		return err
	}
	if refreshed == nil {
		refreshed = pool
	}

	if refreshed.CurrentlyAvailable() && atLoanLimit {
		return pkgerrors.New(pkgerrors.CodeLoanLimitReached, "patron is at the loan limit").
			WithDetails(map[string]int{"limit": library.LoanLimit})
	}
	if !refreshed.CurrentlyAvailable() && atHoldLimit {
		return pkgerrors.New(pkgerrors.CodeHoldLimitReached, "patron is at the hold limit").
			WithDetails(map[string]int{"limit": library.HoldLimit})
	}
	return nil
}

func (s *service) Fulfill(ctx context.Context, req FulfillmentRequest) (Fulfillment, error) {
	if err := validateAction(req.Patron, req.Library, req.Pool); err != nil {
		return nil, err
	}

	loan, err := s.ledger.ActiveLoan(ctx, req.Patron.ID, req.Pool.ID)
	if err != nil {
		return nil, err
	}

	adapter, ok := s.registry.AdapterFor(req.Pool)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeCannotFulfill, "no licensing source configured for this collection")
	}

	if loan == nil && !adapter.CanFulfillWithoutLoan(ctx, req.Patron, req.Pool, req.Mechanism) {
		return nil, pkgerrors.New(pkgerrors.CodeNoActiveLoan, "no active loan for this title")
	}

	if loan != nil && loan.Fulfillment != nil && req.Mechanism != nil &&
		!loan.Fulfillment.CompatibleWith(req.Mechanism) {
		return nil, pkgerrors.New(pkgerrors.CodeDeliveryMechanismConflict, "loan was already fulfilled in an incompatible format")
	}

	fulfillment, err := adapter.Fulfill(ctx, FulfillRequest{
		Patron:       req.Patron,
		PIN:          req.PIN,
		Pool:         req.Pool,
		Loan:         loan,
		Mechanism:    req.Mechanism,
		ClientCrypto: req.ClientCrypto,
	})
	if err != nil {
		return nil, err
	}
	if fulfillment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNoAcceptableFormat, "adapter produced no acceptable format")
	}

	s.collect(ctx, req.Library, req.Pool, req.Patron, enums.EventFulfillment)

	// First non-streaming fulfillment locks in the loan's format.
	if loan != nil && loan.FulfillmentID == nil && req.Mechanism != nil && !req.Mechanism.DRMScheme.Streaming() {
		if err := s.ledger.RecordFulfillment(ctx, loan.ID, req.Mechanism.ID); err != nil {
			return nil, err
		}
	}

	return fulfillment, nil
}

func (s *service) RevokeLoan(ctx context.Context, req RevokeRequest) error {
	if err := validateAction(req.Patron, req.Library, req.Pool); err != nil {
		return err
	}

	adapter, ok := s.registry.AdapterFor(req.Pool)
	if ok {
		// The vendor may believe a loan exists even when we hold no row, so
		// checkin runs unconditionally; "not checked out" is a no-op success.
		if err := adapter.Checkin(ctx, req.Patron, req.PIN, req.Pool); err != nil {
			if !pkgerrors.HasCode(err, pkgerrors.CodeNotCheckedOut) {
				return err
			}
		}
	}

	deleted, err := s.ledger.RemoveLoan(ctx, req.Patron.ID, req.Pool.ID)
	if err != nil {
		return err
	}
	if deleted {
		s.collect(ctx, req.Library, req.Pool, req.Patron, enums.EventCheckin)
	}
	return nil
}

func (s *service) ReleaseHold(ctx context.Context, req RevokeRequest) error {
	if err := validateAction(req.Patron, req.Library, req.Pool); err != nil {
		return err
	}

	hold, err := s.ledger.ActiveHold(ctx, req.Patron.ID, req.Pool.ID)
	if err != nil {
		return err
	}

	adapter, ok := s.registry.AdapterFor(req.Pool)
	if ok {
		if hold != nil && hold.Ready() && !adapter.CanRevokeHoldWhenReserved() {
			return pkgerrors.New(pkgerrors.CodeCannotReleaseHold, "reserved holds cannot be released through this vendor")
		}
		if err := adapter.ReleaseHold(ctx, req.Patron, req.PIN, req.Pool); err != nil {
			if !pkgerrors.HasCode(err, pkgerrors.CodeNotOnHold) {
				return err
			}
		}
	}

	deleted, err := s.ledger.RemoveHold(ctx, req.Patron.ID, req.Pool.ID)
	if err != nil {
		return err
	}
	if deleted {
		s.collect(ctx, req.Library, req.Pool, req.Patron, enums.EventHoldReleased)
	}
	return nil
}

func (s *service) refreshAvailability(ctx context.Context, adapter VendorAdapter, pool *models.LicensePool) {
	if err := adapter.UpdateAvailability(ctx, pool); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("availability refresh failed for pool %s: %v", pool.ID, err))
	}
}

func (s *service) collect(ctx context.Context, library *models.Library, pool *models.LicensePool, p *models.Patron, eventType enums.CirculationEventType) {
	event := analytics.Event{
		Type:         eventType,
		LibraryID:    library.ID,
		CollectionID: pool.CollectionID,
		PoolID:       pool.ID,
		Identifier:   pool.Identifier,
		OccurredAt:   s.now().UTC(),
	}
	if p != nil {
		patronID := p.ID
		event.PatronID = &patronID
	}
	s.events.CollectEvent(ctx, event)
}

func validateAction(p *models.Patron, library *models.Library, pool *models.LicensePool) error {
	if p == nil || p.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "patron required")
	}
	if library == nil || library.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "library required")
	}
	if pool == nil || pool.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "license pool required")
	}
	return nil
}
