package openaccess

import (
	"context"
	"fmt"
	"time"

	"github.com/ajimenez-dev/circulation-backend/internal/circulation"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
)

// ContentResolver maps a pool and mechanism to the freely hosted content URL.
type ContentResolver interface {
	ContentURL(ctx context.Context, pool *models.LicensePool, mechanism *models.DeliveryMechanism) (url, contentType string, err error)
}

// Adapter circulates open-access and unlimited titles. There is no vendor to
// talk to: loans never expire, holds never exist, and content is a plain URL.
type Adapter struct {
	resolver ContentResolver
	now      func() time.Time
}

// NewAdapter wires the open-access adapter.
func NewAdapter(resolver ContentResolver) (*Adapter, error) {
	if resolver == nil {
		return nil, fmt.Errorf("content resolver required")
	}
	return &Adapter{resolver: resolver, now: time.Now}, nil
}

func (a *Adapter) Checkout(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ *models.DeliveryMechanism) (circulation.CheckoutOutcome, error) {
	if !pool.Active {
		return circulation.CheckoutOutcome{}, pkgerrors.New(pkgerrors.CodeNoLicenses, "this title is no longer offered")
	}
	return circulation.Loaned(circulation.LoanInfo{
		CollectionID:   pool.CollectionID,
		PoolIdentifier: pool.Identifier,
		Start:          a.now(),
	}), nil
}

// PlaceHold always fails: an always-available title cannot be held.
func (a *Adapter) PlaceHold(context.Context, *models.Patron, string, *models.LicensePool, string) (*circulation.HoldInfo, error) {
	return nil, pkgerrors.New(pkgerrors.CodeCurrentlyAvailable, "open-access titles are always available")
}

func (a *Adapter) Fulfill(ctx context.Context, req circulation.FulfillRequest) (circulation.Fulfillment, error) {
	url, contentType, err := a.resolver.ContentURL(ctx, req.Pool, req.Mechanism)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, nil
	}
	return &circulation.RedirectFulfillment{ContentLink: url, Type: contentType}, nil
}

func (a *Adapter) Checkin(context.Context, *models.Patron, string, *models.LicensePool) error {
	return nil
}

func (a *Adapter) ReleaseHold(context.Context, *models.Patron, string, *models.LicensePool) error {
	return pkgerrors.New(pkgerrors.CodeNotOnHold, "open-access titles carry no holds")
}

// UpdateAvailability is a no-op: counters are advisory for open-access pools.
func (a *Adapter) UpdateAvailability(context.Context, *models.LicensePool) error {
	return nil
}

func (a *Adapter) CanFulfillWithoutLoan(context.Context, *models.Patron, *models.LicensePool, *models.DeliveryMechanism) bool {
	return true
}

func (a *Adapter) CanRevokeHoldWhenReserved() bool { return true }

func (a *Adapter) MechanismSetAt() circulation.MechanismTiming {
	return circulation.MechanismAtFulfill
}
