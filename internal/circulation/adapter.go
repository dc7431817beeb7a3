package circulation

import (
	"context"

	"github.com/google/uuid"

	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
)

// MechanismTiming states when an adapter needs the delivery mechanism chosen.
type MechanismTiming string

const (
	MechanismAtBorrow  MechanismTiming = "at_borrow"
	MechanismAtFulfill MechanismTiming = "at_fulfill"
)

// FulfillRequest bundles everything an adapter may need to produce content.
type FulfillRequest struct {
	Patron       *models.Patron
	PIN          string
	Pool         *models.LicensePool
	Loan         *models.Loan
	Mechanism    *models.DeliveryMechanism
	ClientCrypto *ClientCryptoParams
}

// VendorAdapter is the per-protocol circulation backend. Adapters translate
// vendor responses into LoanInfo/HoldInfo/Fulfillment or into the typed error
// vocabulary the dispatcher pattern-matches on.
type VendorAdapter interface {
	// Checkout attempts to borrow. A vendor that silently queues instead of
	// lending yields a Queued outcome, not an error.
	Checkout(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, mechanism *models.DeliveryMechanism) (CheckoutOutcome, error)

	// PlaceHold queues the patron for the title.
	PlaceHold(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, notifyEmail string) (*HoldInfo, error)

	// Fulfill produces the content for an existing loan.
	Fulfill(ctx context.Context, req FulfillRequest) (Fulfillment, error)

	// Checkin returns the title early.
	Checkin(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error

	// ReleaseHold removes the patron from the queue.
	ReleaseHold(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool) error

	// UpdateAvailability refreshes the pool's local counters from the vendor.
	// Best effort: callers log and move on when it fails.
	UpdateAvailability(ctx context.Context, pool *models.LicensePool) error

	// CanFulfillWithoutLoan reports whether content is obtainable loan-lessly.
	CanFulfillWithoutLoan(ctx context.Context, patron *models.Patron, pool *models.LicensePool, mechanism *models.DeliveryMechanism) bool

	// CanRevokeHoldWhenReserved reports whether a reserved (position 0) hold
	// may still be released through this vendor.
	CanRevokeHoldWhenReserved() bool

	// MechanismSetAt governs whether BorrowOrHold requires a delivery
	// mechanism up front.
	MechanismSetAt() MechanismTiming
}

// Registry maps each licensed collection to its adapter. It is built once per
// request-processing context and immutable afterwards.
type Registry struct {
	byCollection map[uuid.UUID]VendorAdapter
}

func NewRegistry() *Registry {
	return &Registry{byCollection: map[uuid.UUID]VendorAdapter{}}
}

// Register binds a collection to its adapter. Later bindings for the same
// collection replace earlier ones.
func (r *Registry) Register(collectionID uuid.UUID, adapter VendorAdapter) {
	if r == nil || adapter == nil || collectionID == uuid.Nil {
		return
	}
	r.byCollection[collectionID] = adapter
}

// AdapterFor resolves the adapter circulating the pool's collection.
func (r *Registry) AdapterFor(pool *models.LicensePool) (VendorAdapter, bool) {
	if r == nil || pool == nil {
		return nil, false
	}
	adapter, ok := r.byCollection[pool.CollectionID]
	return adapter, ok
}
