package boundless

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ajimenez-dev/circulation-backend/internal/circulation"
	"github.com/ajimenez-dev/circulation-backend/internal/ledger"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

type ledgerStore interface {
	PoolByIdentifier(ctx context.Context, collectionID uuid.UUID, identifier string) (*models.LicensePool, error)
	ApplyAvailability(ctx context.Context, poolID uuid.UUID, snapshot ledger.AvailabilitySnapshot) error
	ReapPoolsExcept(ctx context.Context, collectionID uuid.UUID, keep []string) (int64, error)
}

type vendorClient interface {
	Checkout(ctx context.Context, patronID, titleID, formatCode string) (*CheckoutResponse, error)
	Checkin(ctx context.Context, patronID, titleID string) (Status, error)
	PlaceHold(ctx context.Context, patronID, titleID, email string) (*HoldResponse, error)
	ReleaseHold(ctx context.Context, patronID, titleID string) (Status, error)
	Availability(ctx context.Context, titleID string) (*AvailabilityResponse, error)
	AudiobookManifest(ctx context.Context, transactionID string) (json.RawMessage, error)
	License(ctx context.Context, transactionID string, req LicenseRequest) ([]byte, error)
}

// Adapter circulates titles through the Boundless vendor API. One checkout
// call settles everything; the vendor's status codes carry the state-machine
// outcomes the dispatcher reinterprets.
type Adapter struct {
	store    ledgerStore
	client   vendorClient
	validate *validator.Validate
	logg     *logger.Logger
	now      func() time.Time
}

// NewAdapter wires the Boundless adapter.
func NewAdapter(store ledgerStore, client vendorClient, logg *logger.Logger) (*Adapter, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if client == nil {
		return nil, fmt.Errorf("vendor client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Adapter{
		store:    store,
		client:   client,
		validate: validator.New(),
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (a *Adapter) Checkout(ctx context.Context, patron *models.Patron, _ string, pool *models.LicensePool, mechanism *models.DeliveryMechanism) (circulation.CheckoutOutcome, error) {
	formatCode, ok := FormatCodeFor(mechanism)
	if !ok {
		return circulation.CheckoutOutcome{}, pkgerrors.New(pkgerrors.CodeFormatNotAvailable, "no vendor format for the requested delivery mechanism")
	}

	resp, err := a.client.Checkout(ctx, patron.ExternalIdentifier, pool.Identifier, formatCode)
	if err != nil {
		return circulation.CheckoutOutcome{}, err
	}
	if err := resp.Status.Err(); err != nil {
		return circulation.CheckoutOutcome{}, err
	}

	return circulation.Loaned(circulation.LoanInfo{
		CollectionID:       pool.CollectionID,
		PoolIdentifier:     pool.Identifier,
		ExternalIdentifier: resp.TransactionID,
		Start:              a.now(),
		End:                resp.ExpirationDate,
	}), nil
}

func (a *Adapter) PlaceHold(ctx context.Context, patron *models.Patron, _ string, pool *models.LicensePool, notifyEmail string) (*circulation.HoldInfo, error) {
	resp, err := a.client.PlaceHold(ctx, patron.ExternalIdentifier, pool.Identifier, notifyEmail)
	if err != nil {
		return nil, err
	}
	if err := resp.Status.Err(); err != nil {
		return nil, err
	}
	return &circulation.HoldInfo{
		CollectionID:   pool.CollectionID,
		PoolIdentifier: pool.Identifier,
		Position:       resp.QueuePosition,
		Start:          a.now(),
	}, nil
}

// Fulfill branches on the DRM family of the requested mechanism: ACS formats
// redirect, Findaway audio builds a manifest from a metadata call, and the
// vendor's own license DRM needs client RSA parameters validated up front.
func (a *Adapter) Fulfill(ctx context.Context, req circulation.FulfillRequest) (circulation.Fulfillment, error) {
	if req.Loan == nil || req.Loan.ExternalIdentifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNoActiveLoan, "no vendor transaction recorded")
	}
	mechanism := req.Mechanism
	if mechanism == nil {
		mechanism = req.Loan.Fulfillment
	}
	if mechanism == nil {
		return nil, pkgerrors.New(pkgerrors.CodeFormatNotAvailable, "no delivery mechanism to fulfill")
	}
	transactionID := *req.Loan.ExternalIdentifier

	switch mechanism.DRMScheme {
	case enums.DRMAdobeACS:
		resp, err := a.client.Checkout(ctx, req.Patron.ExternalIdentifier, req.Pool.Identifier, mustFormatCode(mechanism))
		if err != nil {
			return nil, err
		}
		// An already-checked-out answer still carries the fulfillment url.
		if resp.Status.Code != statusOK && resp.Status.Code != statusAlreadyCheckedOut {
			return nil, resp.Status.Err()
		}
		if resp.FulfillmentURL == "" {
			return nil, pkgerrors.New(pkgerrors.CodeVendorIntegration, "vendor returned no fulfillment url")
		}
		return &circulation.RedirectFulfillment{ContentLink: resp.FulfillmentURL, Type: models.ContentTypeACSM}, nil

	case enums.DRMFindaway:
		manifest, err := a.client.AudiobookManifest(ctx, transactionID)
		if err != nil {
			return nil, err
		}
		return &circulation.ManifestFulfillment{Manifest: manifest, Type: models.ContentTypeAudiobookManifest}, nil

	case enums.DRMBoundless:
		if req.ClientCrypto == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "client key parameters are required for this format")
		}
		if err := a.validate.Struct(req.ClientCrypto); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidInput, err, "malformed client key parameters").
				WithDetails(validationDetails(err))
		}
		license, err := a.client.License(ctx, transactionID, LicenseRequest{
			Modulus:  req.ClientCrypto.Modulus,
			Exponent: req.ClientCrypto.Exponent,
			DeviceID: req.ClientCrypto.DeviceID,
			ClientIP: req.ClientCrypto.ClientIP,
		})
		if err != nil {
			return nil, err
		}
		return &circulation.DirectFulfillment{Content: license, Type: mechanism.ContentType}, nil

	default:
		return nil, nil
	}
}

func (a *Adapter) Checkin(ctx context.Context, patron *models.Patron, _ string, pool *models.LicensePool) error {
	status, err := a.client.Checkin(ctx, patron.ExternalIdentifier, pool.Identifier)
	if err != nil {
		return err
	}
	return status.Err()
}

func (a *Adapter) ReleaseHold(ctx context.Context, patron *models.Patron, _ string, pool *models.LicensePool) error {
	status, err := a.client.ReleaseHold(ctx, patron.ExternalIdentifier, pool.Identifier)
	if err != nil {
		return err
	}
	return status.Err()
}

func (a *Adapter) UpdateAvailability(ctx context.Context, pool *models.LicensePool) error {
	resp, err := a.client.Availability(ctx, pool.Identifier)
	if err != nil {
		return err
	}
	if err := resp.Status.Err(); err != nil {
		return err
	}
	if len(resp.Titles) == 0 {
		return pkgerrors.New(pkgerrors.CodeVendorIntegration,
			fmt.Sprintf("vendor reports no availability for %s", pool.Identifier))
	}
	return a.store.ApplyAvailability(ctx, pool.ID, snapshotFrom(resp.Titles[0]))
}

// UpdateLicensePoolsForIdentifiers diffs the vendor's current catalog against
// local pools: reported titles get fresh counters, titles the vendor dropped
// are reaped. Returns how many pools were reaped.
func (a *Adapter) UpdateLicensePoolsForIdentifiers(ctx context.Context, collectionID uuid.UUID) (int64, error) {
	resp, err := a.client.Availability(ctx, "")
	if err != nil {
		return 0, err
	}
	if err := resp.Status.Err(); err != nil {
		return 0, err
	}

	keep := make([]string, 0, len(resp.Titles))
	for _, title := range resp.Titles {
		keep = append(keep, title.TitleID)
		pool, err := a.store.PoolByIdentifier(ctx, collectionID, title.TitleID)
		if err != nil {
			return 0, err
		}
		if pool == nil {
			continue
		}
		if err := a.store.ApplyAvailability(ctx, pool.ID, snapshotFrom(title)); err != nil {
			return 0, err
		}
	}
	return a.store.ReapPoolsExcept(ctx, collectionID, keep)
}

func (a *Adapter) CanFulfillWithoutLoan(context.Context, *models.Patron, *models.LicensePool, *models.DeliveryMechanism) bool {
	return false
}

// CanRevokeHoldWhenReserved is false: once the vendor reserves a copy for a
// patron the hold can no longer be released through the API.
func (a *Adapter) CanRevokeHoldWhenReserved() bool { return false }

func (a *Adapter) MechanismSetAt() circulation.MechanismTiming {
	return circulation.MechanismAtBorrow
}

func snapshotFrom(title TitleAvailability) ledger.AvailabilitySnapshot {
	active := title.Active
	return ledger.AvailabilitySnapshot{
		Owned:     title.TotalCopies,
		Available: title.AvailableCopies,
		Reserved:  title.ReservedCopies,
		QueueSize: title.HoldsQueueSize,
		Active:    &active,
	}
}

func mustFormatCode(mechanism *models.DeliveryMechanism) string {
	code, _ := FormatCodeFor(mechanism)
	return code
}

func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var fieldErrors validator.ValidationErrors
	if ok := asValidationErrors(err, &fieldErrors); ok {
		for _, fe := range fieldErrors {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	fe, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = fe
	return true
}
