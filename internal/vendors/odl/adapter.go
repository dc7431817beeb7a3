package odl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jtacoma/uritemplates"

	"github.com/ajimenez-dev/circulation-backend/internal/circulation"
	"github.com/ajimenez-dev/circulation-backend/internal/ledger"
	"github.com/ajimenez-dev/circulation-backend/pkg/config"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	pkgerrors "github.com/ajimenez-dev/circulation-backend/pkg/errors"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

type ledgerStore interface {
	ActiveLoan(ctx context.Context, patronID, poolID uuid.UUID) (*models.Loan, error)
	ActiveHold(ctx context.Context, patronID, poolID uuid.UUID) (*models.Hold, error)
	LendableLicenses(ctx context.Context, poolID uuid.UUID) ([]models.License, error)
	ApplyLicenseCheckout(ctx context.Context, poolID, licenseID uuid.UUID) error
	BumpHoldPosition(ctx context.Context, patronID, poolID uuid.UUID, position int) error
	ApplyAvailability(ctx context.Context, poolID uuid.UUID, snapshot ledger.AvailabilitySnapshot) error
}

type statusClient interface {
	GetStatus(ctx context.Context, url string) (*StatusDocument, error)
	Checkout(ctx context.Context, url string) (*StatusDocument, error)
	Return(ctx context.Context, url string) (*StatusDocument, error)
	GetLicense(ctx context.Context, url string) (*LicenseDocument, error)
}

// Adapter circulates titles licensed through ODL distributors. Checkouts run
// per License copy against RFC 6570 checkout URL templates; holds are a local
// construct the distributor never sees.
type Adapter struct {
	store  ledgerStore
	client statusClient
	cfg    config.ODLConfig
	logg   *logger.Logger
	now    func() time.Time
}

// NewAdapter wires the ODL adapter.
func NewAdapter(store ledgerStore, client statusClient, cfg config.ODLConfig, logg *logger.Logger) (*Adapter, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if client == nil {
		return nil, fmt.Errorf("status client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Adapter{
		store:  store,
		client: client,
		cfg:    cfg,
		logg:   logg,
		now:    time.Now,
	}, nil
}

func (a *Adapter) Checkout(ctx context.Context, patron *models.Patron, pin string, pool *models.LicensePool, _ *models.DeliveryMechanism) (circulation.CheckoutOutcome, error) {
	hold, err := a.store.ActiveHold(ctx, patron.ID, pool.ID)
	if err != nil {
		return circulation.CheckoutOutcome{}, err
	}
	if hold != nil && !hold.Ready() {
		return circulation.CheckoutOutcome{}, pkgerrors.New(pkgerrors.CodeNoAvailableCopies, "patron is still queued for this title")
	}
	if hold == nil && pool.LicensesAvailable < 1 {
		return circulation.CheckoutOutcome{}, pkgerrors.New(pkgerrors.CodeNoAvailableCopies, "no copies available")
	}

	licenses, err := a.store.LendableLicenses(ctx, pool.ID)
	if err != nil {
		return circulation.CheckoutOutcome{}, err
	}

	for i := range licenses {
		doc, err := a.checkoutLicense(ctx, patron, pin, &licenses[i])
		if err != nil {
			if errors.Is(err, errCheckoutRejected) {
				a.logg.Warn(ctx, fmt.Sprintf("license %s rejected checkout, trying next copy: %v", licenses[i].Identifier, err))
				continue
			}
			return circulation.CheckoutOutcome{}, err
		}

		selfHref, err := a.statusHref(ctx, doc)
		if err != nil {
			return circulation.CheckoutOutcome{}, err
		}
		if err := a.store.ApplyLicenseCheckout(ctx, pool.ID, licenses[i].ID); err != nil {
			return circulation.CheckoutOutcome{}, err
		}

		end := doc.End()
		if end == nil {
			fallback := a.now().Add(a.loanPeriod())
			end = &fallback
		}
		licenseID := licenses[i].ID
		return circulation.Loaned(circulation.LoanInfo{
			CollectionID:       pool.CollectionID,
			PoolIdentifier:     pool.Identifier,
			LicenseID:          &licenseID,
			ExternalIdentifier: selfHref,
			Start:              a.now(),
			End:                end,
		}), nil
	}

	// Every copy refused us: someone's availability estimate was wrong. Push
	// an existing hold back to position 1 so it no longer looks borrowable.
	if hold != nil {
		if err := a.store.BumpHoldPosition(ctx, patron.ID, pool.ID, 1); err != nil {
			a.logg.Error(ctx, "bumping hold position after exhausted checkout", err)
		}
	}
	return circulation.CheckoutOutcome{}, pkgerrors.New(pkgerrors.CodeNoAvailableCopies, "every license copy refused the checkout")
}

func (a *Adapter) checkoutLicense(ctx context.Context, patron *models.Patron, pin string, license *models.License) (*StatusDocument, error) {
	checkoutID := uuid.NewString()
	expires := a.now().Add(a.loanPeriod())

	notificationURL, err := a.notificationURL(license.Identifier, checkoutID, expires)
	if err != nil {
		return nil, err
	}

	template, err := uritemplates.Parse(license.CheckoutURL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err,
			fmt.Sprintf("parsing checkout url template for license %s", license.Identifier))
	}
	url, err := template.Expand(map[string]interface{}{
		"id":               license.Identifier,
		"checkout_id":      checkoutID,
		"patron_id":        patron.ID.String(),
		"expires":          expires.UTC().Format(time.RFC3339),
		"notification_url": notificationURL,
		"passphrase":       hashPassphrase(pin),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err,
			fmt.Sprintf("expanding checkout url template for license %s", license.Identifier))
	}

	doc, err := a.client.Checkout(ctx, url)
	if err != nil {
		return nil, err
	}
	if !doc.Active() {
		return nil, fmt.Errorf("%w: distributor returned status %q", errCheckoutRejected, doc.Status)
	}
	return doc, nil
}

// statusHref locates the loan's status document URL. Some distributors omit
// the self link; the nested license document's status link covers those.
func (a *Adapter) statusHref(ctx context.Context, doc *StatusDocument) (string, error) {
	if link := doc.Link(RelSelf, ""); link != nil {
		return link.Href, nil
	}
	licenseLink := doc.Link(RelLicense, "")
	if licenseLink == nil {
		return "", pkgerrors.New(pkgerrors.CodeVendorIntegration, "status document carries neither self nor license link")
	}
	licenseDoc, err := a.client.GetLicense(ctx, licenseLink.Href)
	if err != nil {
		return "", err
	}
	statusLink := licenseDoc.Link(RelStatus, "")
	if statusLink == nil {
		statusLink = licenseDoc.Link(RelSelf, "")
	}
	if statusLink == nil {
		return "", pkgerrors.New(pkgerrors.CodeVendorIntegration, "license document carries no status link")
	}
	return statusLink.Href, nil
}

// PlaceHold queues the patron locally. ODL distributors have no hold wire
// operation; positions are optimistic and corrected by the hold queue sweep.
func (a *Adapter) PlaceHold(ctx context.Context, patron *models.Patron, _ string, pool *models.LicensePool, _ string) (*circulation.HoldInfo, error) {
	if pool.CurrentlyAvailable() {
		return nil, pkgerrors.New(pkgerrors.CodeCurrentlyAvailable, "title is available to borrow")
	}
	existing, err := a.store.ActiveHold(ctx, patron.ID, pool.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyOnHold, "patron already holds this title")
	}
	return &circulation.HoldInfo{
		CollectionID:   pool.CollectionID,
		PoolIdentifier: pool.Identifier,
		Position:       pool.PatronsInHoldQueue + 1,
		Start:          a.now(),
	}, nil
}

func (a *Adapter) Fulfill(ctx context.Context, req circulation.FulfillRequest) (circulation.Fulfillment, error) {
	if req.Loan == nil || req.Loan.ExternalIdentifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNoActiveLoan, "no distributor loan recorded")
	}
	doc, err := a.client.GetStatus(ctx, *req.Loan.ExternalIdentifier)
	if err != nil {
		return nil, err
	}
	if !doc.Active() {
		return nil, pkgerrors.New(pkgerrors.CodeNoActiveLoan, "distributor reports the loan is no longer active")
	}

	wantType := ""
	if req.Mechanism != nil {
		wantType = req.Mechanism.ContentType
	}
	link := doc.Link(RelLicense, wantType)
	if link == nil {
		return nil, nil
	}
	return &circulation.RedirectFulfillment{ContentLink: link.Href, Type: link.Type}, nil
}

func (a *Adapter) Checkin(ctx context.Context, patron *models.Patron, _ string, pool *models.LicensePool) error {
	loan, err := a.store.ActiveLoan(ctx, patron.ID, pool.ID)
	if err != nil {
		return err
	}
	if loan == nil || loan.ExternalIdentifier == nil {
		return pkgerrors.New(pkgerrors.CodeNotCheckedOut, "no distributor loan recorded")
	}

	doc, err := a.client.GetStatus(ctx, *loan.ExternalIdentifier)
	if err != nil {
		return err
	}
	if !doc.Active() {
		// Already returned or expired upstream; local cleanup is all that
		// remains and the dispatcher handles it.
		return nil
	}

	returnLink := doc.Link(RelReturn, "")
	if returnLink == nil {
		return pkgerrors.New(pkgerrors.CodeVendorIntegration, "status document carries no return link")
	}
	returnURL := returnLink.Href
	if returnLink.Templated {
		template, err := uritemplates.Parse(returnLink.Href)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "parsing return url template")
		}
		returnURL, err = template.Expand(map[string]interface{}{
			"id": patron.ID.String(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "expanding return url template")
		}
	}

	updated, err := a.client.Return(ctx, returnURL)
	if err != nil {
		return err
	}
	if updated.Active() {
		return pkgerrors.New(pkgerrors.CodeVendorIntegration, "distributor still reports the loan active after return")
	}
	return nil
}

// ReleaseHold verifies the local hold exists. There is no distributor call;
// the dispatcher deletes the row.
func (a *Adapter) ReleaseHold(ctx context.Context, patron *models.Patron, _ string, pool *models.LicensePool) error {
	hold, err := a.store.ActiveHold(ctx, patron.ID, pool.ID)
	if err != nil {
		return err
	}
	if hold == nil {
		return pkgerrors.New(pkgerrors.CodeNotOnHold, "patron holds no position for this title")
	}
	return nil
}

// UpdateAvailability recomputes the pool's counters from its local license
// rows; ODL availability is a function of per-copy checkout counts.
func (a *Adapter) UpdateAvailability(ctx context.Context, pool *models.LicensePool) error {
	licenses, err := a.store.LendableLicenses(ctx, pool.ID)
	if err != nil {
		return err
	}
	available := 0
	for i := range licenses {
		available += licenses[i].CheckoutsAvailable
	}
	return a.store.ApplyAvailability(ctx, pool.ID, ledger.AvailabilitySnapshot{
		Owned:     pool.LicensesOwned,
		Available: available,
		Reserved:  pool.LicensesReserved,
		QueueSize: pool.PatronsInHoldQueue,
	})
}

func (a *Adapter) CanFulfillWithoutLoan(context.Context, *models.Patron, *models.LicensePool, *models.DeliveryMechanism) bool {
	return false
}

// CanRevokeHoldWhenReserved is true: holds are local rows, so a reserved hold
// can always be released.
func (a *Adapter) CanRevokeHoldWhenReserved() bool { return true }

func (a *Adapter) MechanismSetAt() circulation.MechanismTiming {
	return circulation.MechanismAtFulfill
}

// notificationURL expands the configured callback template and signs a token
// the distributor echoes back when the loan's state changes.
func (a *Adapter) notificationURL(licenseID, checkoutID string, expires time.Time) (string, error) {
	if a.cfg.NotificationURL == "" {
		return "", nil
	}
	token, err := a.notificationToken(licenseID, checkoutID, expires)
	if err != nil {
		return "", err
	}
	template, err := uritemplates.Parse(a.cfg.NotificationURL)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "parsing notification url template")
	}
	url, err := template.Expand(map[string]interface{}{
		"license_id": licenseID,
		"token":      token,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeVendorIntegration, err, "expanding notification url template")
	}
	return url, nil
}

func (a *Adapter) notificationToken(licenseID, checkoutID string, expires time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": licenseID,
		"jti": checkoutID,
		"aud": "odl-notification",
		"iat": a.now().Unix(),
		"exp": expires.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.cfg.NotificationSecret))
	if err != nil {
		return "", fmt.Errorf("signing notification token: %w", err)
	}
	return signed, nil
}

func (a *Adapter) loanPeriod() time.Duration {
	if a.cfg.DefaultLoanPeriod > 0 {
		return a.cfg.DefaultLoanPeriod
	}
	return 21 * 24 * time.Hour
}

func hashPassphrase(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}
