package circulation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PositionUnknown marks a hold whose queue position the vendor did not report.
const PositionUnknown = -1

// LoanInfo is a vendor's description of an active loan, expressed in the
// internal vocabulary regardless of which adapter produced it.
type LoanInfo struct {
	CollectionID       uuid.UUID
	PoolIdentifier     string
	LicenseID          *uuid.UUID
	ExternalIdentifier string
	Start              time.Time
	End                *time.Time
}

// HoldInfo is a vendor's description of a queued hold.
type HoldInfo struct {
	CollectionID   uuid.UUID
	PoolIdentifier string
	Position       int
	Start          time.Time
	End            *time.Time
}

// OutcomeKind tags the result of an adapter checkout attempt.
type OutcomeKind string

const (
	// OutcomeLoaned: the vendor issued a fresh loan.
	OutcomeLoaned OutcomeKind = "loaned"
	// OutcomeQueued: the vendor silently queued the patron instead of lending.
	OutcomeQueued OutcomeKind = "queued"
	// OutcomeAlreadyLoaned: the vendor says the patron already has this loan.
	OutcomeAlreadyLoaned OutcomeKind = "already_loaned"
	// OutcomeAlreadyQueued: the vendor says the patron is already in the queue.
	OutcomeAlreadyQueued OutcomeKind = "already_queued"
)

// CheckoutOutcome is the tagged union an adapter checkout resolves to. "You
// already have it" and "you are now in the queue" are successes here, not
// errors; only hard failures travel the error path.
type CheckoutOutcome struct {
	Kind OutcomeKind
	Loan *LoanInfo
	Hold *HoldInfo
}

// Loaned wraps a fresh vendor loan.
func Loaned(info LoanInfo) CheckoutOutcome {
	return CheckoutOutcome{Kind: OutcomeLoaned, Loan: &info}
}

// Queued wraps a hold the vendor created in place of a loan.
func Queued(info HoldInfo) CheckoutOutcome {
	return CheckoutOutcome{Kind: OutcomeQueued, Hold: &info}
}

// AlreadyLoaned wraps the vendor's echo of an existing loan.
func AlreadyLoaned(info LoanInfo) CheckoutOutcome {
	return CheckoutOutcome{Kind: OutcomeAlreadyLoaned, Loan: &info}
}

// AlreadyQueued wraps the vendor's echo of an existing hold.
func AlreadyQueued(info HoldInfo) CheckoutOutcome {
	return CheckoutOutcome{Kind: OutcomeAlreadyQueued, Hold: &info}
}

// Fulfillment describes how a patron obtains the borrowed content.
type Fulfillment interface {
	ContentType() string
}

// RedirectFulfillment sends the client to a vendor-hosted URL.
type RedirectFulfillment struct {
	ContentLink string
	Type        string
}

func (f *RedirectFulfillment) ContentType() string { return f.Type }

// DirectFulfillment carries the content bytes inline.
type DirectFulfillment struct {
	Content []byte
	Type    string
}

func (f *DirectFulfillment) ContentType() string { return f.Type }

// ManifestFulfillment streams a manifest document built for this loan.
type ManifestFulfillment struct {
	Manifest json.RawMessage
	Type     string
}

func (f *ManifestFulfillment) ContentType() string { return f.Type }

// BearerTokenFulfillment hands the client a short-lived token plus the
// location it authorizes.
type BearerTokenFulfillment struct {
	Token    string
	Expires  time.Time
	Location string
	Type     string
}

func (f *BearerTokenFulfillment) ContentType() string { return f.Type }

// ClientCryptoParams are the RSA public-key parameters a client device
// supplies for license-file DRM fulfillment. Values are unpadded URL-safe
// base64; they are validated before anything is forwarded to a vendor.
type ClientCryptoParams struct {
	Modulus  string `validate:"required,base64rawurl,min=342"`
	Exponent string `validate:"required,base64rawurl,max=8"`
	DeviceID string `validate:"required,min=8,max=64"`
	ClientIP string `validate:"required,ip"`
}
