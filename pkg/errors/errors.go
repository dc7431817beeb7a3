package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable kind for a circulation failure. The HTTP
// layer translates codes to statuses via MetadataFor; the dispatcher itself
// never deals in transport concerns.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL_ERROR"

	// Policy violations: user-facing denials.
	CodePatronBlocked             Code = "PATRON_BLOCKED"
	CodeLoanLimitReached          Code = "PATRON_LOAN_LIMIT_REACHED"
	CodeHoldLimitReached          Code = "PATRON_HOLD_LIMIT_REACHED"
	CodeHoldsNotPermitted         Code = "HOLDS_NOT_PERMITTED"
	CodeDeliveryMechanismMissing  Code = "DELIVERY_MECHANISM_MISSING"
	CodeDeliveryMechanismConflict Code = "DELIVERY_MECHANISM_CONFLICT"

	// Vendor-state mismatches: the dispatcher reinterprets most of these
	// into an alternate success before they ever reach a caller.
	CodeAlreadyCheckedOut  Code = "ALREADY_CHECKED_OUT"
	CodeAlreadyOnHold      Code = "ALREADY_ON_HOLD"
	CodeNoAvailableCopies  Code = "NO_AVAILABLE_COPIES"
	CodeNoLicenses         Code = "NO_LICENSES"
	CodeCannotRenew        Code = "CANNOT_RENEW"
	CodeCurrentlyAvailable Code = "CURRENTLY_AVAILABLE"
	CodeNotCheckedOut      Code = "NOT_CHECKED_OUT"
	CodeNotOnHold          Code = "NOT_ON_HOLD"
	CodeCannotReleaseHold  Code = "CANNOT_RELEASE_HOLD"
	CodeNoActiveLoan       Code = "NO_ACTIVE_LOAN"
	CodeFormatNotAvailable Code = "FORMAT_NOT_AVAILABLE"
	CodeNoAcceptableFormat Code = "NO_ACCEPTABLE_FORMAT"
	CodeCannotFulfill      Code = "CANNOT_FULFILL"

	// Transport and integration failures against a vendor backend.
	CodeVendorIntegration Code = "VENDOR_INTEGRATION_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeInvalidInput: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "invalid input",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
	CodePatronBlocked: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "your library card does not permit borrowing",
		DetailsAllowed: true,
	},
	CodeLoanLimitReached: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "you have reached your loan limit",
		DetailsAllowed: true,
	},
	CodeHoldLimitReached: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "you have reached your hold limit",
		DetailsAllowed: true,
	},
	CodeHoldsNotPermitted: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "holds are not permitted for this title",
		DetailsAllowed: false,
	},
	CodeDeliveryMechanismMissing: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "a delivery mechanism must be chosen before borrowing",
		DetailsAllowed: true,
	},
	CodeDeliveryMechanismConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "this loan was already fulfilled in an incompatible format",
		DetailsAllowed: true,
	},
	CodeAlreadyCheckedOut: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "you already have this title on loan",
		DetailsAllowed: false,
	},
	CodeAlreadyOnHold: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "you already have this title on hold",
		DetailsAllowed: false,
	},
	CodeNoAvailableCopies: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "no copies of this title are available right now",
		DetailsAllowed: false,
	},
	CodeNoLicenses: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "the library no longer licenses this title",
		DetailsAllowed: false,
	},
	CodeCannotRenew: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "this loan cannot be renewed while other patrons are waiting",
		DetailsAllowed: false,
	},
	CodeCurrentlyAvailable: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "this title is available to borrow, not to hold",
		DetailsAllowed: false,
	},
	CodeNotCheckedOut: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "this title is not on loan to you",
		DetailsAllowed: false,
	},
	CodeNotOnHold: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "this title is not on hold for you",
		DetailsAllowed: false,
	},
	CodeCannotReleaseHold: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "this hold is reserved for you and cannot be released",
		DetailsAllowed: false,
	},
	CodeNoActiveLoan: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "you must borrow this title before fulfilling it",
		DetailsAllowed: false,
	},
	CodeFormatNotAvailable: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "the requested format is not available for this title",
		DetailsAllowed: true,
	},
	CodeNoAcceptableFormat: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "no acceptable format could be produced for this title",
		DetailsAllowed: false,
	},
	CodeCannotFulfill: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      false,
		PublicMessage:  "this title cannot be fulfilled",
		DetailsAllowed: true,
	},
	CodeVendorIntegration: {
		HTTPStatus:     http.StatusBadGateway,
		Retryable:      true,
		PublicMessage:  "the licensing vendor could not be reached",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As unwraps err into a typed *Error, or nil when the chain carries none.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the circulation code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// HasCode reports whether err carries the given circulation code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
