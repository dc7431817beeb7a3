package enums

import "fmt"

// DRMScheme names the rights-management wrapper a delivery mechanism uses.
type DRMScheme string

const (
	DRMNone        DRMScheme = "none"
	DRMLCP         DRMScheme = "lcp"
	DRMAdobeACS    DRMScheme = "adobe_acs"
	DRMFindaway    DRMScheme = "findaway"
	DRMBoundless   DRMScheme = "boundless"
	DRMBearerToken DRMScheme = "bearer_token"
)

var validDRMSchemes = []DRMScheme{
	DRMNone,
	DRMLCP,
	DRMAdobeACS,
	DRMFindaway,
	DRMBoundless,
	DRMBearerToken,
}

// String implements fmt.Stringer.
func (d DRMScheme) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DRMScheme.
func (d DRMScheme) IsValid() bool {
	for _, candidate := range validDRMSchemes {
		if candidate == d {
			return true
		}
	}
	return false
}

// Streaming reports whether fulfillment under this scheme is delivered as a
// streamed manifest rather than a downloaded file. Streaming fulfillments do
// not lock in a loan's delivery mechanism.
func (d DRMScheme) Streaming() bool {
	return d == DRMFindaway
}

// ParseDRMScheme converts raw input into a DRMScheme.
func ParseDRMScheme(value string) (DRMScheme, error) {
	for _, candidate := range validDRMSchemes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid drm scheme %q", value)
}
