package odl

import "time"

// Loan status document states, per the license status document wire format.
const (
	StatusReady     = "ready"
	StatusActive    = "active"
	StatusReturned  = "returned"
	StatusExpired   = "expired"
	StatusRevoked   = "revoked"
	StatusCancelled = "cancelled"
)

// Link relations used by the adapter.
const (
	RelSelf    = "self"
	RelStatus  = "status"
	RelLicense = "license"
	RelReturn  = "return"
)

// Link is one entry in a status or license document's links collection.
type Link struct {
	Rel       string `json:"rel"`
	Href      string `json:"href"`
	Type      string `json:"type,omitempty"`
	Templated bool   `json:"templated,omitempty"`
}

// PotentialRights carries the furthest end date the vendor will grant.
type PotentialRights struct {
	End *time.Time `json:"end,omitempty"`
}

// StatusDocument is the vendor's authoritative description of one loan.
type StatusDocument struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Message         string           `json:"message,omitempty"`
	Links           []Link           `json:"links"`
	PotentialRights *PotentialRights `json:"potential_rights,omitempty"`
}

// Active reports whether the vendor still considers the loan live.
func (d *StatusDocument) Active() bool {
	if d == nil {
		return false
	}
	return d.Status == StatusReady || d.Status == StatusActive
}

// Link returns the first link matching rel, preferring an exact media type
// match when typ is non-empty.
func (d *StatusDocument) Link(rel, typ string) *Link {
	return findLink(d.Links, rel, typ)
}

// End returns the loan's end date, or nil when the vendor reported none.
func (d *StatusDocument) End() *time.Time {
	if d == nil || d.PotentialRights == nil {
		return nil
	}
	return d.PotentialRights.End
}

// LicenseDocument is the nested license description some distributors return
// instead of a self link. Its status link points back at the loan status
// document.
type LicenseDocument struct {
	ID    string `json:"id"`
	Links []Link `json:"links"`
}

func (d *LicenseDocument) Link(rel, typ string) *Link {
	if d == nil {
		return nil
	}
	return findLink(d.Links, rel, typ)
}

func findLink(links []Link, rel, typ string) *Link {
	var fallback *Link
	for i := range links {
		if links[i].Rel != rel {
			continue
		}
		if typ == "" || links[i].Type == typ {
			return &links[i]
		}
		if fallback == nil {
			fallback = &links[i]
		}
	}
	return fallback
}
