package enums

import "fmt"

// CollectionProtocol identifies the licensing protocol a collection speaks.
// The dispatcher resolves one vendor adapter per protocol.
type CollectionProtocol string

const (
	ProtocolODL        CollectionProtocol = "odl"
	ProtocolBoundless  CollectionProtocol = "boundless"
	ProtocolOpenAccess CollectionProtocol = "open_access"
)

var validCollectionProtocols = []CollectionProtocol{
	ProtocolODL,
	ProtocolBoundless,
	ProtocolOpenAccess,
}

// String implements fmt.Stringer.
func (p CollectionProtocol) String() string {
	return string(p)
}

// IsValid reports whether the value is a known CollectionProtocol.
func (p CollectionProtocol) IsValid() bool {
	for _, candidate := range validCollectionProtocols {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseCollectionProtocol converts raw input into a CollectionProtocol.
func ParseCollectionProtocol(value string) (CollectionProtocol, error) {
	for _, candidate := range validCollectionProtocols {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid collection protocol %q", value)
}
