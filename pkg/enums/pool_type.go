package enums

import "fmt"

// PoolType classifies how a license pool's copy counts behave. Metered pools
// track real counters; unlimited and open-access pools are treated as always
// available and never count against patron limits.
type PoolType string

const (
	PoolTypeMetered    PoolType = "metered"
	PoolTypeUnlimited  PoolType = "unlimited"
	PoolTypeOpenAccess PoolType = "open_access"
)

var validPoolTypes = []PoolType{
	PoolTypeMetered,
	PoolTypeUnlimited,
	PoolTypeOpenAccess,
}

// String implements fmt.Stringer.
func (p PoolType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PoolType.
func (p PoolType) IsValid() bool {
	for _, candidate := range validPoolTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// Limited reports whether the pool's counters are authoritative for
// availability and for patron loan/hold limits.
func (p PoolType) Limited() bool {
	return p == PoolTypeMetered
}

// ParsePoolType converts raw input into a PoolType.
func ParsePoolType(value string) (PoolType, error) {
	for _, candidate := range validPoolTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pool type %q", value)
}
