package enums

import "fmt"

// CirculationEventType is the canonical event_type for circulation analytics.
type CirculationEventType string

const (
	EventCheckout            CirculationEventType = "circulation_checkout"
	EventCheckin             CirculationEventType = "circulation_checkin"
	EventHoldPlaced          CirculationEventType = "circulation_hold_placed"
	EventHoldReleased        CirculationEventType = "circulation_hold_released"
	EventHoldConvertedToLoan CirculationEventType = "circulation_hold_converted_to_loan"
	EventLoanConvertedToHold CirculationEventType = "circulation_loan_converted_to_hold"
	EventFulfillment         CirculationEventType = "circulation_fulfillment"
	EventAvailabilityReaped  CirculationEventType = "circulation_availability_reaped"
)

var validCirculationEventTypes = []CirculationEventType{
	EventCheckout,
	EventCheckin,
	EventHoldPlaced,
	EventHoldReleased,
	EventHoldConvertedToLoan,
	EventLoanConvertedToHold,
	EventFulfillment,
	EventAvailabilityReaped,
}

// IsValid reports whether the value matches the canonical circulation event_type enum.
func (c CirculationEventType) IsValid() bool {
	for _, candidate := range validCirculationEventTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCirculationEventType converts the raw string to CirculationEventType.
func ParseCirculationEventType(value string) (CirculationEventType, error) {
	for _, candidate := range validCirculationEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid circulation event type %q", value)
}
