package enums

import "fmt"

// PayableType distinguishes the two entities that can owe a payment.
type PayableType string

const (
	PayableTypeOrder    PayableType = "order"
	PayableTypeDonation PayableType = "donation"
)

var validPayableTypes = []PayableType{
	PayableTypeOrder,
	PayableTypeDonation,
}

// String implements fmt.Stringer.
func (p PayableType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayableType.
func (p PayableType) IsValid() bool {
	for _, candidate := range validPayableTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayableType converts raw input into a PayableType.
func ParsePayableType(value string) (PayableType, error) {
	for _, candidate := range validPayableTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payable type %q", value)
}
