package charge

import "fmt"

// Status is the single derived payment status of a charge. Closed set;
// precedence is the declaration order in derive (breakdown.go).
type Status int

const (
	StatusPending Status = iota
	StatusPartial
	StatusAddOnsPaidTripPending
	StatusTripPaidAddOnsPending
	StatusFullyPaid
	StatusCancelled
	StatusComplimentary
)

var statusLabels = map[Status]string{
	StatusPending:               "Pending",
	StatusPartial:               "Partial",
	StatusAddOnsPaidTripPending: "Add-ons Paid / Trip Pending",
	StatusTripPaidAddOnsPending: "Trip Paid / Add-ons Pending",
	StatusFullyPaid:             "Fully Paid",
	StatusCancelled:             "Cancelled",
	StatusComplimentary:         "Complimentary",
}

func (s Status) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus maps a stored label back to its Status.
func ParseStatus(label string) (Status, error) {
	for s, l := range statusLabels {
		if l == label {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown charge status %q", label)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
