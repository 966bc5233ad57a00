package booking

// Status is the booking lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
)

// PaymentStatus is tracked on both the booking and its payment row.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// transitions is the complete lifecycle graph. Terminal states map to nil.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusCompleted},
	StatusRejected:  nil,
	StatusCompleted: nil,
}

// guideTransitions are the only edges a guide may request.
var guideTransitions = map[Status]bool{
	StatusAccepted: true,
	StatusRejected: true,
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ParseStatus converts wire input into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", invalid("unknown booking status %q", v)
	}
	return s, nil
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentUnpaid, PaymentPending, PaymentPaid:
		return true
	}
	return false
}

func (p PaymentStatus) String() string { return string(p) }

func (s Status) String() string { return string(s) }
