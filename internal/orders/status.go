package orders

import "fmt"

type Status string

const (
	StatusPending     Status = "pending"
	StatusInterrupted Status = "interrupted"
	StatusPaid        Status = "paid"
	StatusAccepted    Status = "accepted"
	StatusInDelivery  Status = "in delivery"
	StatusFinalised   Status = "finalised"
)

// validNext is the complete transition table; anything absent is rejected.
// pending → interrupted is the expiry path and the only way out of pending
// besides a verified payment.
var validNext = map[Status]map[Status]bool{
	StatusPending:     {StatusPaid: true, StatusInterrupted: true},
	StatusPaid:        {StatusAccepted: true, StatusInDelivery: true, StatusFinalised: true},
	StatusAccepted:    {StatusInDelivery: true, StatusFinalised: true},
	StatusInDelivery:  {StatusFinalised: true},
	StatusInterrupted: {},
	StatusFinalised:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Terminal() bool { return len(validNext[s]) == 0 }
