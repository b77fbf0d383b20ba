package orders

import "strings"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

var rank = map[Status]int{
	StatusPending:   0,
	StatusConfirmed: 1,
	StatusShipped:   2,
	StatusDelivered: 3,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok || s == StatusCancelled
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition: forward-only along PENDING..DELIVERED, CANCELLED from any
// non-terminal state. Staying in place is allowed so repeated writes are harmless.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	fr, ok1 := rank[from]
	tr, ok2 := rank[to]
	return ok1 && ok2 && tr > fr
}

var carrierStatus = map[string]Status{
	"PLACED":           StatusPending,
	"CONFIRMED":        StatusConfirmed,
	"IN_TRANSIT":       StatusShipped,
	"OUT_FOR_DELIVERY": StatusShipped,
	"DELIVERED":        StatusDelivered,
	"RTO DELIVERED":    StatusDelivered,
	"RTO_DELIVERED":    StatusDelivered,
	"CANCELLED":        StatusCancelled,
}

// MapCarrierStatus maps the carrier's free-text status onto Status.
// Unknown values map to PENDING.
func MapCarrierStatus(raw string) Status {
	if s, ok := carrierStatus[normalize(raw)]; ok {
		return s
	}
	return StatusPending
}

// CarrierTerminal reports whether the carrier will emit no further updates.
func CarrierTerminal(raw string) bool {
	switch normalize(raw) {
	case "DELIVERED", "CANCELLED", "RTO DELIVERED", "RTO_DELIVERED":
		return true
	}
	return false
}

func normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
