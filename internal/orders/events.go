package orders

import (
	"encoding/json"
	"time"
)

const (
	EventPaymentConfirmed   = "PaymentConfirmed"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// PaymentConfirmedPayload is emitted by the payment collaborator once the
// gateway signature has been verified.
type PaymentConfirmedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

type OrderStatusChangedPayload struct {
	OrderID       string    `json:"order_id"`
	Status        Status    `json:"status"`
	CarrierStatus string    `json:"carrier_status,omitempty"`
	AWBNumber     string    `json:"awb_number,omitempty"`
	UserEmail     string    `json:"user_email,omitempty"`
	UserName      string    `json:"user_name,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}
