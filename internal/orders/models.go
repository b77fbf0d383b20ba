package orders

import (
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
)

type CourierInfo struct {
	CourierName           string     `json:"courier_name,omitempty"`
	AWBNumber             string     `json:"awb_number,omitempty"`
	EstimatedDeliveryDate *time.Time `json:"estimated_delivery_date,omitempty"`
	ShipmentOrderID       string     `json:"shipment_order_id,omitempty"`
}

func (c *CourierInfo) Shipped() bool {
	return c != nil && c.AWBNumber != ""
}

type TrackingEntry struct {
	Status        Status    `json:"status"`
	CarrierStatus string    `json:"carrier_status,omitempty"`
	Location      string    `json:"location,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// LineItem is one cart line copied into the order at checkout.
// Variants are addressed by (ProductID, VariantWeight).
type LineItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Category      string `json:"category"`
	VariantWeight int    `json:"variant_weight"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int    `json:"unit_price"`
}

type ShippingDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
	Apartment string `json:"apartment"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CartID          string          `json:"cart_id"`
	Items           []LineItem      `json:"items"`
	Shipping        ShippingDetails `json:"shipping"`
	AmountCents     int             `json:"amount_cents"`
	PaymentType     string          `json:"payment_type"`
	OrderStatus     Status          `json:"order_status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentID       string          `json:"payment_id,omitempty"`
	Courier         *CourierInfo    `json:"courier_info"`
	TrackingHistory []TrackingEntry `json:"tracking_history"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TotalWeight is the package weight in grams.
func (o *Order) TotalWeight() int {
	total := 0
	for _, it := range o.Items {
		total += it.VariantWeight * it.Quantity
	}
	return total
}

func (o *Order) LastTracking() (TrackingEntry, bool) {
	if len(o.TrackingHistory) == 0 {
		return TrackingEntry{}, false
	}
	return o.TrackingHistory[len(o.TrackingHistory)-1], true
}

// Clone returns a deep copy so callers never share slices with a store.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.TrackingHistory = append([]TrackingEntry(nil), o.TrackingHistory...)
	if o.Courier != nil {
		ci := *o.Courier
		c.Courier = &ci
	}
	return &c
}

// StockLines projects the cart snapshot onto the variants the ledger moves.
func (o *Order) StockLines() []inventory.Line {
	out := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Line{ProductID: it.ProductID, VariantWeight: it.VariantWeight, Quantity: it.Quantity})
	}
	return out
}

// TrackingUpdate is the CAS write applied by a tracking firing.
type TrackingUpdate struct {
	Status                Status
	EstimatedDeliveryDate *time.Time
	Entry                 TrackingEntry
}
