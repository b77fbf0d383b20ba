package shipping

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// envelope is the gateway's common response shape.
type envelope struct {
	Result  flexString      `json:"result"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// flexString accepts a JSON string or number; the gateway is inconsistent
// about ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type Product struct {
	Name      string `json:"name"`
	SKU       string `json:"sku_number,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"`
	Category  string `json:"product_category,omitempty"`
}

// ShipmentRequest is the push-order body.
type ShipmentRequest struct {
	OrderID        string    `json:"order_id"`
	OrderDate      string    `json:"order_date"`
	ConsigneeName  string    `json:"consignee_name"`
	ConsigneePhone string    `json:"consignee_phone"`
	ConsigneeEmail string    `json:"consignee_email,omitempty"`
	AddressLineOne string    `json:"consignee_address_line_one"`
	AddressLineTwo string    `json:"consignee_address_line_two,omitempty"`
	PinCode        string    `json:"consignee_pin_code"`
	City           string    `json:"consignee_city"`
	State          string    `json:"consignee_state"`
	Products       []Product `json:"product_detail"`
	PaymentType    string    `json:"payment_type"`
	Weight         int       `json:"weight"`
	Length         int       `json:"length"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	WarehouseID    string    `json:"warehouse_id,omitempty"`
}

type Assignment struct {
	AWBNumber   string
	CourierName string
}

type Tracking struct {
	CurrentStatus        string
	ExpectedDeliveryDate *time.Time
	StatusTime           *time.Time
	Location             string
}

type RateRequest struct {
	DeliveryPincode string
	Weight          int
	PaymentType     string
	OrderAmount     float64
}

type Rate struct {
	CourierID    string
	CourierName  string
	TotalCharges float64
}

// parseGatewayTime accepts the handful of layouts the gateway emits.
func parseGatewayTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "02-01-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
