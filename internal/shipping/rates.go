package shipping

import (
	"strings"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// FreeShippingAbove: orders strictly above this amount (in rupees) ship free.
const FreeShippingAbove = 4000.0

// BestRate picks the lowest total charge. Ties keep the first quote.
func BestRate(rates []Rate) (Rate, bool) {
	if len(rates) == 0 {
		return Rate{}, false
	}
	best := rates[0]
	for _, r := range rates[1:] {
		if r.TotalCharges < best.TotalCharges {
			best = r
		}
	}
	return best, true
}

// Charge is what the customer pays for best on an order of amount.
func Charge(best Rate, amount float64) float64 {
	if amount > FreeShippingAbove {
		return 0
	}
	return best.TotalCharges
}

func boxFor(weight int) [3]int {
	d := orders.PackageDimensions(weight)
	return [3]int{d.Length, d.Width, d.Height}
}

// NewShipmentRequest builds the push-order body from an order snapshot.
func NewShipmentRequest(o *orders.Order, email, warehouseID string) ShipmentRequest {
	weight := o.TotalWeight()
	box := orders.PackageDimensions(weight)
	products := make([]Product, 0, len(o.Items))
	for _, it := range o.Items {
		products = append(products, Product{
			Name:      it.ProductName,
			SKU:       it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Category:  it.Category,
		})
	}
	ptype := o.PaymentType
	if ptype == "" {
		ptype = "PREPAID"
	}
	s := o.Shipping
	return ShipmentRequest{
		OrderID:        o.ID,
		OrderDate:      o.CreatedAt.Format("2006-01-02"),
		ConsigneeName:  strings.TrimSpace(s.FirstName + " " + s.LastName),
		ConsigneePhone: s.Phone,
		ConsigneeEmail: email,
		AddressLineOne: s.Address,
		AddressLineTwo: s.Apartment,
		PinCode:        s.Pincode,
		City:           s.City,
		State:          s.State,
		Products:       products,
		PaymentType:    ptype,
		Weight:         weight,
		Length:         box.Length,
		Width:          box.Width,
		Height:         box.Height,
		WarehouseID:    warehouseID,
	}
}
