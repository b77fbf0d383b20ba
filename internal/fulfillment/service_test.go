package fulfillment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

func TestRequestFulfillment_NeedsCourierHandoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	_, err := h.svc.ConfirmPayment(ctx, "O1", "pay_1")
	require.NoError(t, err)

	_, _, err = h.svc.RequestFulfillment(ctx, FulfillmentRequest{OrderID: "O1"})
	assert.ErrorIs(t, err, ErrUpstreamDataMissing)

	c, err := h.fulfilQ.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, c.Wait)
}

func TestRequestFulfillment_NeedsConfirmedPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	require.NoError(t, h.couriers.Put(ctx, "O1", "42"))

	_, _, err := h.svc.RequestFulfillment(ctx, FulfillmentRequest{OrderID: "O1"})
	assert.ErrorIs(t, err, ErrNotConfirmed)

	// the handoff survives a rejected request
	id, err := h.couriers.Get(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestRequestFulfillment_DedupesPerOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")

	require.NoError(t, h.couriers.Put(ctx, "O1", "42"))
	id, added, err := h.svc.RequestFulfillment(ctx, FulfillmentRequest{OrderID: "O1"})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, "order:O1", id)

	c, err := h.fulfilQ.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Wait)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")

	ok, err := h.svc.ConfirmPayment(ctx, "O1", "pay_1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.svc.ConfirmPayment(ctx, "O1", "pay_1")
	require.NoError(t, err)
	assert.False(t, ok)

	o := h.order(t, "O1")
	assert.Equal(t, orders.StatusConfirmed, o.OrderStatus)
	assert.Equal(t, orders.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, "pay_1", o.PaymentID)
}

func TestQuoteShipping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.rates = []shipping.Rate{
		{CourierID: "7", CourierName: "Delhivery", TotalCharges: 95},
		{CourierID: "42", CourierName: "BlueDart", TotalCharges: 80},
		{CourierID: "9", CourierName: "Ekart", TotalCharges: 80},
	}

	q, err := h.svc.QuoteShipping(ctx, QuoteRequest{OrderID: "O1", Pincode: "560001", Weight: 1000, Amount: 900})
	require.NoError(t, err)
	assert.Equal(t, Quote{CourierID: "42", CourierName: "BlueDart", Charge: 80}, q)

	id, err := h.couriers.Get(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	q, err = h.svc.QuoteShipping(ctx, QuoteRequest{Pincode: "560001", Weight: 1000, Amount: 4500})
	require.NoError(t, err)
	assert.True(t, q.Free)
	assert.Zero(t, q.Charge)

	// serviceability answered from cache the second time
	assert.Equal(t, 1, h.gw.serviceCalls)
}

func TestQuoteShipping_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.QuoteShipping(ctx, QuoteRequest{Pincode: "560001", Weight: 500, Amount: 100})
	assert.ErrorIs(t, err, ErrNoRates)

	h.gw.serviceable = false
	_, err = h.svc.QuoteShipping(ctx, QuoteRequest{Pincode: "999999", Weight: 500, Amount: 100})
	assert.ErrorIs(t, err, ErrNotServiceable)

	ok, err := h.svc.CheckServiceability(ctx, "999999")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, h.gw.serviceCalls)
}
