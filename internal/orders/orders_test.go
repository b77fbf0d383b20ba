package orders

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusConfirmed, StatusDelivered, true},
		{StatusShipped, StatusShipped, true},
		{StatusShipped, StatusPending, false},
		{StatusShipped, StatusConfirmed, false},
		{StatusConfirmed, StatusCancelled, true},
		{StatusShipped, StatusCancelled, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusShipped, false},
		{StatusDelivered, StatusShipped, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestMapCarrierStatus(t *testing.T) {
	assert.Equal(t, StatusShipped, MapCarrierStatus("IN_TRANSIT"))
	assert.Equal(t, StatusShipped, MapCarrierStatus(" out_for_delivery "))
	assert.Equal(t, StatusDelivered, MapCarrierStatus("DELIVERED"))
	assert.Equal(t, StatusDelivered, MapCarrierStatus("RTO Delivered"))
	assert.Equal(t, StatusCancelled, MapCarrierStatus("CANCELLED"))
	assert.Equal(t, StatusConfirmed, MapCarrierStatus("CONFIRMED"))
	assert.Equal(t, StatusPending, MapCarrierStatus("PLACED"))
	assert.Equal(t, StatusPending, MapCarrierStatus("MANIFESTED"))
	assert.Equal(t, StatusPending, MapCarrierStatus(""))

	assert.True(t, CarrierTerminal("delivered"))
	assert.True(t, CarrierTerminal("RTO_DELIVERED"))
	assert.False(t, CarrierTerminal("IN_TRANSIT"))
}

func TestAppendTracking_NoAdjacentDuplicates(t *testing.T) {
	statuses := []Status{StatusPending, StatusConfirmed, StatusShipped, StatusDelivered}
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		var history []TrackingEntry
		for i := 0; i < 30; i++ {
			before := append([]TrackingEntry(nil), history...)
			e := TrackingEntry{Status: statuses[rng.Intn(len(statuses))], Timestamp: time.Unix(int64(i), 0)}

			var added bool
			history, added = AppendTracking(history, e)

			// existing entries are never rewritten
			for j := range before {
				require.Equal(t, before[j], history[j])
			}
			if added {
				require.Len(t, history, len(before)+1)
				require.Equal(t, e, history[len(history)-1])
			} else {
				require.Len(t, history, len(before))
				require.Equal(t, e.Status, history[len(history)-1].Status)
			}
		}
		for i := 1; i < len(history); i++ {
			require.NotEqual(t, history[i-1].Status, history[i].Status)
		}
	}
}

func TestNeedsTrackingUpdate(t *testing.T) {
	o := &Order{}
	assert.True(t, NeedsTrackingUpdate(o, StatusShipped))
	o.TrackingHistory = []TrackingEntry{{Status: StatusShipped}}
	assert.False(t, NeedsTrackingUpdate(o, StatusShipped))
	assert.True(t, NeedsTrackingUpdate(o, StatusDelivered))
}

func TestPackageDimensions(t *testing.T) {
	assert.Equal(t, Dimensions{10, 10, 5}, PackageDimensions(0))
	assert.Equal(t, Dimensions{10, 10, 5}, PackageDimensions(500))
	assert.Equal(t, Dimensions{20, 15, 10}, PackageDimensions(501))
	assert.Equal(t, Dimensions{20, 15, 10}, PackageDimensions(2000))
	assert.Equal(t, Dimensions{30, 20, 15}, PackageDimensions(5000))
	assert.Equal(t, Dimensions{40, 30, 20}, PackageDimensions(5001))
}

func TestOrder_CloneAndLines(t *testing.T) {
	o := &Order{
		ID: "O1",
		Items: []LineItem{
			{ProductID: "P1", VariantWeight: 500, Quantity: 2},
			{ProductID: "P2", VariantWeight: 250, Quantity: 1},
		},
		Courier: &CourierInfo{AWBNumber: "A1"},
	}
	assert.Equal(t, 1250, o.TotalWeight())
	lines := o.StockLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "P2", lines[1].ProductID)
	assert.Equal(t, 250, lines[1].VariantWeight)

	c := o.Clone()
	c.Items[0].Quantity = 9
	c.Courier.AWBNumber = "B2"
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, "A1", o.Courier.AWBNumber)
	assert.True(t, o.Courier.Shipped())

	var none *CourierInfo
	assert.False(t, none.Shipped())
}
