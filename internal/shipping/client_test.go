package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type countingObserver struct {
	mu   sync.Mutex
	seen map[string]int
}

func (o *countingObserver) GatewayRequest(op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = map[string]int{}
	}
	o.seen[op+"/"+result]++
}

func newGateway(t *testing.T, h http.HandlerFunc) (*Client, *countingObserver) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	obs := &countingObserver{}
	return NewClient(Config{
		BaseURL:       srv.URL,
		PublicKey:     "pub",
		PrivateKey:    "priv",
		Timeout:       2 * time.Second,
		PickupPincode: "131001",
	}, obs), obs
}

func writeEnvelope(w http.ResponseWriter, result, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "message": msg, "data": data})
}

func TestCreateShipment(t *testing.T) {
	var got ShipmentRequest
	c, obs := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/push-order", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "pub", r.Header.Get("public-key"))
		assert.Equal(t, "priv", r.Header.Get("private-key"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		writeEnvelope(w, "1", "Success", map[string]any{"order_id": 7781, "reference_id": "O1"})
	})

	o := &orders.Order{
		ID:       "O1",
		Items:    []orders.LineItem{{ProductID: "P1", ProductName: "Tea", VariantWeight: 200, Quantity: 2, UnitPrice: 250}},
		Shipping: orders.ShippingDetails{FirstName: "Asha", LastName: "K", Pincode: "110001", Phone: "99999"},
	}
	id, err := c.CreateShipment(context.Background(), NewShipmentRequest(o, "a@example.com", "W1"))
	require.NoError(t, err)
	assert.Equal(t, "7781", id)
	assert.Equal(t, 400, got.Weight)
	assert.Equal(t, []int{10, 10, 5}, []int{got.Length, got.Width, got.Height})
	assert.Equal(t, "Asha K", got.ConsigneeName)
	assert.Equal(t, "W1", got.WarehouseID)
	assert.Equal(t, 1, obs.seen["push_order/ok"])
}

func TestCall_ResultNotOneIsGatewayError(t *testing.T) {
	c, obs := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "Invalid pincode", nil)
	})
	_, err := c.CreateShipment(context.Background(), ShipmentRequest{OrderID: "O1"})
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "push_order", ge.Op)
	assert.Equal(t, "0", ge.Result)
	assert.Equal(t, "Invalid pincode", ge.Message)
	assert.Equal(t, 1, obs.seen["push_order/error"])
}

func TestCall_HTTPFailureIsGatewayError(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	_, err := c.Track(context.Background(), "A1")
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusBadGateway, ge.Status)
}

func TestCreateShipment_MissingOrderID(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "1", "Success", map[string]any{})
	})
	_, err := c.CreateShipment(context.Background(), ShipmentRequest{OrderID: "O1"})
	assert.True(t, errors.Is(err, ErrIncompleteResponse))
}

func TestAssignCourier(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assign-courier", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "S1", body["order_id"])
		assert.Equal(t, float64(42), body["courier_id"])
		writeEnvelope(w, "1", "Success", map[string]any{"awb_number": 1234567890, "courier": "Delhivery"})
	})
	a, err := c.AssignCourier(context.Background(), "S1", "42")
	require.NoError(t, err)
	assert.Equal(t, Assignment{AWBNumber: "1234567890", CourierName: "Delhivery"}, a)
}

func TestTrack(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "A1", r.URL.Query().Get("awb_number"))
		writeEnvelope(w, "1", "Success", map[string]any{
			"current_status":         "IN_TRANSIT",
			"expected_delivery_date": "2024-01-05",
			"status_time":            "2024-01-02 10:00:00",
			"scan_detail":            []map[string]string{{"location": "Delhi Hub"}, {"location": "Jaipur Hub"}},
		})
	})
	tr, err := c.Track(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "IN_TRANSIT", tr.CurrentStatus)
	require.NotNil(t, tr.ExpectedDeliveryDate)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), *tr.ExpectedDeliveryDate)
	assert.Equal(t, "Jaipur Hub", tr.Location)
}

func TestCancelAndServiceability(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cancel-order":
			writeEnvelope(w, "1", "Order cancelled", map[string]any{"order_id": "S1", "awb_number": 1})
		case "/pincode-serviceability":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "131001", body["pickup_pincode"])
			writeEnvelope(w, "1", "Success", map[string]any{"serviceable": body["delivery_pincode"] == "110001"})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	ok, err := c.Cancel(ctx, "S1", "A1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CheckServiceability(ctx, "", "110001")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.CheckServiceability(ctx, "", "999999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRatesAndBestRate(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "1", "Success", []map[string]any{
			{"id": 11, "name": "Slow", "total_charges": 80.5},
			{"id": "12", "name": "Cheap", "total_charges": 60},
			{"id": 13, "name": "Fast", "total_charges": 120},
		})
	})
	rates, err := c.Rates(context.Background(), RateRequest{DeliveryPincode: "110001", Weight: 400, OrderAmount: 500})
	require.NoError(t, err)
	require.Len(t, rates, 3)

	best, ok := BestRate(rates)
	require.True(t, ok)
	assert.Equal(t, "12", best.CourierID)
	assert.Equal(t, 60.0, Charge(best, 500))
	assert.Equal(t, 0.0, Charge(best, 4000.01))
	assert.Equal(t, 60.0, Charge(best, 4000))

	_, ok = BestRate(nil)
	assert.False(t, ok)
}
