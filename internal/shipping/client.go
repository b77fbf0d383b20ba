// Package shipping talks to the external logistics gateway. Every operation
// is one HTTP call; success is the gateway's own `result == "1"` flag, not
// the HTTP status alone.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const resultOK = "1"

type Config struct {
	BaseURL       string
	PublicKey     string
	PrivateKey    string
	Timeout       time.Duration
	PickupPincode string
}

// Observer counts gateway calls per operation and result.
type Observer interface {
	GatewayRequest(op, result string)
}

type Client struct {
	base   string
	pub    string
	priv   string
	pickup string
	hc     *http.Client
	obs    Observer
}

func NewClient(cfg Config, obs Observer) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		pub:    cfg.PublicKey,
		priv:   cfg.PrivateKey,
		pickup: cfg.PickupPincode,
		hc: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		obs: obs,
	}
}

// CreateShipment pushes the order to the gateway and returns its shipment id.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (string, error) {
	var data struct {
		OrderID flexString `json:"order_id"`
	}
	if err := c.call(ctx, "push_order", http.MethodPost, "/push-order", nil, req, &data); err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", missing("push_order", "order_id")
	}
	return string(data.OrderID), nil
}

func (c *Client) AssignCourier(ctx context.Context, shipmentOrderID, courierID string) (Assignment, error) {
	var cid any = courierID
	if n, err := strconv.ParseInt(courierID, 10, 64); err == nil {
		cid = n
	}
	body := map[string]any{"order_id": shipmentOrderID, "courier_id": cid}
	var data struct {
		AWBNumber flexString `json:"awb_number"`
		Courier   string     `json:"courier"`
	}
	if err := c.call(ctx, "assign_courier", http.MethodPost, "/assign-courier", nil, body, &data); err != nil {
		return Assignment{}, err
	}
	return Assignment{AWBNumber: string(data.AWBNumber), CourierName: data.Courier}, nil
}

func (c *Client) Track(ctx context.Context, awb string) (Tracking, error) {
	var data struct {
		CurrentStatus        string `json:"current_status"`
		ExpectedDeliveryDate string `json:"expected_delivery_date"`
		StatusTime           string `json:"status_time"`
		ScanDetail           []struct {
			Location string `json:"location"`
		} `json:"scan_detail"`
	}
	q := url.Values{"awb_number": {awb}}
	if err := c.call(ctx, "track_order", http.MethodGet, "/track-order", q, nil, &data); err != nil {
		return Tracking{}, err
	}
	if data.CurrentStatus == "" {
		return Tracking{}, missing("track_order", "current_status")
	}
	t := Tracking{
		CurrentStatus:        data.CurrentStatus,
		ExpectedDeliveryDate: parseGatewayTime(data.ExpectedDeliveryDate),
		StatusTime:           parseGatewayTime(data.StatusTime),
	}
	if n := len(data.ScanDetail); n > 0 {
		t.Location = data.ScanDetail[n-1].Location
	}
	return t, nil
}

// Cancel asks the gateway to cancel the shipment. confirmed is true only on
// a success result.
func (c *Client) Cancel(ctx context.Context, shipmentOrderID, awb string) (bool, error) {
	body := map[string]any{"order_id": shipmentOrderID, "awb_number": awb}
	if err := c.call(ctx, "cancel_order", http.MethodPost, "/cancel-order", nil, body, nil); err != nil {
		return false, err
	}
	return true, nil
}

// CheckServiceability uses the configured pickup pincode when pickup is empty.
func (c *Client) CheckServiceability(ctx context.Context, pickup, delivery string) (bool, error) {
	if pickup == "" {
		pickup = c.pickup
	}
	var data struct {
		Serviceable bool `json:"serviceable"`
	}
	body := map[string]string{"pickup_pincode": pickup, "delivery_pincode": delivery}
	if err := c.call(ctx, "pincode_serviceability", http.MethodPost, "/pincode-serviceability", nil, body, &data); err != nil {
		return false, err
	}
	return data.Serviceable, nil
}

func (c *Client) Rates(ctx context.Context, req RateRequest) ([]Rate, error) {
	ptype := req.PaymentType
	if ptype == "" {
		ptype = "PREPAID"
	}
	box := boxFor(req.Weight)
	body := map[string]any{
		"pickup_pincode":   c.pickup,
		"delivery_pincode": req.DeliveryPincode,
		"weight":           req.Weight,
		"payment_type":     ptype,
		"shipment_type":    "FORWARD",
		"order_amount":     req.OrderAmount,
		"type_of_package":  "SPS",
		"cod_amount":       0,
		"dimensions": []map[string]string{{
			"no_of_box": "1",
			"length":    fmt.Sprint(box[0]),
			"width":     fmt.Sprint(box[1]),
			"height":    fmt.Sprint(box[2]),
		}},
	}
	var data []struct {
		ID           flexString `json:"id"`
		Name         string     `json:"name"`
		TotalCharges float64    `json:"total_charges"`
	}
	if err := c.call(ctx, "rate_calculator", http.MethodPost, "/rate-calculator", nil, body, &data); err != nil {
		return nil, err
	}
	out := make([]Rate, 0, len(data))
	for _, d := range data {
		out = append(out, Rate{CourierID: string(d.ID), CourierName: d.Name, TotalCharges: d.TotalCharges})
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, q url.Values, in, out any) (err error) {
	defer func() {
		if c.obs != nil {
			res := "ok"
			if err != nil {
				res = "error"
			}
			c.obs.GatewayRequest(op, res)
		}
	}()

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &GatewayError{Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("public-key", c.pub)
	req.Header.Set("private-key", c.priv)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return &GatewayError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if string(env.Result) != resultOK {
		return &GatewayError{Op: op, Status: resp.StatusCode, Result: string(env.Result), Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
