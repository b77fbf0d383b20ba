package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

type OrdersHandler struct {
	Service *fulfillment.Service
}

type FulfillReq struct {
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

type FulfillResp struct {
	OrderID string `json:"order_id"`
	JobID   string `json:"job_id"`
	Queued  bool   `json:"queued"`
}

type CancelResp struct {
	OrderID        string        `json:"order_id"`
	Status         orders.Status `json:"status"`
	UpstreamQueued bool          `json:"upstream_cancellation_queued"`
}

type RatesReq struct {
	OrderID string  `json:"order_id"`
	Pincode string  `json:"pincode"`
	Weight  int     `json:"weight"`
	Amount  float64 `json:"amount"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/fulfill", h.fulfill)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/shipping/rates", h.rates)
	r.Get("/shipping/serviceability", h.serviceability)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := http.StatusInternalServerError, "internal error"
	var ge *shipping.GatewayError
	switch {
	case errors.Is(err, fulfillment.ErrUpstreamDataMissing):
		code, msg = http.StatusBadRequest, "courier id missing"
	case errors.Is(err, orders.ErrNotFound):
		code, msg = http.StatusNotFound, "not found"
	case errors.Is(err, fulfillment.ErrNotConfirmed),
		errors.Is(err, orders.ErrAlreadyCancelled),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrConcurrencyConflict):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, fulfillment.ErrNotServiceable), errors.Is(err, fulfillment.ErrNoRates):
		code, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &ge):
		code, msg = http.StatusBadGateway, "shipping gateway error"
	}
	if code >= 500 {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) fulfill(w http.ResponseWriter, r *http.Request) {
	var req FulfillReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	jobID, added, err := h.Service.RequestFulfillment(ctx, fulfillment.FulfillmentRequest{
		OrderID:   id,
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, FulfillResp{OrderID: id, JobID: jobID, Queued: added})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, queued, err := h.Service.RequestCancel(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResp{OrderID: o.ID, Status: o.OrderStatus, UpstreamQueued: queued})
}

func (h *OrdersHandler) rates(w http.ResponseWriter, r *http.Request) {
	var req RatesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Pincode == "" || req.Weight <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pincode and weight required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	q, err := h.Service.QuoteShipping(ctx, fulfillment.QuoteRequest{
		OrderID: req.OrderID,
		Pincode: req.Pincode,
		Weight:  req.Weight,
		Amount:  req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *OrdersHandler) serviceability(w http.ResponseWriter, r *http.Request) {
	pincode := r.URL.Query().Get("pincode")
	if pincode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing pincode"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ok, err := h.Service.CheckServiceability(ctx, pincode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pincode": pincode, "serviceable": ok})
}
