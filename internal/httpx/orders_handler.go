package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/admission"
	"github.com/ariefcatur/go-live-orders/internal/orders"
)

const HeaderSellerID = "X-Seller-ID"

type OrderService interface {
	CreateOrder(ctx context.Context, sellerID, sessionID string, req admission.OrderRequest) (orders.Order, error)
	GetOrder(ctx context.Context, sellerID, orderID string) (orders.Order, error)
	ListOrders(ctx context.Context, sellerID string, status orders.OrderStatus) ([]orders.Order, error)
	ExtendReservation(ctx context.Context, sellerID, orderID string) (orders.Order, error)
	UpdateOrderStatus(ctx context.Context, sellerID, orderID string, to orders.OrderStatus, trackingID string) (orders.Order, error)
}

type OrdersHandler struct {
	Orders OrderService
	Log    *zap.Logger
}

type UpdateStatusReq struct {
	Status     orders.OrderStatus `json:"status"`
	TrackingID string             `json:"tracking_id"`
}

type sellerKey struct{}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(requireSeller)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}/status", h.updateStatus)
		r.Post("/{id}/extend", h.extend)
	})
}

// requireSeller makes the seller explicit on every request; there is no
// default seller.
func requireSeller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seller := strings.TrimSpace(r.Header.Get(HeaderSellerID))
		if seller == "" {
			writeError(w, http.StatusUnauthorized, "missing "+HeaderSellerID)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sellerKey{}, seller)))
	})
}

func sellerFrom(ctx context.Context) string {
	s, _ := ctx.Value(sellerKey{}).(string)
	return s
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req admission.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	session := r.URL.Query().Get("live_session_id")
	if session == "" {
		writeError(w, http.StatusBadRequest, "missing live_session_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, sellerFrom(r.Context()), session, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, sellerFrom(r.Context()), orders.OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, sellerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateOrderStatus(ctx, sellerFrom(r.Context()), chi.URLParam(r, "id"), req.Status, req.TrackingID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) extend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.ExtendReservation(ctx, sellerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInvalidRequest), errors.Is(err, orders.ErrOutOfStock):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrAlreadyReserved),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrStaleTransition),
		errors.Is(err, orders.ErrExtensionLimit):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}
