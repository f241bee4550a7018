package httpx

import (
	"context"
	"github.com/ariefcatur/go-shop-checkout/internal/carts"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/payments"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"strconv"
	"time"
)

type OrderService interface {
	CreateFromCart(ctx context.Context, in orders.CreateInput) (*orders.Order, error)
	Get(ctx context.Context, id string) (*orders.Order, error)
	List(ctx context.Context, f orders.Filter) ([]orders.Order, error)
	GetStatus(ctx context.Context, id string) (orders.Status, error)
	UpdateStatus(ctx context.Context, id, status string) (*orders.Order, error)
}

type PaymentService interface {
	Initiate(ctx context.Context, orderID string, method int) (string, error)
	Reconcile(ctx context.Context, orderID string, n payments.Notification) error
	Methods(ctx context.Context, lang string) ([]payments.Method, error)
}

type OrdersHandler struct {
	Orders     OrderService
	Payments   PaymentService
	AdminToken string
	Log        *zap.Logger
}

type CreateOrderReq struct {
	Customer   orders.Customer   `json:"customer"`
	DeliveryID string            `json:"delivery_id" validate:"required,uuid"`
	CartID     string            `json:"cart_id,omitempty" validate:"omitempty,uuid"`
	Items      []carts.ItemInput `json:"items,omitempty" validate:"omitempty,dive"`
}

type UpdateStatusReq struct {
	Status string `json:"status" validate:"required"`
}

type PaymentReq struct {
	PaymentMethod int `json:"payment_method" validate:"min=0"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/payment", h.initiatePayment)
	r.Post("/orders/{id}/p24-callback", h.p24Callback)
	r.Get("/payments/methods", h.paymentMethods)
	r.Get("/payments/methods/{lang}", h.paymentMethods)

	r.Group(func(r chi.Router) {
		r.Use(adminOnly(h.AdminToken))
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Put("/orders/{id}/status", h.updateStatus)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateFromCart(ctx, orders.CreateInput{
		Customer:   req.Customer,
		DeliveryID: req.DeliveryID,
		CartID:     req.CartID,
		Items:      req.Items,
	})
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.Filter{Status: orders.Status(q.Get("status")), Sort: q.Get("sort")}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Orders.List(ctx, f)
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Orders.GetStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]orders.Status{"status": st})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// initiatePayment redirects the customer to the P24 payment page.
func (h *OrdersHandler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, h.Log, err, http.StatusNotFound)
			return
		}
	}

	// register is bounded by the P24 client timeout
	url, err := h.Payments.Initiate(r.Context(), chi.URLParam(r, "id"), req.PaymentMethod)
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *OrdersHandler) p24Callback(w http.ResponseWriter, r *http.Request) {
	var n payments.Notification
	if err := decode(r, &n); err != nil {
		writeError(w, h.Log, err, http.StatusBadRequest)
		return
	}

	if err := h.Payments.Reconcile(r.Context(), chi.URLParam(r, "id"), n); err != nil {
		writeError(w, h.Log, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) paymentMethods(w http.ResponseWriter, r *http.Request) {
	m, err := h.Payments.Methods(r.Context(), chi.URLParam(r, "lang"))
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
