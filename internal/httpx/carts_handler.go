package httpx

import (
	"context"
	"github.com/ariefcatur/go-shop-checkout/internal/carts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type CartService interface {
	Create(ctx context.Context, items []carts.ItemInput) (*carts.Cart, error)
	Get(ctx context.Context, cartID string) (*carts.Cart, error)
	AddOrUpdateItem(ctx context.Context, cartID, productID string, quantity int) (*carts.Cart, error)
	RemoveItem(ctx context.Context, cartID, productID string) (carts.RemoveResult, error)
	Discard(ctx context.Context, cartID string) error
}

type CartsHandler struct {
	Carts CartService
	Log   *zap.Logger
}

type CreateCartReq struct {
	Items []carts.ItemInput `json:"items" validate:"omitempty,dive"`
}

type SetItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartsHandler) Register(r chi.Router) {
	r.Post("/carts", h.createCart)
	r.Get("/carts/{id}", h.getCart)
	r.Delete("/carts/{id}", h.discardCart)
	r.Put("/carts/{id}/items/{productID}", h.setItem)
	r.Delete("/carts/{id}/items/{productID}", h.removeItem)
}

func (h *CartsHandler) createCart(w http.ResponseWriter, r *http.Request) {
	var req CreateCartReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, h.Log, err, http.StatusNotFound)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Carts.Create(ctx, req.Items)
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CartsHandler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// setItem adds the product or changes its quantity; the quantity in the
// body is the new total for that line.
func (h *CartsHandler) setItem(w http.ResponseWriter, r *http.Request) {
	var req SetItemReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Carts.AddOrUpdateItem(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartsHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Carts.RemoveItem(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	// last item gone, cart deleted
	if res.Emptied {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res.Cart)
}

func (h *CartsHandler) discardCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Carts.Discard(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
