package httpx

import (
	"context"
	"github.com/ariefcatur/go-shop-checkout/internal/inventory"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type ProductStore interface {
	List(ctx context.Context) ([]inventory.Product, error)
	Get(ctx context.Context, productID string) (inventory.Product, error)
	SetStock(ctx context.Context, productID string, stock int) error
}

type ProductsHandler struct {
	Products   ProductStore
	AdminToken string
	Log        *zap.Logger
}

type SetStockReq struct {
	Stock *int `json:"stock" validate:"required,min=0"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.With(adminOnly(h.AdminToken)).Put("/products/{id}/stock", h.setStock)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.List(ctx)
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Products.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// setStock is the operator override; it bypasses reservations entirely.
func (h *ProductsHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var req SetStockReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Products.SetStock(ctx, id, *req.Stock); err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	p, err := h.Products.Get(ctx, id)
	if err != nil {
		writeError(w, h.Log, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
