package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/customers"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/orders"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/session"
	"github.com/airoxlab/bizposcash-sub002/internal/syncer"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Handler serves the endpoints of one Session.
type Handler struct {
	session *session.Session
	logger  *slog.Logger
}

// --- Request / Response types ---

type statusResponse struct {
	domain.NetworkStatus
	TenantID string           `json:"tenant_id"`
	Ready    bool             `json:"ready"`
	Warnings []syncer.Warning `json:"warnings"`
}

type catalogResponse struct {
	Categories []domain.Category `json:"categories"`
	Products   []domain.Product  `json:"products"`
	Deals      []domain.Deal     `json:"deals"`
}

type tableStatusRequest struct {
	Status  domain.TableStatus `json:"status"`
	OrderID string             `json:"order_id"`
}

type resolveCustomerRequest struct {
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Address  string `json:"address"`
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

type orderCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type paidRequest struct {
	Method string `json:"method"`
}

type paymentsRequest struct {
	Transactions []domain.PaymentTransaction `json:"transactions"`
}

type orderResponse struct {
	domain.Order
	Transactions []domain.PaymentTransaction `json:"transactions"`
}

// --- Handlers ---

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	warnings := h.session.Engine.Warnings()
	if warnings == nil {
		warnings = []syncer.Warning{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		NetworkStatus: h.session.NetworkStatus(r.Context()),
		TenantID:      h.session.Cache.TenantID(),
		Ready:         h.session.Cache.IsReady(),
		Warnings:      warnings,
	})
}

// Sync handles POST /sync: one drain, run now.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.session.Monitor.IsOnline() {
		writeJSON(w, http.StatusOK, map[string]any{"isOffline": true, "report": syncer.Report{}})
		return
	}
	report, err := h.session.Engine.DrainOnce(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isOffline": false, "report": report})
}

// Catalog handles GET /catalog.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	c := h.session.Cache
	writeJSON(w, http.StatusOK, catalogResponse{
		Categories: c.GetCategories(),
		Products:   c.GetProducts(),
		Deals:      c.GetDeals(),
	})
}

// ProductVariants handles GET /products/{id}/variants.
func (h *Handler) ProductVariants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Cache.GetProductVariants(chi.URLParam(r, "id")))
}

// DealProducts handles GET /deals/{id}/products.
func (h *Handler) DealProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Cache.GetDealProducts(chi.URLParam(r, "id")))
}

// ListTables handles GET /tables.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Cache.GetAllTables())
}

// SetTableStatus handles POST /tables/{id}/status.
func (h *Handler) SetTableStatus(w http.ResponseWriter, r *http.Request) {
	var req tableStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.session.Orders.SetTableStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.OrderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SearchCustomers handles GET /customers?q=&limit=.
func (h *Handler) SearchCustomers(w http.ResponseWriter, r *http.Request) {
	limit := defaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = min(v, maxSearchLimit)
		}
	}
	writeJSON(w, http.StatusOK, h.session.Customers.SearchSuggestions(r.URL.Query().Get("q"), limit))
}

// ResolveCustomer handles POST /customers/resolve.
func (h *Handler) ResolveCustomer(w http.ResponseWriter, r *http.Request) {
	var req resolveCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.session.Customers.FindOrCreateCustomer(r.Context(), req.Phone, customers.Data{
		FullName: req.FullName,
		Address:  req.Address,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// GetCart handles GET /carts/{type}.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	t, ok := orderType(w, r)
	if !ok {
		return
	}
	cart, _ := h.session.Cache.GetCart(t)
	if cart.Items == nil {
		cart.Items = []domain.OrderItem{}
	}
	writeJSON(w, http.StatusOK, cart)
}

// SaveCart handles PUT /carts/{type}.
func (h *Handler) SaveCart(w http.ResponseWriter, r *http.Request) {
	t, ok := orderType(w, r)
	if !ok {
		return
	}
	var cart cache.Cart
	if !decodeJSON(w, r, &cart) {
		return
	}
	if err := h.session.Cache.SaveCart(r.Context(), t, cart); err != nil {
		h.writeError(w, err)
		return
	}
	saved, _ := h.session.Cache.GetCart(t)
	writeJSON(w, http.StatusOK, saved)
}

// ClearCart handles DELETE /carts/{type}.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	t, ok := orderType(w, r)
	if !ok {
		return
	}
	if err := h.session.Cache.ClearCart(r.Context(), t); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Cache.GetOrders())
}

// PlaceOrder handles POST /orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var d orders.Draft
	if !decodeJSON(w, r, &d) {
		return
	}
	res, err := h.session.Orders.PlaceOrder(r.Context(), d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, ok := h.session.Cache.GetOrder(id)
	if !ok {
		h.writeError(w, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		Order:        o,
		Transactions: h.session.Cache.GetPaymentTransactions(id),
	})
}

// UpdateOrderStatus handles POST /orders/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req orderStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := h.session.Orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetOrderCustomer handles POST /orders/{id}/customer.
func (h *Handler) SetOrderCustomer(w http.ResponseWriter, r *http.Request) {
	var req orderCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.session.Orders.SetCustomer(r.Context(), chi.URLParam(r, "id"), req.CustomerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateItemQuantity handles POST /orders/{id}/items/{line}/quantity.
func (h *Handler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.session.Orders.UpdateCartItemQuantity(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "line"), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MarkPaid handles POST /orders/{id}/paid.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req paidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.session.Orders.MarkPaid(r.Context(), chi.URLParam(r, "id"), req.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPayments handles GET /orders/{id}/payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Cache.GetPaymentTransactions(chi.URLParam(r, "id")))
}

// RecordPayments handles POST /orders/{id}/payments.
func (h *Handler) RecordPayments(w http.ResponseWriter, r *http.Request) {
	var req paymentsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.session.Orders.RecordSplitPayment(r.Context(), chi.URLParam(r, "id"), req.Transactions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func orderType(w http.ResponseWriter, r *http.Request) (domain.OrderType, bool) {
	t := domain.OrderType(chi.URLParam(r, "type"))
	if !t.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown order type %q", t)})
		return "", false
	}
	return t, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps service errors to HTTP statuses. Business rejections
// from an online customer create keep their code.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var be *remote.BusinessError
	switch {
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrLineNotFound),
		errors.Is(err, orders.ErrTableNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, orders.ErrOrderClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, orders.ErrEmptyOrder),
		errors.Is(err, orders.ErrInvalidPayment),
		errors.Is(err, orders.ErrInvalidInput),
		errors.Is(err, customers.ErrInvalidPhone):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, cache.ErrNoTenant):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.As(err, &be):
		writeJSON(w, http.StatusUnprocessableEntity, be)
	default:
		h.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
