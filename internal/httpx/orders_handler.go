package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-order-fulfillment/internal/access"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/go-chi/chi/v5"
)

type OrdersHandler struct {
	Orders *fulfillment.Service
}

type createOrderReq struct {
	UserID    string             `json:"user_id"`
	AddressID int64              `json:"address_id"`
	Items     []orders.ItemInput `json:"items"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.updateStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := requireCap(w, r, access.ManageOrders)
	if !ok {
		return
	}
	var req createOrderReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = p.UserUUID
	}
	o, err := h.Orders.CreateOrder(r.Context(), fulfillment.CreateOrderInput{
		UserID:    req.UserID,
		AddressID: req.AddressID,
		Items:     req.Items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// listOrders serves GET /orders?user_id=&status=&limit=&offset=. Callers
// without VIEW_ORDERS only see their own orders.
func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := fulfillment.ListOrdersInput{
		UserID: strings.TrimSpace(q.Get("user_id")),
		Status: orders.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
	}
	var err error
	if in.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, r, orders.Validation("limit: %v", err))
		return
	}
	if in.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeError(w, r, orders.Validation("offset: %v", err))
		return
	}

	p, _ := PrincipalFrom(r.Context())
	if in.UserID == "" && !p.CanSee("") {
		in.UserID = p.UserUUID
	}
	if !p.CanSee(in.UserID) {
		writeError(w, r, fmt.Errorf("%w: not your orders", orders.ErrForbidden))
		return
	}

	page, err := h.Orders.ListOrders(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !canSee(w, r, view.UserUUID) {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Orders.OrderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !canSee(w, r, snap.UserUUID) {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCap(w, r, access.ManageOrders); !ok {
		return
	}
	var req updateStatusReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	status := orders.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	o, err := h.Orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCap(w, r, access.ManageOrders); !ok {
		return
	}
	if err := h.Orders.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireCap writes 403 unless the caller holds c.
func requireCap(w http.ResponseWriter, r *http.Request, c access.Capability) (access.Principal, bool) {
	p, _ := PrincipalFrom(r.Context())
	if err := p.Require(c); err != nil {
		writeError(w, r, err)
		return p, false
	}
	return p, true
}

func canSee(w http.ResponseWriter, r *http.Request, owner string) bool {
	p, _ := PrincipalFrom(r.Context())
	if p.CanSee(owner) {
		return true
	}
	writeError(w, r, fmt.Errorf("%w: not your order", orders.ErrForbidden))
	return false
}
