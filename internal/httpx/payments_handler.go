package httpx

import (
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/go-chi/chi/v5"
)

type PaymentsHandler struct {
	Payments *payments.Service
}

type createPaymentReq struct {
	UserID string               `json:"user_id"`
	Items  []orders.PaymentItem `json:"items"`
	Amount int64                `json:"amount"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments", h.createPayment)
	r.Get("/payments/paypal/capture", h.captureReturn)
	r.Get("/payments/{ref}", h.getPayment)
	r.Post("/payments/{ref}/capture", h.capture)
}

func (h *PaymentsHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req createPaymentReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = p.UserUUID
	}
	if !p.CanActFor(req.UserID) {
		writeError(w, r, fmt.Errorf("%w: cannot pay for another user", orders.ErrForbidden))
		return
	}
	res, err := h.Payments.CreatePayment(r.Context(), payments.CreatePaymentInput{
		UserID: req.UserID,
		Items:  req.Items,
		Amount: req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PaymentsHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	view, err := h.Payments.PaymentByRef(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !canSee(w, r, view.UserUUID) {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PaymentsHandler) capture(w http.ResponseWriter, r *http.Request) {
	h.captureRef(w, r, chi.URLParam(r, "ref"))
}

// captureReturn serves the gateway's return URL, which carries the reference
// as ?token=.
func (h *PaymentsHandler) captureReturn(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("token")
	if ref == "" {
		writeError(w, r, orders.Validation("missing token"))
		return
	}
	h.captureRef(w, r, ref)
}

func (h *PaymentsHandler) captureRef(w http.ResponseWriter, r *http.Request, ref string) {
	view, err := h.Payments.PaymentByRef(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if !p.CanActFor(view.UserUUID) {
		writeError(w, r, fmt.Errorf("%w: not your payment", orders.ErrForbidden))
		return
	}
	o, err := h.Payments.CaptureByGatewayRef(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
