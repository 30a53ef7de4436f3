package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/transport"
)

// ServiceAPI is the service surface consumed by the REST handler.
type ServiceAPI interface {
	GetPaymentStatus(reference string) (*PaymentStatusView, error)
	InitiateCheckout(ctx context.Context, invoiceID int64, phone, method string) (*CheckoutResult, error)
}

type Handler struct {
	*transport.BaseHandler
	service ServiceAPI
	logger  *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		service:     service,
		logger:      logger,
	}
}

// GetPaymentStatus serves manual status polling by invoice reference.
func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		h.WriteError(w, http.StatusBadRequest, "reference query parameter is required")
		return
	}

	view, err := h.service.GetPaymentStatus(reference)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}

// InitiateCheckout starts an express-checkout payment for an invoice.
func (h *Handler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("invalid checkout request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		h.writeServiceError(w, err)
		return
	}

	invoiceID, err := req.InvoiceIDValue()
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invoice_id must be a positive integer")
		return
	}

	result, err := h.service.InitiateCheckout(r.Context(), invoiceID, req.Phone, req.Method)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, CheckoutResponse{
		PaymentID:    result.Payment.ID,
		InvoiceID:    result.Payment.InvoiceID,
		Status:       string(result.Payment.Status),
		Instructions: result.Instructions,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	if appErr, ok := internal.IsAppError(err); ok {
		status, body := appErr.ToHTTPResponse()
		h.WriteJSON(w, status, body)
		return
	}
	h.logger.Error("unexpected service error", "error", err)
	h.WriteError(w, http.StatusInternalServerError, "internal error")
}
