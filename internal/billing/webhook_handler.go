package billing

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/gateway"
	"github.com/frahmantamala/fleet-billing/internal/guard"
	"github.com/frahmantamala/fleet-billing/internal/transport"
)

// maxNotificationBytes bounds how much of an unauthenticated body is read.
const maxNotificationBytes = 64 << 10

// ConfirmationAPI is the service surface the webhook handler needs.
type ConfirmationAPI interface {
	ConfirmPayment(ctx context.Context, n *gateway.Notification, meta RequestMeta) (*ConfirmOutcome, error)
}

// WebhookHandler receives confirmation notifications from the gateway.
// Check order is fixed: rate limit before any body read, signature before
// any database access, replay guard before reconciliation.
type WebhookHandler struct {
	*transport.BaseHandler
	service  ConfirmationAPI
	verifier gateway.VerifierAPI
	limiter  guard.RateLimiter
	replays  guard.ReplayGuard
	logger   *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service ConfirmationAPI, verifier gateway.VerifierAPI, limiter guard.RateLimiter, replays guard.ReplayGuard, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		service:     service,
		verifier:    verifier,
		limiter:     limiter,
		replays:     replays,
		logger:      logger,
	}
}

func (h *WebhookHandler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	src := sourceAddr(r)

	if !h.limiter.Admit(src) {
		h.logger.Warn("webhook rate limit exceeded", "source_addr", src)
		h.WriteJSON(w, http.StatusTooManyRequests, WebhookResponse{Success: false, Message: "too many requests"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		h.logger.Error("failed to read notification body", "error", err, "source_addr", src)
		h.WriteJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Message: "unreadable body"})
		return
	}

	fields, err := gateway.ParseFields(body)
	if err != nil {
		h.logger.Warn("malformed notification body", "error", err, "source_addr", src)
		h.WriteJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Message: "malformed notification body"})
		return
	}

	if !h.verifier.VerifyNotification(fields) {
		h.logger.Error("notification failed signature verification, suspected fraud attempt",
			"source_addr", src,
			"source_agent", r.UserAgent(),
			"reference", gateway.FieldValue(fields, "reference"))
		h.WriteJSON(w, http.StatusForbidden, WebhookResponse{Success: false, Message: "invalid signature"})
		return
	}

	n, err := gateway.NotificationFromFields(fields)
	if err != nil {
		h.logger.Warn("invalid notification payload", "error", err, "source_addr", src)
		h.WriteJSON(w, http.StatusBadRequest, WebhookResponse{Success: false, Message: "invalid notification payload"})
		return
	}

	observedAt := time.Now()
	if h.replays.IsReplay(n.Reference, observedAt) {
		h.logger.Warn("replayed notification rejected",
			"reference", n.Reference,
			"source_addr", src)
		h.WriteJSON(w, http.StatusConflict, WebhookResponse{Success: false, Message: "notification already processed"})
		return
	}

	h.logger.Info("processing payment confirmation",
		"reference", n.Reference,
		"gateway_reference", n.GatewayReference,
		"status", n.Status,
		"source_addr", src)

	meta := RequestMeta{SourceAddr: src, SourceAgent: r.UserAgent()}
	outcome, err := h.service.ConfirmPayment(r.Context(), n, meta)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			h.WriteJSON(w, appErr.StatusCode, WebhookResponse{Success: false, Message: appErr.Message})
			return
		}
		h.logger.Error("payment confirmation failed", "error", err, "reference", n.Reference)
		h.WriteJSON(w, http.StatusInternalServerError, WebhookResponse{Success: false, Message: "internal error"})
		return
	}

	h.replays.Commit(n.Reference, observedAt)

	if outcome.Confirmed || outcome.AlreadySettled {
		h.WriteJSON(w, http.StatusOK, WebhookResponse{Success: true})
		return
	}
	h.WriteJSON(w, http.StatusOK, WebhookResponse{Success: false, Message: outcome.Message})
}

// sourceAddr resolves the client address behind a proxy, falling back to the
// socket peer.
func sourceAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
