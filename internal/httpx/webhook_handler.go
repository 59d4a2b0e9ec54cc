package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/orders"
	"github.com/ariefcatur/go-live-orders/internal/reconcile"
)

const HeaderRazorpaySignature = "X-Razorpay-Signature"

type Reconciler interface {
	HandleGatewayCallback(ctx context.Context, rawBody []byte, signature string) (reconcile.Outcome, error)
}

type WebhookHandler struct {
	Reconciler Reconciler
	Log        *zap.Logger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/api/payments/webhook/razorpay", h.razorpay)
}

// razorpay acknowledges every authentic delivery. Outcomes other than a bad
// signature are the reconciler's business, not the gateway's.
func (h *WebhookHandler) razorpay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	out, err := h.Reconciler.HandleGatewayCallback(r.Context(), body, r.Header.Get(HeaderRazorpaySignature))
	if errors.Is(err, orders.ErrInvalidSignature) {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if err != nil {
		h.Log.Error("webhook not applied", zap.String("outcome", string(out)), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
