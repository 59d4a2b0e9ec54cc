// Package reconcile applies payment gateway callbacks to the ledgers. Every
// delivery may be a replay, arrive late or race another copy of itself, so
// each step is a conditional write that only one caller can win.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/dispatch"
	"github.com/ariefcatur/go-live-orders/internal/orders"
	"github.com/ariefcatur/go-live-orders/internal/payment"
)

const (
	EventLinkPaid      = "payment_link.paid"
	EventLinkExpired   = "payment_link.expired"
	EventLinkCancelled = "payment_link.cancelled"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeAnomaly   Outcome = "anomaly"
)

type PaymentLedger interface {
	CompleteIfPending(ctx context.Context, ref string, at time.Time) (orders.PaymentTransaction, bool, error)
	FailIfPending(ctx context.Context, ref string) (orders.PaymentTransaction, bool, error)
}

type OrderLedger interface {
	MarkOrderPaid(ctx context.Context, orderID string) (bool, error)
}

// Alerter is the operational alert channel. Anomalies go here, idempotent
// no-ops do not.
type Alerter interface {
	Alert(ctx context.Context, msg string, fields ...zap.Field)
}

// LogAlerter raises alerts as error-level log lines tagged alert=true.
type LogAlerter struct{ Log *zap.Logger }

func (a LogAlerter) Alert(_ context.Context, msg string, fields ...zap.Field) {
	a.Log.Error(msg, append(fields, zap.Bool("alert", true))...)
}

type callback struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink struct {
			Entity struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"payment_link"`
	} `json:"payload"`
}

type Service struct {
	Secret   string
	Payments PaymentLedger
	Orders   OrderLedger
	Queue    dispatch.Queue
	Alerts   Alerter
	Log      *zap.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// HandleGatewayCallback verifies and applies one gateway callback. The only
// error the caller must surface is orders.ErrInvalidSignature; any other
// error is an infrastructure failure that has already been alerted.
func (s *Service) HandleGatewayCallback(ctx context.Context, rawBody []byte, signature string) (Outcome, error) {
	if !payment.VerifySignature(s.Secret, rawBody, signature) {
		s.Log.Warn("webhook rejected", zap.Error(orders.ErrInvalidSignature))
		return "", orders.ErrInvalidSignature
	}

	var cb callback
	if err := json.Unmarshal(rawBody, &cb); err != nil {
		s.Log.Warn("ignore undecodable webhook", zap.Error(err))
		return OutcomeIgnored, nil
	}
	ref := cb.Payload.PaymentLink.Entity.ID
	log := s.Log.With(zap.String("event", cb.Event), zap.String("external_ref", ref))

	switch cb.Event {
	case EventLinkPaid:
	case EventLinkExpired, EventLinkCancelled:
		return s.linkClosed(ctx, log, ref)
	default:
		log.Debug("ignore webhook event")
		return OutcomeIgnored, nil
	}
	if ref == "" {
		s.Alerts.Alert(ctx, "paid webhook without payment link id", zap.String("event", cb.Event))
		return OutcomeAnomaly, nil
	}

	tx, applied, err := s.Payments.CompleteIfPending(ctx, ref, s.now())
	if errors.Is(err, orders.ErrNotFound) {
		s.Alerts.Alert(ctx, "webhook for unknown payment transaction", zap.String("external_ref", ref))
		return OutcomeAnomaly, nil
	}
	if err != nil {
		return s.failed(ctx, ref, fmt.Errorf("complete transaction %s: %w", ref, err))
	}
	if !applied && tx.Status != orders.PaymentCompleted {
		s.Alerts.Alert(ctx, "paid webhook for closed payment link",
			zap.String("external_ref", ref), zap.String("payment_status", string(tx.Status)))
		return OutcomeAnomaly, nil
	}

	log = log.With(zap.String("order_id", tx.OrderID))
	// Retried even on a replay so a delivery that died between the two
	// writes still confirms the order.
	paid, err := s.Orders.MarkOrderPaid(ctx, tx.OrderID)
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrDataIntegrity):
		s.Alerts.Alert(ctx, "payment settled but order not confirmable",
			zap.String("external_ref", ref), zap.String("order_id", tx.OrderID), zap.Error(err))
		return OutcomeAnomaly, nil
	case err != nil:
		return s.failed(ctx, ref, fmt.Errorf("mark order %s paid: %w", tx.OrderID, err))
	case !paid:
		log.Info("duplicate payment webhook")
		return OutcomeDuplicate, nil
	}

	task := dispatch.NotifyTask(tx.OrderID, orders.MsgPaymentConfirmation, nil)
	if err := s.Queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		log.Error("dispatch enqueue failed", zap.String("task", task.Type), zap.Error(err))
	}
	log.Info("payment reconciled", zap.Bool("repaired", !applied))
	return OutcomeApplied, nil
}

// linkClosed records an expired or cancelled link. The order itself is left
// to the expiry sweep.
func (s *Service) linkClosed(ctx context.Context, log *zap.Logger, ref string) (Outcome, error) {
	_, applied, err := s.Payments.FailIfPending(ctx, ref)
	if errors.Is(err, orders.ErrNotFound) {
		log.Warn("closed link for unknown payment transaction")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return s.failed(ctx, ref, fmt.Errorf("fail transaction %s: %w", ref, err))
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	log.Info("payment link closed")
	return OutcomeApplied, nil
}

func (s *Service) failed(ctx context.Context, ref string, err error) (Outcome, error) {
	s.Alerts.Alert(ctx, "webhook processing failed", zap.String("external_ref", ref), zap.Error(err))
	return OutcomeAnomaly, err
}
