package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-live-orders/internal/kafka"
	"github.com/ariefcatur/go-live-orders/internal/notify"
	"github.com/ariefcatur/go-live-orders/internal/orders"
	"github.com/ariefcatur/go-live-orders/internal/payment"
	"github.com/ariefcatur/go-live-orders/internal/redisx"
)

type OrderReader interface {
	GetOrderByOrderID(ctx context.Context, orderID string) (orders.Order, error)
}

type PaymentLedger interface {
	GetPendingByOrder(ctx context.Context, orderID string) (orders.PaymentTransaction, error)
	InsertTransaction(ctx context.Context, t orders.PaymentTransaction) error
}

type NotificationLog interface {
	Append(ctx context.Context, ev orders.NotificationEvent) error
}

type Worker struct {
	Orders        OrderReader
	Payments      PaymentLedger
	Notifications NotificationLog
	Gateway       payment.Gateway
	Sender        notify.Sender
	Redis         *redis.Client
	Log           *zap.Logger

	ServiceName    string
	ReservationTTL time.Duration
	Now            func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Handle is installed as the consumer handler. It returns an error only for
// infrastructure failures and shutdown, both worth redelivering; gateway and
// sender failures are recorded and the message is committed.
//
// The dedup key is a short "processing" claim while the task runs and is
// promoted to "done" only once it succeeded, so a task cut short is picked
// up again on redelivery.
func (w *Worker) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		w.Log.Error("drop undecodable task", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, w.ServiceName, env.EventID)
	claimed, err := w.Redis.SetNX(ctx, dkey, redisx.DedupProcessing, redisx.TTLDedupClaim).Result()
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !claimed {
		state, err := w.Redis.Get(ctx, dkey).Result()
		if err == nil && state == redisx.DedupDone {
			return nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("dedup lookup: %w", err)
		}
		return fmt.Errorf("task %s still claimed", env.EventID)
	}

	log := w.Log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType),
		zap.String("order_id", env.CorrelationID))

	switch env.EventType {
	case orders.TaskPaymentLink:
		var p orders.PaymentLinkPayload
		if p, err = kafkax.UnwrapPayload[orders.PaymentLinkPayload](env.Payload); err == nil {
			err = w.handlePaymentLink(ctx, log, p.OrderID)
		}
	case orders.TaskNotify:
		var p orders.NotifyPayload
		if p, err = kafkax.UnwrapPayload[orders.NotifyPayload](env.Payload); err == nil {
			err = w.handleNotify(ctx, log, p)
		}
	default:
		log.Warn("ignore unknown task type")
	}

	bg := context.WithoutCancel(ctx)
	if err != nil {
		w.Redis.Del(bg, dkey)
		return err
	}
	if serr := w.Redis.Set(bg, dkey, redisx.DedupDone, redisx.TTLDedup).Err(); serr != nil {
		log.Warn("dedup mark failed", zap.Error(serr))
	}
	return nil
}

func (w *Worker) handlePaymentLink(ctx context.Context, log *zap.Logger, orderID string) error {
	o, err := w.Orders.GetOrderByOrderID(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		log.Error("payment link for unknown order", zap.Bool("alert", true))
		return nil
	}
	if err != nil {
		return err
	}
	if !o.AwaitingPayment() {
		log.Info("skip payment link, order no longer awaiting payment", zap.String("order_status", string(o.OrderStatus)))
		return nil
	}

	existing, err := w.Payments.GetPendingByOrder(ctx, orderID)
	if err == nil {
		log.Info("payment link already issued", zap.String("external_ref", existing.ExternalRef))
		return nil
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return err
	}

	ttl := o.ReservationExpiresAt.Sub(w.now())
	if ttl <= 0 {
		ttl = w.ReservationTTL
	}
	link, err := w.Gateway.CreatePaymentLink(ctx, payment.LinkRequest{
		OrderID:       o.OrderID,
		AmountPaise:   o.AmountPaise,
		CustomerName:  o.CustomerName,
		CustomerPhone: notify.NormalizePhone(o.PhoneNumber),
		Description:   fmt.Sprintf("Payment for Order %s (Saree %s)", o.OrderID, o.SareeCode),
		TTL:           ttl,
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("payment link for %s: %w", o.OrderID, ctx.Err())
		}
		// The order stays pending; support re-enqueues the task once the gateway is back.
		log.Error("payment link creation failed", zap.Error(err))
		return w.send(ctx, log, o, orders.MsgPaymentDelayed, nil)
	}

	// The link exists at the gateway now; record and announce it even when
	// shutting down.
	ctx = context.WithoutCancel(ctx)

	tx := orders.PaymentTransaction{
		ID:          uuid.NewString(),
		ExternalRef: link.ExternalRef,
		OrderID:     o.OrderID,
		Gateway:     link.Gateway,
		AmountPaise: o.AmountPaise,
		Status:      orders.PaymentPending,
		PaymentLink: link.URL,
		CreatedAt:   w.now().UTC(),
	}
	if err := w.Payments.InsertTransaction(ctx, tx); err != nil {
		return err
	}
	log.Info("payment link issued", zap.String("external_ref", link.ExternalRef))
	return w.send(ctx, log, o, orders.MsgOrderInterest, map[string]string{ParamPaymentLink: link.URL})
}

func (w *Worker) handleNotify(ctx context.Context, log *zap.Logger, p orders.NotifyPayload) error {
	o, err := w.Orders.GetOrderByOrderID(ctx, p.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		log.Error("notification for unknown order", zap.Bool("alert", true))
		return nil
	}
	if err != nil {
		return err
	}
	return w.send(ctx, log, o, p.MessageType, p.Params)
}

// send renders, delivers and audits one message. Delivery failures end up in
// the notification log; only a delivery interrupted by ctx is returned.
func (w *Worker) send(ctx context.Context, log *zap.Logger, o orders.Order, messageType string, params map[string]string) error {
	minutes, _ := strconv.Atoi(params[ParamMinutesLeft])
	tracking := params[ParamTrackingID]
	if tracking == "" {
		tracking = o.TrackingID
	}
	text, err := notify.Render(messageType, notify.Params{
		CustomerName: o.CustomerName,
		OrderID:      o.OrderID,
		SareeCode:    o.SareeCode,
		AmountPaise:  o.AmountPaise,
		PaymentLink:  params[ParamPaymentLink],
		MinutesLeft:  minutes,
		TrackingID:   tracking,
	})
	if err == nil {
		err = w.Sender.SendText(ctx, o.PhoneNumber, text)
	}
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("send %s: %w", messageType, ctx.Err())
	}

	ev := orders.NotificationEvent{
		ID:             uuid.NewString(),
		OrderID:        o.OrderID,
		Phone:          notify.NormalizePhone(o.PhoneNumber),
		MessageType:    messageType,
		Direction:      "outbound",
		DeliveryStatus: orders.DeliverySent,
		CreatedAt:      w.now().UTC(),
	}
	if err != nil {
		ev.DeliveryStatus = orders.DeliveryFailed
		ev.Error = err.Error()
		log.Warn("notification failed", zap.String("message_type", messageType), zap.Error(err))
	} else {
		log.Info("notification sent", zap.String("message_type", messageType))
	}
	if aerr := w.Notifications.Append(context.WithoutCancel(ctx), ev); aerr != nil {
		log.Error("notification audit write failed", zap.String("message_type", messageType), zap.Error(aerr))
	}
	return nil
}
