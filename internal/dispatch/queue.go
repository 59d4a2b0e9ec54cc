// Package dispatch carries work that must never sit on the admission path:
// payment-link creation and customer notifications. Tasks go out over Kafka
// and are consumed at-least-once by Worker.
package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-live-orders/internal/kafka"
	"github.com/ariefcatur/go-live-orders/internal/orders"
)

// Notification params beyond what the order row already carries.
const (
	ParamPaymentLink = "payment_link"
	ParamMinutesLeft = "minutes_left"
	ParamTrackingID  = "tracking_id"
)

type Task struct {
	Type    string
	OrderID string
	TraceID string
	Payload any
}

func PaymentLinkTask(orderID string) Task {
	return Task{Type: orders.TaskPaymentLink, OrderID: orderID, Payload: orders.PaymentLinkPayload{OrderID: orderID}}
}

func NotifyTask(orderID, messageType string, params map[string]string) Task {
	return Task{Type: orders.TaskNotify, OrderID: orderID, Payload: orders.NotifyPayload{
		OrderID: orderID, MessageType: messageType, Params: params,
	}}
}

func MinutesParam(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 1 {
		m = 1
	}
	return strconv.Itoa(m)
}

type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// KafkaQueue wraps tasks in the event envelope and hands them to the producer.
type KafkaQueue struct {
	Producer    publisher
	ServiceName string
}

func (q *KafkaQueue) Enqueue(ctx context.Context, t Task) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     t.Type,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      q.ServiceName,
		TraceID:       t.TraceID,
		CorrelationID: t.OrderID,
		Payload:       kafkax.MustMarshal(t.Payload),
	}
	return q.Producer.Publish(ctx, orders.PartitionKey(t.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(t.Type)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
