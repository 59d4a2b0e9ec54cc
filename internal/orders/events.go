package orders

import (
	"encoding/json"
	"time"
)

// Task types carried on the dispatch topic.
const (
	TaskPaymentLink = "PaymentLinkRequested"
	TaskNotify      = "NotificationRequested"
)

// Message types, one per outbound template.
const (
	MsgOrderInterest       = "order_interest"
	MsgPaymentDelayed      = "payment_delayed"
	MsgPaymentConfirmation = "payment_confirmation"
	MsgPaymentReminder     = "payment_reminder"
	MsgBookingExpired      = "booking_expired"
	MsgCODConfirmation     = "cod_confirmation"
	MsgDispatchUpdate      = "dispatch_update"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid, dedup key on the consumer
	EventType     string          `json:"event_type"`    // one of the Task* constants
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type PaymentLinkPayload struct {
	OrderID string `json:"order_id"`
}

type NotifyPayload struct {
	OrderID     string            `json:"order_id"`
	MessageType string            `json:"message_type"`
	Params      map[string]string `json:"params,omitempty"`
}
