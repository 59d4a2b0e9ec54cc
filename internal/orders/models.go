package orders

import (
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever a persisted record gains or loses a field.
const SchemaVersion = 1

// Saree is a read-only catalog row.
type Saree struct {
	ID            string `json:"id"`
	SellerID      string `json:"seller_id"`
	Code          string `json:"saree_code"`
	Name          string `json:"name"`
	PricePaise    int64  `json:"price_paise"`
	StockQuantity int    `json:"stock_quantity"`
}

type Order struct {
	ID                   string        `json:"id"`
	OrderID              string        `json:"order_id"` // ORD-YYYYMMDD-XXXXXXXX
	SellerID             string        `json:"seller_id"`
	LiveSessionID        string        `json:"live_session_id"`
	SareeID              string        `json:"saree_id"`
	SareeCode            string        `json:"saree_code"`
	CustomerName         string        `json:"customer_name"`
	PhoneNumber          string        `json:"phone_number"`
	Address              string        `json:"address,omitempty"`
	PaymentMethod        PaymentMethod `json:"payment_method"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	OrderStatus          OrderStatus   `json:"order_status"`
	AmountPaise          int64         `json:"amount_paise"`
	Extensions           int           `json:"extensions"`
	TrackingID           string        `json:"tracking_id,omitempty"`
	ReminderSentAt       *time.Time    `json:"reminder_sent_at,omitempty"`
	ReservationExpiresAt time.Time     `json:"reservation_expires_at"`
	SchemaVersion        int           `json:"schema_version"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Validate checks the record-level invariants before a write.
func (o Order) Validate() error {
	if !o.PaymentMethod.Valid() {
		return fmt.Errorf("%w: payment method %q", ErrInvalidRequest, o.PaymentMethod)
	}
	if !o.OrderStatus.Valid() {
		return fmt.Errorf("%w: order status %q", ErrInvalidRequest, o.OrderStatus)
	}
	if o.PaymentStatus == PaymentCompleted && o.OrderStatus != OrderConfirmed && o.OrderStatus != OrderDispatched {
		return fmt.Errorf("%w: completed payment on %s order", ErrDataIntegrity, o.OrderStatus)
	}
	if o.AmountPaise < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidRequest)
	}
	return nil
}

// AwaitingPayment is true while the reservation decides the order's fate.
func (o Order) AwaitingPayment() bool {
	return o.OrderStatus == OrderPending && o.PaymentMethod.Online() && o.PaymentStatus != PaymentCompleted
}

// Lapsed reports whether the reservation window has closed at now.
func (o Order) Lapsed(now time.Time) bool {
	return o.AwaitingPayment() && !now.Before(o.ReservationExpiresAt)
}

type PaymentTransaction struct {
	ID            string        `json:"id"`
	ExternalRef   string        `json:"external_ref"`
	OrderID       string        `json:"order_id"`
	Gateway       string        `json:"gateway"`
	AmountPaise   int64         `json:"amount_paise"`
	Status        PaymentStatus `json:"status"`
	PaymentLink   string        `json:"payment_link"`
	SchemaVersion int           `json:"schema_version"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// NotificationEvent is an append-only audit row for one outbound message.
type NotificationEvent struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	Phone          string         `json:"phone"`
	MessageType    string         `json:"message_type"`
	Direction      string         `json:"direction"` // outbound
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
