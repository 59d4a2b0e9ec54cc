// Package admission decides which viewer gets a saree. The reservation store
// is the only serialization point: an order is written to the ledger only
// after its reservation was acquired, so a losing request leaves nothing
// behind.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/dispatch"
	"github.com/ariefcatur/go-live-orders/internal/orders"
	"github.com/ariefcatur/go-live-orders/internal/reservation"
)

type Catalog interface {
	GetSaree(ctx context.Context, sellerID, code string) (orders.Saree, error)
}

type Ledger interface {
	InsertOrder(ctx context.Context, o orders.Order) error
	GetOrder(ctx context.Context, sellerID, orderID string) (orders.Order, error)
	ListOrders(ctx context.Context, sellerID string, status orders.OrderStatus) ([]orders.Order, error)
	TransitionOrder(ctx context.Context, orderID string, from, to orders.OrderStatus) error
	ExtendReservation(ctx context.Context, orderID string, expiresAt time.Time, maxExtensions int) error
	RevertExtension(ctx context.Context, orderID string, expiresAt time.Time) error
	SetTracking(ctx context.Context, orderID, trackingID string) error
}

type SessionStats interface {
	IncrementSessionCounters(ctx context.Context, sessionID string, orderDelta, revenueDelta int64) error
}

type OrderRequest struct {
	SareeCode     string               `json:"saree_code"`
	CustomerName  string               `json:"customer_name"`
	PhoneNumber   string               `json:"phone_number"`
	Address       string               `json:"address"`
	PaymentMethod orders.PaymentMethod `json:"payment_method"`
}

func (r OrderRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.SareeCode) == "" {
		missing = append(missing, "saree_code")
	}
	if strings.TrimSpace(r.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	if strings.TrimSpace(r.PhoneNumber) == "" {
		missing = append(missing, "phone_number")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", orders.ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if !r.PaymentMethod.Valid() {
		return fmt.Errorf("%w: payment_method must be upi, card or cod", orders.ErrInvalidRequest)
	}
	return nil
}

type Service struct {
	Catalog      Catalog
	Ledger       Ledger
	Sessions     SessionStats
	Reservations reservation.Store
	Queue        dispatch.Queue
	Log          *zap.Logger

	Window        time.Duration // reservation lifetime
	Extension     time.Duration // added by one explicit extend
	MaxExtensions int
	Now           func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return reservation.DefaultWindow
}

// CreateOrder admits one order for the saree identified by req.SareeCode.
func (s *Service) CreateOrder(ctx context.Context, sellerID, sessionID string, req OrderRequest) (orders.Order, error) {
	if sellerID == "" || sessionID == "" {
		return orders.Order{}, fmt.Errorf("%w: seller and live session are required", orders.ErrInvalidRequest)
	}
	req.SareeCode = strings.TrimSpace(req.SareeCode)
	if err := req.validate(); err != nil {
		return orders.Order{}, err
	}

	saree, err := s.Catalog.GetSaree(ctx, sellerID, req.SareeCode)
	if err != nil {
		return orders.Order{}, fmt.Errorf("saree %s: %w", req.SareeCode, err)
	}
	if saree.StockQuantity <= 0 {
		return orders.Order{}, fmt.Errorf("saree %s: %w", req.SareeCode, orders.ErrOutOfStock)
	}

	now := s.now()
	orderID := orders.NewOrderID(now)
	ok, err := s.Reservations.Acquire(ctx, saree.ID, orderID, s.window())
	if err != nil {
		return orders.Order{}, err
	}
	if !ok {
		return orders.Order{}, fmt.Errorf("saree %s: %w", req.SareeCode, orders.ErrAlreadyReserved)
	}

	o := orders.Order{
		ID:                   uuid.NewString(),
		OrderID:              orderID,
		SellerID:             sellerID,
		LiveSessionID:        sessionID,
		SareeID:              saree.ID,
		SareeCode:            saree.Code,
		CustomerName:         strings.TrimSpace(req.CustomerName),
		PhoneNumber:          strings.TrimSpace(req.PhoneNumber),
		Address:              strings.TrimSpace(req.Address),
		PaymentMethod:        req.PaymentMethod,
		PaymentStatus:        orders.PaymentPending,
		OrderStatus:          orders.OrderPending,
		AmountPaise:          saree.PricePaise,
		ReservationExpiresAt: now.Add(s.window()),
		SchemaVersion:        orders.SchemaVersion,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.Ledger.InsertOrder(ctx, o); err != nil {
		if rerr := s.Reservations.Release(context.WithoutCancel(ctx), saree.ID, orderID); rerr != nil {
			s.Log.Error("release after failed insert", zap.String("order_id", orderID), zap.Error(rerr))
		}
		return orders.Order{}, err
	}

	log := s.Log.With(zap.String("order_id", orderID), zap.String("saree_id", saree.ID))
	log.Info("order admitted", zap.String("payment_method", string(o.PaymentMethod)), zap.Int64("amount_paise", o.AmountPaise))

	// The order is committed from here on; nothing below may fail the request.
	if err := s.Sessions.IncrementSessionCounters(ctx, sessionID, 1, o.AmountPaise); err != nil {
		log.Error("session counters not updated", zap.String("live_session_id", sessionID), zap.Error(err))
	}

	task := dispatch.NotifyTask(orderID, orders.MsgCODConfirmation, nil)
	if o.PaymentMethod.Online() {
		task = dispatch.PaymentLinkTask(orderID)
	}
	if err := s.Queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		log.Error("dispatch enqueue failed", zap.String("task", task.Type), zap.Error(err))
	}
	return o, nil
}

// GetOrder applies the lazy expiry check before returning the order.
func (s *Service) GetOrder(ctx context.Context, sellerID, orderID string) (orders.Order, error) {
	o, err := s.Ledger.GetOrder(ctx, sellerID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	return s.expireIfLapsed(ctx, o), nil
}

func (s *Service) ListOrders(ctx context.Context, sellerID string, status orders.OrderStatus) ([]orders.Order, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidRequest, status)
	}
	list, err := s.Ledger.ListOrders(ctx, sellerID, status)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, o := range list {
		o = s.expireIfLapsed(ctx, o)
		if status != "" && o.OrderStatus != status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// expireIfLapsed reports a lapsed pending order as expired. The ledger is
// only touched once the reservation is really gone.
func (s *Service) expireIfLapsed(ctx context.Context, o orders.Order) orders.Order {
	if !o.Lapsed(s.now()) {
		return o
	}
	expired, err := s.expire(ctx, o)
	if err != nil {
		s.Log.Warn("lazy expiry failed", zap.String("order_id", o.OrderID), zap.Error(err))
		return o
	}
	if expired {
		o.OrderStatus = orders.OrderExpired
	}
	return o
}

// expire moves a lapsed order to expired. Whoever wins the CAS (sweep or a
// reader) releases the saree and notifies the customer; everyone else gets
// false.
func (s *Service) expire(ctx context.Context, o orders.Order) (bool, error) {
	holder, held, err := s.Reservations.Peek(ctx, o.SareeID)
	if err != nil {
		return false, err
	}
	if held && holder == o.OrderID {
		return false, nil // extended in the store, ledger lagging
	}
	err = s.Ledger.TransitionOrder(ctx, o.OrderID, orders.OrderPending, orders.OrderExpired)
	if errors.Is(err, orders.ErrStaleTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := s.Log.With(zap.String("order_id", o.OrderID), zap.String("saree_id", o.SareeID))
	if err := s.Reservations.Release(ctx, o.SareeID, o.OrderID); err != nil {
		log.Error("release on expiry failed", zap.Error(err))
	}
	if err := s.Queue.Enqueue(context.WithoutCancel(ctx), dispatch.NotifyTask(o.OrderID, orders.MsgBookingExpired, nil)); err != nil {
		log.Error("dispatch enqueue failed", zap.String("task", orders.TaskNotify), zap.Error(err))
	}
	log.Info("order expired")
	return true, nil
}

// ExtendReservation gives a pending order one more window increment. The
// ledger slot is claimed before the store is touched and given back if the
// store refuses.
func (s *Service) ExtendReservation(ctx context.Context, sellerID, orderID string) (orders.Order, error) {
	o, err := s.Ledger.GetOrder(ctx, sellerID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if o.OrderStatus != orders.OrderPending {
		return orders.Order{}, fmt.Errorf("%w: order is %s", orders.ErrInvalidTransition, o.OrderStatus)
	}
	limit := s.MaxExtensions
	if limit <= 0 {
		limit = 1
	}
	if o.Extensions >= limit {
		return orders.Order{}, orders.ErrExtensionLimit
	}
	extra := s.Extension
	if extra <= 0 {
		extra = reservation.DefaultExtension
	}

	prev := o.ReservationExpiresAt
	expiresAt := prev.Add(extra)
	if err := s.Ledger.ExtendReservation(ctx, o.OrderID, expiresAt, limit); err != nil {
		return orders.Order{}, err
	}

	log := s.Log.With(zap.String("order_id", o.OrderID), zap.String("saree_id", o.SareeID))
	_, ok, err := s.Reservations.Extend(ctx, o.SareeID, o.OrderID, extra)
	if err == nil && !ok {
		err = fmt.Errorf("reservation for %s: %w", o.OrderID, orders.ErrNotFound)
	}
	if err != nil {
		if rerr := s.Ledger.RevertExtension(context.WithoutCancel(ctx), o.OrderID, prev); rerr != nil {
			log.Error("extension not reverted", zap.Error(rerr))
		}
		return orders.Order{}, err
	}

	o.Extensions++
	o.ReservationExpiresAt = expiresAt
	log.Info("reservation extended", zap.Time("expires_at", expiresAt))
	return o, nil
}

// UpdateOrderStatus is the seller's manual transition (confirm, dispatch, cancel).
func (s *Service) UpdateOrderStatus(ctx context.Context, sellerID, orderID string, to orders.OrderStatus, trackingID string) (orders.Order, error) {
	o, err := s.Ledger.GetOrder(ctx, sellerID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if to == orders.OrderExpired || !orders.CanTransition(o.OrderStatus, to) {
		return orders.Order{}, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.OrderStatus, to)
	}
	if to == orders.OrderCancelled && o.PaymentStatus == orders.PaymentCompleted {
		return orders.Order{}, fmt.Errorf("%w: paid orders cannot be cancelled", orders.ErrInvalidTransition)
	}
	if to == orders.OrderDispatched && strings.TrimSpace(trackingID) == "" {
		return orders.Order{}, fmt.Errorf("%w: tracking_id is required to dispatch", orders.ErrInvalidRequest)
	}
	if err := s.Ledger.TransitionOrder(ctx, o.OrderID, o.OrderStatus, to); err != nil {
		return orders.Order{}, err
	}
	o.OrderStatus = to
	log := s.Log.With(zap.String("order_id", o.OrderID), zap.String("order_status", string(to)))

	switch to {
	case orders.OrderCancelled:
		if err := s.Reservations.Release(ctx, o.SareeID, o.OrderID); err != nil {
			log.Error("release on cancel failed", zap.Error(err))
		}
	case orders.OrderDispatched:
		o.TrackingID = strings.TrimSpace(trackingID)
		if err := s.Ledger.SetTracking(ctx, o.OrderID, o.TrackingID); err != nil {
			log.Error("tracking id not stored", zap.Error(err))
		}
		task := dispatch.NotifyTask(o.OrderID, orders.MsgDispatchUpdate, map[string]string{dispatch.ParamTrackingID: o.TrackingID})
		if err := s.Queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
			log.Error("dispatch enqueue failed", zap.String("task", task.Type), zap.Error(err))
		}
	}
	log.Info("order status updated")
	return o, nil
}
