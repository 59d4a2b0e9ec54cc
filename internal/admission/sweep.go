package admission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/dispatch"
	"github.com/ariefcatur/go-live-orders/internal/orders"
)

type SweepLedger interface {
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]orders.Order, error)
	ListDueReminders(ctx context.Context, now time.Time, window time.Duration, limit int) ([]orders.Order, error)
	MarkReminded(ctx context.Context, orderID string, at time.Time) (bool, error)
}

type PaymentLookup interface {
	GetPendingByOrder(ctx context.Context, orderID string) (orders.PaymentTransaction, error)
}

// Sweeper finalizes orders whose reservation lapsed without payment and sends
// one reminder shortly before the window closes. It is time-driven; no caller
// has to read an order for it to expire.
type Sweeper struct {
	Service        *Service
	Ledger         SweepLedger
	Payments       PaymentLookup
	Interval       time.Duration
	ReminderBefore time.Duration
	BatchSize      int
}

func (sw *Sweeper) Run(ctx context.Context) {
	interval := sw.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	log := sw.Service.Log
	log.Info("sweeper started", zap.Duration("interval", interval))
	for {
		if n, err := sw.SweepOnce(ctx); err != nil {
			log.Error("sweep failed", zap.Error(err))
		} else if n > 0 {
			log.Info("sweep expired orders", zap.Int("count", n))
		}
		if err := sw.RemindOnce(ctx); err != nil {
			log.Error("reminder pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return
		case <-t.C:
		}
	}
}

func (sw *Sweeper) batch() int {
	if sw.BatchSize > 0 {
		return sw.BatchSize
	}
	return 200
}

// SweepOnce expires every lapsed order it can see and returns how many it
// transitioned itself.
func (sw *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	lapsed, err := sw.Ledger.ListLapsed(ctx, sw.Service.now(), sw.batch())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range lapsed {
		ok, err := sw.Service.expire(ctx, o)
		if err != nil {
			sw.Service.Log.Error("expire order", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// RemindOnce sends the payment reminder to orders entering the last
// ReminderBefore of their window. Each order is reminded at most once.
func (sw *Sweeper) RemindOnce(ctx context.Context) error {
	if sw.ReminderBefore <= 0 {
		return nil
	}
	now := sw.Service.now()
	due, err := sw.Ledger.ListDueReminders(ctx, now, sw.ReminderBefore, sw.batch())
	if err != nil {
		return err
	}
	for _, o := range due {
		log := sw.Service.Log.With(zap.String("order_id", o.OrderID))
		tx, err := sw.Payments.GetPendingByOrder(ctx, o.OrderID)
		if err != nil {
			// No link yet, nothing to remind about.
			continue
		}
		claimed, err := sw.Ledger.MarkReminded(ctx, o.OrderID, now)
		if err != nil {
			log.Error("mark reminded", zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		task := dispatch.NotifyTask(o.OrderID, orders.MsgPaymentReminder, map[string]string{
			dispatch.ParamPaymentLink: tx.PaymentLink,
			dispatch.ParamMinutesLeft: dispatch.MinutesParam(o.ReservationExpiresAt.Sub(now)),
		})
		if err := sw.Service.Queue.Enqueue(ctx, task); err != nil {
			log.Error("dispatch enqueue failed", zap.String("task", task.Type), zap.Error(err))
		}
	}
	return nil
}
