package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/orders"
	"github.com/ariefcatur/go-live-orders/internal/payment"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *capturePublisher) Publish(_ context.Context, key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers, Offset: int64(len(p.msgs))})
	return nil
}

type fakeOrders struct{ byID map[string]orders.Order }

func (f *fakeOrders) GetOrderByOrderID(_ context.Context, id string) (orders.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

type fakePayments struct {
	mu  sync.Mutex
	txs []orders.PaymentTransaction
}

func (f *fakePayments) GetPendingByOrder(_ context.Context, id string) (orders.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txs {
		if t.OrderID == id && t.Status == orders.PaymentPending {
			return t, nil
		}
	}
	return orders.PaymentTransaction{}, orders.ErrNotFound
}

func (f *fakePayments) InsertTransaction(_ context.Context, t orders.PaymentTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, t)
	return nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []orders.NotificationEvent
}

func (f *fakeAudit) Append(_ context.Context, ev orders.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type fakeGateway struct {
	calls  int
	err    error
	last   payment.LinkRequest
	during func() // runs inside the call
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (payment.Link, error) {
	g.calls++
	g.last = req
	if g.during != nil {
		g.during()
		g.during = nil
	}
	if ctx.Err() != nil {
		return payment.Link{}, ctx.Err()
	}
	if g.err != nil {
		return payment.Link{}, g.err
	}
	return payment.Link{URL: "https://rzp.io/i/" + req.OrderID, ExternalRef: "plink_" + req.OrderID, Gateway: payment.GatewayRazorpay}, nil
}

type fakeSender struct {
	sent   []string
	err    error
	during func()
}

func (s *fakeSender) SendText(ctx context.Context, phone, msg string) error {
	if s.during != nil {
		s.during()
		s.during = nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) SendTemplate(context.Context, string, string, []string) error { return nil }

type workerFixture struct {
	mr       *miniredis.Miniredis
	w        *Worker
	queue    *KafkaQueue
	pub      *capturePublisher
	gateway  *fakeGateway
	sender   *fakeSender
	payments *fakePayments
	audit    *fakeAudit
}

func newWorkerFixture(t *testing.T) *workerFixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	f := &workerFixture{
		mr:       mr,
		pub:      &capturePublisher{},
		gateway:  &fakeGateway{},
		sender:   &fakeSender{},
		payments: &fakePayments{},
		audit:    &fakeAudit{},
	}
	f.queue = &KafkaQueue{Producer: f.pub, ServiceName: "live-orders-api"}
	f.w = &Worker{
		Orders: &fakeOrders{byID: map[string]orders.Order{
			"ORD-20250101-ABCD1234": {
				OrderID: "ORD-20250101-ABCD1234", SareeCode: "SAR-001", CustomerName: "Asha",
				PhoneNumber: "98765 43210", PaymentMethod: orders.MethodUPI, PaymentStatus: orders.PaymentPending,
				OrderStatus: orders.OrderPending, AmountPaise: 250000, ReservationExpiresAt: now.Add(15 * time.Minute),
			},
		}},
		Payments:       f.payments,
		Notifications:  f.audit,
		Gateway:        f.gateway,
		Sender:         f.sender,
		Redis:          rdb,
		Log:            zap.NewNop(),
		ServiceName:    "live-orders-worker",
		ReservationTTL: 15 * time.Minute,
		Now:            func() time.Time { return now },
	}
	return f
}

// enqueue pushes a task through KafkaQueue and returns the published message.
func (f *workerFixture) enqueue(t *testing.T, task Task) kafkago.Message {
	t.Helper()
	if err := f.queue.Enqueue(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return f.pub.msgs[len(f.pub.msgs)-1]
}

func TestKafkaQueue_Envelope(t *testing.T) {
	f := newWorkerFixture(t)
	m := f.enqueue(t, PaymentLinkTask("ORD-20250101-ABCD1234"))

	if string(m.Key) != "ORD-20250101-ABCD1234" {
		t.Errorf("expected order id as partition key, got %q", m.Key)
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		t.Fatal(err)
	}
	if env.EventID == "" || env.EventType != orders.TaskPaymentLink || env.CorrelationID != "ORD-20250101-ABCD1234" {
		t.Errorf("unexpected envelope %+v", env)
	}
	if len(m.Headers) != 2 || string(m.Headers[0].Value) != orders.TaskPaymentLink {
		t.Errorf("unexpected headers %+v", m.Headers)
	}
}

func TestWorker_PaymentLinkIssuedOnce(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	m := f.enqueue(t, PaymentLinkTask("ORD-20250101-ABCD1234"))

	// Redelivery of the same message and a second task for the same order.
	for _, msg := range []kafkago.Message{m, m, f.enqueue(t, PaymentLinkTask("ORD-20250101-ABCD1234"))} {
		if err := f.w.Handle(ctx, msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if f.gateway.calls != 1 {
		t.Errorf("expected one gateway call, got %d", f.gateway.calls)
	}
	if f.gateway.last.CustomerPhone != "919876543210" || f.gateway.last.TTL != 15*time.Minute {
		t.Errorf("unexpected link request %+v", f.gateway.last)
	}
	if len(f.payments.txs) != 1 || f.payments.txs[0].ExternalRef != "plink_ORD-20250101-ABCD1234" {
		t.Fatalf("expected one pending transaction, got %+v", f.payments.txs)
	}
	if len(f.sender.sent) != 1 || !strings.Contains(f.sender.sent[0], "https://rzp.io/i/ORD-20250101-ABCD1234") {
		t.Errorf("expected interest message with link, got %v", f.sender.sent)
	}
	if len(f.audit.events) != 1 || f.audit.events[0].MessageType != orders.MsgOrderInterest {
		t.Errorf("unexpected audit %+v", f.audit.events)
	}
}

func TestWorker_GatewayDownNotifiesDelay(t *testing.T) {
	f := newWorkerFixture(t)
	f.gateway.err = orders.ErrGatewayUnavailable

	if err := f.w.Handle(context.Background(), f.enqueue(t, PaymentLinkTask("ORD-20250101-ABCD1234"))); err != nil {
		t.Fatalf("gateway failure must not redeliver, got %v", err)
	}
	if len(f.payments.txs) != 0 {
		t.Error("expected no transaction")
	}
	if len(f.audit.events) != 1 || f.audit.events[0].MessageType != orders.MsgPaymentDelayed {
		t.Errorf("expected payment_delayed notification, got %+v", f.audit.events)
	}
}

func TestWorker_ShutdownDuringGatewayCallIsRedelivered(t *testing.T) {
	f := newWorkerFixture(t)
	m := f.enqueue(t, PaymentLinkTask("ORD-20250101-ABCD1234"))

	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.during = cancel
	if err := f.w.Handle(ctx, m); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected interrupted task to fail, got %v", err)
	}
	if len(f.audit.events) != 0 || len(f.payments.txs) != 0 {
		t.Fatalf("interrupted task must leave nothing behind, got %+v %+v", f.audit.events, f.payments.txs)
	}

	// After restart the same message is delivered again.
	if err := f.w.Handle(context.Background(), m); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if f.gateway.calls != 2 || len(f.payments.txs) != 1 {
		t.Errorf("expected the link to be issued on redelivery, calls=%d txs=%d", f.gateway.calls, len(f.payments.txs))
	}
	if len(f.audit.events) != 1 || f.audit.events[0].MessageType != orders.MsgOrderInterest {
		t.Errorf("expected only the interest message, got %+v", f.audit.events)
	}
}

func TestWorker_ShutdownDuringSendIsRedelivered(t *testing.T) {
	f := newWorkerFixture(t)
	m := f.enqueue(t, NotifyTask("ORD-20250101-ABCD1234", orders.MsgBookingExpired, nil))

	ctx, cancel := context.WithCancel(context.Background())
	f.sender.during = cancel
	if err := f.w.Handle(ctx, m); err == nil {
		t.Fatal("expected interrupted send to fail")
	}
	if len(f.audit.events) != 0 {
		t.Fatalf("interrupted send must not be audited as failed, got %+v", f.audit.events)
	}

	if err := f.w.Handle(context.Background(), m); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(f.sender.sent) != 1 || len(f.audit.events) != 1 || f.audit.events[0].DeliveryStatus != orders.DeliverySent {
		t.Errorf("expected one delivered message, sent=%d audit=%+v", len(f.sender.sent), f.audit.events)
	}
}

func TestWorker_TaskClaimedElsewhereIsRetried(t *testing.T) {
	f := newWorkerFixture(t)
	m := f.enqueue(t, NotifyTask("ORD-20250101-ABCD1234", orders.MsgBookingExpired, nil))

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		t.Fatal(err)
	}
	key := "dedup:live-orders-worker:" + env.EventID
	f.mr.Set(key, "processing")
	f.mr.SetTTL(key, 2*time.Minute)

	if err := f.w.Handle(context.Background(), m); err == nil {
		t.Fatal("expected a task still in progress to be retried")
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("expected nothing sent while claimed")
	}

	// The stale claim lapses and the retry goes through.
	f.mr.FastForward(2*time.Minute + time.Second)
	if err := f.w.Handle(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("expected one message, got %d", len(f.sender.sent))
	}
	if v, _ := f.mr.Get(key); v != "done" {
		t.Errorf("expected dedup key marked done, got %q", v)
	}
}

func TestWorker_SendFailureIsAudited(t *testing.T) {
	f := newWorkerFixture(t)
	f.sender.err = errors.New("gupshup 502")

	m := f.enqueue(t, NotifyTask("ORD-20250101-ABCD1234", orders.MsgBookingExpired, nil))
	if err := f.w.Handle(context.Background(), m); err != nil {
		t.Fatalf("send failure must not redeliver, got %v", err)
	}
	if len(f.audit.events) != 1 {
		t.Fatalf("expected one audit row, got %d", len(f.audit.events))
	}
	ev := f.audit.events[0]
	if ev.DeliveryStatus != orders.DeliveryFailed || ev.Error == "" || ev.Phone != "919876543210" {
		t.Errorf("unexpected audit row %+v", ev)
	}
}

func TestWorker_SkipsSettledOrders(t *testing.T) {
	f := newWorkerFixture(t)
	o := f.w.Orders.(*fakeOrders).byID["ORD-20250101-ABCD1234"]
	o.OrderStatus = orders.OrderExpired
	f.w.Orders.(*fakeOrders).byID[o.OrderID] = o

	if err := f.w.Handle(context.Background(), f.enqueue(t, PaymentLinkTask(o.OrderID))); err != nil {
		t.Fatal(err)
	}
	if f.gateway.calls != 0 {
		t.Error("expected no payment link for an expired order")
	}
}

func TestWorker_UnknownOrderAndGarbage(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	if err := f.w.Handle(ctx, kafkago.Message{Value: []byte("{oops")}); err != nil {
		t.Errorf("undecodable messages are dropped, got %v", err)
	}
	if err := f.w.Handle(ctx, f.enqueue(t, NotifyTask("ORD-20250101-NOPE0000", orders.MsgDispatchUpdate, nil))); err != nil {
		t.Errorf("unknown order is not redelivered, got %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Error("expected nothing sent")
	}
}

func TestMinutesParam(t *testing.T) {
	cases := map[time.Duration]string{
		4*time.Minute + 50*time.Second: "5",
		10 * time.Second:               "1",
		-time.Minute:                   "1",
		15 * time.Minute:               "15",
	}
	for in, want := range cases {
		if got := MinutesParam(in); got != want {
			t.Errorf("MinutesParam(%s) = %s, want %s", in, got, want)
		}
	}
}
