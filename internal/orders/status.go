package orders

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderDispatched OrderStatus = "dispatched"
	OrderCancelled  OrderStatus = "cancelled"
	OrderExpired    OrderStatus = "expired"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentMethod string

const (
	MethodUPI  PaymentMethod = "upi"
	MethodCard PaymentMethod = "card"
	MethodCOD  PaymentMethod = "cod"
)

// Online reports whether the method settles through a payment link.
func (m PaymentMethod) Online() bool { return m == MethodUPI || m == MethodCard }

func (m PaymentMethod) Valid() bool { return m.Online() || m == MethodCOD }

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:    {OrderConfirmed: true, OrderCancelled: true, OrderExpired: true},
	OrderConfirmed:  {OrderDispatched: true, OrderCancelled: true},
	OrderDispatched: {},
	OrderCancelled:  {},
	OrderExpired:    {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal statuses never move again.
func (s OrderStatus) Terminal() bool {
	return len(validNext[s]) == 0
}
