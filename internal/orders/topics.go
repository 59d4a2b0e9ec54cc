package orders

const TopicDispatch = "live.orders.dispatch"

// Partition key = order_id, so every task of one order is consumed in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
