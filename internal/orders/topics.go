package orders

const (
	TopicPaymentConfirmed   = "payment.confirmed"
	TopicOrderStatusChanged = "order.status.changed"
)

// Partition key = order_id so every event of one order stays ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
