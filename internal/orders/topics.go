package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
	TopicOrderDeleted       = "order.deleted"
	TopicPaymentCreated     = "payment.created"
	TopicPaymentCompleted   = "payment.completed"
	TopicPaymentFailed      = "payment.failed"
)

// OrderTopics are the topics that carry an order status.
var OrderTopics = []string{TopicOrderCreated, TopicOrderStatusChanged, TopicOrderDeleted}

// Partition key = order/payment uuid, so every event of one aggregate stays ordered.
func PartitionKey(id string) []byte { return []byte(id) }
