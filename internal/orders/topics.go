package orders

const (
	TopicOrderCreated     = "order.created"
	TopicCheckoutRejected = "order.checkout.rejected"
	TopicPaymentAmbiguous = "order.payment.ambiguous"
	TopicOrderPaid        = "order.paid"
	TopicOrderFailed      = "order.failed"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// TopicFor maps an event type to the topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventCheckoutRejected:
		return TopicCheckoutRejected
	case EventPaymentAmbiguous:
		return TopicPaymentAmbiguous
	case EventOrderPaid:
		return TopicOrderPaid
	case EventOrderFailed:
		return TopicOrderFailed
	}
	return ""
}
