package events

// Topic constants for payment events.
const (
	TopicPaymentInitiated  = "payment.initiated"
	TopicPaymentSucceeded  = "payment.succeeded"
	TopicPaymentFailed     = "payment.failed"
	TopicSubscriptionRenew = "subscription.extended"
)

// DefaultTopics returns the topics forwarded to the notification dispatcher.
func DefaultTopics() []string {
	return []string{
		TopicPaymentSucceeded,
		TopicPaymentFailed,
		TopicSubscriptionRenew,
	}
}

// Forwarded reports whether the topic leaves the process.
func Forwarded(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
