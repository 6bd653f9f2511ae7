package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentInitiationTotal counts initiation outcomes per provider.
	PaymentInitiationTotal *prometheus.CounterVec
	// PaymentVerificationTotal counts callback verification outcomes per provider.
	PaymentVerificationTotal *prometheus.CounterVec
	// PaymentRemoteDuration records checkout API latency in milliseconds.
	PaymentRemoteDuration *prometheus.HistogramVec
	// PaymentReplayRejected counts callbacks refused because their reference was already consumed.
	PaymentReplayRejected *prometheus.CounterVec
	// SubscriptionExtensions counts subscription periods granted after a verified payment.
	SubscriptionExtensions *prometheus.CounterVec
	// EventDeliveriesTotal tracks payment event dispatch outcomes.
	EventDeliveriesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentInitiationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initiation_total",
			Help:      "Count of payment initiation outcomes.",
		}, []string{"provider", "result"})
		PaymentVerificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verification_total",
			Help:      "Count of payment callback verification outcomes.",
		}, []string{"provider", "result"})
		PaymentRemoteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_remote_duration_ms",
			Help:      "Latency of calls to the hosted checkout API in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "outcome"})
		PaymentReplayRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_replay_rejected_total",
			Help:      "Callbacks rejected because the payment reference was already consumed.",
		}, []string{"provider"})
		SubscriptionExtensions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_extensions_total",
			Help:      "Subscription periods granted after verified payments.",
		}, []string{"provider", "market"})
		EventDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_event_deliveries_total",
			Help:      "Count of payment event dispatch outcomes.",
		}, []string{"topic", "result"})

		PaymentInitiationTotal = registerOrReuse(reg, PaymentInitiationTotal)
		PaymentVerificationTotal = registerOrReuse(reg, PaymentVerificationTotal)
		PaymentReplayRejected = registerOrReuse(reg, PaymentReplayRejected)
		SubscriptionExtensions = registerOrReuse(reg, SubscriptionExtensions)
		EventDeliveriesTotal = registerOrReuse(reg, EventDeliveriesTotal)
		PaymentRemoteDuration = registerOrReuse(reg, PaymentRemoteDuration)
	})
}
