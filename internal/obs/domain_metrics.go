package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// WalletIntentTotal counts payment intent creation attempts by purpose and result.
	WalletIntentTotal *prometheus.CounterVec
	// WalletWebhookTotal counts inbound processor webhook outcomes by event type.
	WalletWebhookTotal *prometheus.CounterVec
	// EntitlementIssuedTotal counts entitlements issued by purpose.
	EntitlementIssuedTotal *prometheus.CounterVec
	// AmountMismatchTotal counts fulfillments refused because the charged amount no longer matched.
	AmountMismatchTotal *prometheus.CounterVec
	// ReconcileReplayedTotal counts ledger entries replayed by the reconciliation sweep.
	ReconcileReplayedTotal prometheus.Counter
	// ReconcileStuck reports how many ledger entries the last sweep found unprocessed.
	ReconcileStuck prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		WalletIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"purpose", "result"})
		WalletWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_webhook_total",
			Help:      "Count of processed payment webhooks by event type and outcome.",
		}, []string{"type", "result"})
		EntitlementIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_issued_total",
			Help:      "Count of entitlements issued after confirmed payment.",
		}, []string{"purpose"})
		AmountMismatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_mismatch_total",
			Help:      "Count of fulfillments refused because of an amount mismatch.",
		}, []string{"purpose"})
		ReconcileReplayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_replayed_total",
			Help:      "Total number of stuck ledger entries replayed by the sweep.",
		})
		ReconcileStuck = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_stuck_events",
			Help:      "Unprocessed ledger entries observed by the last reconciliation sweep.",
		})

		mustRegisterCollector(reg, WalletIntentTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WalletIntentTotal = v
			}
		})
		mustRegisterCollector(reg, WalletWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WalletWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, EntitlementIssuedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				EntitlementIssuedTotal = v
			}
		})
		mustRegisterCollector(reg, AmountMismatchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				AmountMismatchTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileReplayedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReconcileReplayedTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileStuck, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ReconcileStuck = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
