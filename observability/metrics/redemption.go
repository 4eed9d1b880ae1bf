package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RedemptionMetrics instruments the pool engine's public operations.
type RedemptionMetrics struct {
	operations  *prometheus.CounterVec
	funding     prometheus.Gauge
	commitments prometheus.Gauge
	drawn       prometheus.Gauge
}

var (
	redemptionOnce     sync.Once
	redemptionRegistry *RedemptionMetrics
)

// Redemption returns the process-wide redemption metrics, registering them on
// first use.
func Redemption() *RedemptionMetrics {
	redemptionOnce.Do(func() {
		redemptionRegistry = &RedemptionMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redemption_operations_total",
				Help: "Count of pool operations by name and result.",
			}, []string{"op", "result"}),
			funding: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "redemption_total_funding",
				Help: "Cumulative funding received by the pool, in base units.",
			}),
			commitments: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "redemption_total_commitments",
				Help: "Currently staked token count.",
			}),
			drawn: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "redemption_was_drawn",
				Help: "1 once the leftover sweep has run.",
			}),
		}
		prometheus.MustRegister(
			redemptionRegistry.operations,
			redemptionRegistry.funding,
			redemptionRegistry.commitments,
			redemptionRegistry.drawn,
		)
	})
	return redemptionRegistry
}

// ObserveOperation records the outcome of one pool operation.
func (m *RedemptionMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// SetPoolGauges publishes the current pool totals.
func (m *RedemptionMetrics) SetPoolGauges(funding float64, commitments uint64, drawn bool) {
	if m == nil {
		return
	}
	m.funding.Set(funding)
	m.commitments.Set(float64(commitments))
	if drawn {
		m.drawn.Set(1)
	} else {
		m.drawn.Set(0)
	}
}
