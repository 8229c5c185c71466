package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// relay results
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Metrics holds the relayer collectors on a private registry
type Metrics struct {
	registry      *prometheus.Registry
	RelayRequests *prometheus.CounterVec
	Broadcasts    prometheus.Counter
	TxOutcomes    *prometheus.CounterVec
	QueueSize     prometheus.Gauge
	Balance       prometheus.Gauge
}

// New returns Metrics with every collector registered
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayer_relay_requests_total",
			Help: "Relay requests by result.",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayer_broadcasts_total",
			Help: "Forwarder transactions broadcast by the relayer account.",
		}),
		TxOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayer_tx_outcomes_total",
			Help: "Terminal transaction outcomes by status.",
		}, []string{"status"}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_queue_size",
			Help: "Submissions waiting for a relayer nonce.",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_balance_wei",
			Help: "Balance of the relayer account in wei.",
		}),
	}
	m.registry.MustRegister(m.RelayRequests, m.Broadcasts, m.TxOutcomes, m.QueueSize, m.Balance)
	return m
}

// ObserveRelay counts a relay request
func (m *Metrics) ObserveRelay(result string) {
	m.RelayRequests.WithLabelValues(result).Inc()
}

// ObserveOutcome counts a terminal outcome
func (m *Metrics) ObserveOutcome(status string) {
	m.TxOutcomes.WithLabelValues(status).Inc()
}

// SetBalance sets the balance gauge
func (m *Metrics) SetBalance(v *big.Int) {
	f, _ := new(big.Float).SetInt(v).Float64()
	m.Balance.Set(f)
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
