package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the wallet services report to.
type Recorder interface {
	IncRequest(method, outcome string)
	SetQueueLength(n int)
	IncUserOperation(chainID uint64, stage string)
	IncSimulation(status string)
	IncPriceRefresh(status string)
}

// User operation stages.
const (
	StagePrepared  = "prepared"
	StageSent      = "sent"
	StageConfirmed = "confirmed"
	StageFailed    = "failed"
)

const namespace = "batua"

// WalletMetrics contains instrumented metrics that should be incremented by the wallet services using the methods below
type WalletMetrics struct {
	requests       *prometheus.CounterVec
	queueLength    prometheus.Gauge
	userOperations *prometheus.CounterVec
	simulations    *prometheus.CounterVec
	priceRefreshes *prometheus.CounterVec
}

func NewWalletMetrics(reg prometheus.Registerer) *WalletMetrics {
	return &WalletMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "The number of provider requests by method and outcome (auto, queued, error)",
			}, []string{"method", "outcome"}),

		queueLength: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "request_queue_length",
				Help:      "The number of requests waiting for approval",
			}),

		userOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "user_operations_total",
				Help:      "The number of user operations by chain and stage",
			}, []string{"chain_id", "stage"}),

		simulations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulations_total",
				Help:      "The number of asset change simulations by status",
			}, []string{"status"}),

		priceRefreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_refresh_total",
				Help:      "The number of native price refreshes by status. If success isn't increasing, fiat estimates are stale",
			}, []string{"status"}),
	}
}

func (m *WalletMetrics) IncRequest(method, outcome string) {
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *WalletMetrics) SetQueueLength(n int) {
	m.queueLength.Set(float64(n))
}

func (m *WalletMetrics) IncUserOperation(chainID uint64, stage string) {
	m.userOperations.WithLabelValues(strconv.FormatUint(chainID, 10), stage).Inc()
}

func (m *WalletMetrics) IncSimulation(status string) {
	m.simulations.WithLabelValues(status).Inc()
}

func (m *WalletMetrics) IncPriceRefresh(status string) {
	m.priceRefreshes.WithLabelValues(status).Inc()
}

// Noop discards everything.
type Noop struct{}

func (Noop) IncRequest(string, string) {}
func (Noop) SetQueueLength(int) {}
func (Noop) IncUserOperation(uint64, string) {}
func (Noop) IncSimulation(string) {}
func (Noop) IncPriceRefresh(string) {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
