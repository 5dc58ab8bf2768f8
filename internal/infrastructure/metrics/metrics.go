package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 账本相关指标
// 每个实例持有独立的 Registry，测试之间互不干扰
type Metrics struct {
	registry *prometheus.Registry

	leadsSubmitted    prometheus.Counter
	leadsConverted    prometheus.Counter
	leadsRejected     prometheus.Counter
	transactionsPaid  *prometheus.CounterVec
	earnedDivergence  prometheus.Counter
	auditViolations   prometheus.Gauge
	outboxSendResults *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		leadsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leads_submitted_total",
			Help: "Number of leads accepted into the ledger",
		}),
		leadsConverted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leads_converted_total",
			Help: "Number of leads converted into transactions",
		}),
		leadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leads_rejected_total",
			Help: "Number of leads rejected by an administrator",
		}),
		transactionsPaid: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_paid_total",
				Help: "Number of transactions marked as paid",
			},
			[]string{"variant"}, // quick, proof
		),
		earnedDivergence: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earned_cache_divergence_total",
			Help: "Times the stored total_earned differed from the live paid total",
		}),
		auditViolations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_audit_violations",
			Help: "Violations found by the last ledger audit",
		}),
		outboxSendResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_send_total",
				Help: "Outbox relay attempts by result",
			},
			[]string{"result"}, // sent, retry, failed
		),
	}

	m.registry.MustRegister(
		m.leadsSubmitted,
		m.leadsConverted,
		m.leadsRejected,
		m.transactionsPaid,
		m.earnedDivergence,
		m.auditViolations,
		m.outboxSendResults,
	)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// 以下方法允许 nil 接收者，未启用指标时调用方无需判空

func (m *Metrics) LeadSubmitted() {
	if m != nil {
		m.leadsSubmitted.Inc()
	}
}

func (m *Metrics) LeadConverted() {
	if m != nil {
		m.leadsConverted.Inc()
	}
}

func (m *Metrics) LeadRejected() {
	if m != nil {
		m.leadsRejected.Inc()
	}
}

func (m *Metrics) TransactionPaid(variant string) {
	if m != nil {
		m.transactionsPaid.WithLabelValues(variant).Inc()
	}
}

func (m *Metrics) EarnedDivergence() {
	if m != nil {
		m.earnedDivergence.Inc()
	}
}

func (m *Metrics) SetAuditViolations(n int) {
	if m != nil {
		m.auditViolations.Set(float64(n))
	}
}

func (m *Metrics) OutboxResult(result string) {
	if m != nil {
		m.outboxSendResults.WithLabelValues(result).Inc()
	}
}
