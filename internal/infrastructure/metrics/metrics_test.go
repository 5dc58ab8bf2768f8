package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.LeadSubmitted()
	m.LeadSubmitted()
	m.LeadConverted()
	m.TransactionPaid("proof")
	m.TransactionPaid("quick")
	m.TransactionPaid("proof")
	m.SetAuditViolations(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.leadsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leadsConverted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsPaid.WithLabelValues("proof")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.auditViolations))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LeadSubmitted()
		m.TransactionPaid("quick")
		m.EarnedDivergence()
		m.OutboxResult("sent")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.LeadRejected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "leads_rejected_total 1")
}
