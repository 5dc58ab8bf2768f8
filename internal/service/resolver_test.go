package service_test

import (
	"testing"
	"time"

	"leadledger/internal/model"
	"leadledger/internal/service"

	"github.com/stretchr/testify/assert"
)

func TestResolveStatus(t *testing.T) {
	now := time.Now()
	pendingTxn := &model.LeadTransaction{Status: model.TransactionStatusPending}
	paidTxn := &model.LeadTransaction{Status: model.TransactionStatusPaid, PaidAt: &now}

	tests := []struct {
		name  string
		lead  string
		trans *model.LeadTransaction
		want  model.EffectiveStatus
	}{
		{"pending without transaction", model.LeadStatusPending, nil, model.EffectivePending},
		{"rejected", model.LeadStatusRejected, nil, model.EffectiveRejected},
		{"converted unpaid", model.LeadStatusConverted, pendingTxn, model.EffectiveConvertedUnpaid},
		{"paid", model.LeadStatusConverted, paidTxn, model.EffectivePaid},
		{"stale pending with transaction", model.LeadStatusPending, pendingTxn, model.EffectiveConvertedUnpaid},
		{"stale pending with paid transaction", model.LeadStatusPending, paidTxn, model.EffectivePaid},
		{"converted without transaction", model.LeadStatusConverted, nil, model.EffectiveConvertedUnpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := service.ResolveStatus(&model.Lead{Status: tt.lead}, tt.trans)
			assert.Equal(t, tt.want, got)
		})
	}
}
