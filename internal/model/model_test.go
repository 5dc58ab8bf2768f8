package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{LeadStatusPending, LeadStatusConverted, true},
		{LeadStatusPending, LeadStatusRejected, true},
		{LeadStatusPending, LeadStatusPending, false},
		{LeadStatusConverted, LeadStatusRejected, false},
		{LeadStatusConverted, LeadStatusPending, false},
		{LeadStatusRejected, LeadStatusConverted, false},
		{"Unknown", LeadStatusConverted, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestEffectiveStatusValid(t *testing.T) {
	for _, s := range []EffectiveStatus{EffectivePending, EffectiveConvertedUnpaid, EffectivePaid, EffectiveRejected} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, EffectiveStatus("Converted").Valid())
	assert.False(t, EffectiveStatus("").Valid())
}

func TestRoles(t *testing.T) {
	assert.True(t, (&Affiliate{Role: RoleAdmin}).IsAdmin())
	assert.False(t, (&Affiliate{Role: RoleAffiliate}).IsAdmin())
	assert.True(t, (&LeadTransaction{Status: TransactionStatusPaid}).IsPaid())
}
