package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadledger/internal/model"
	"leadledger/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convertedTransaction(t *testing.T, f *fixture, amount string) (*model.Affiliate, int64) {
	t.Helper()
	a := f.affiliate(t, "user-1")
	leadID := f.submit(t, a.ReferralCode, "a@x.com")
	return a, f.convert(t, leadID, amount).TransactionID
}

func TestMarkPaid_Quick(t *testing.T) {
	f := newFixture(t)
	_, txnID := convertedTransaction(t, f, "1000")

	require.NoError(t, f.payments.MarkPaid(context.Background(), txnID, nil))

	trans := f.transaction(t, txnID)
	assert.True(t, trans.IsPaid())
	require.NotNil(t, trans.PaidAt)
	assert.Empty(t, trans.PaymentReferenceID)
	assert.Empty(t, trans.PaymentProofURL)
	assert.Equal(t, 1.0, f.metricValue(t, "transactions_paid_total"))
}

func TestMarkPaid_WithProof(t *testing.T) {
	f := newFixture(t)
	_, txnID := convertedTransaction(t, f, "1000")

	err := f.payments.MarkPaid(context.Background(), txnID, &service.PaymentProof{
		ReferenceID: "  UTR-42 ",
		ProofURL:    "https://cdn.example.com/proofs/42.png",
		Notes:       " bank transfer ",
	})
	require.NoError(t, err)

	trans := f.transaction(t, txnID)
	assert.Equal(t, "UTR-42", trans.PaymentReferenceID)
	assert.Equal(t, "https://cdn.example.com/proofs/42.png", trans.PaymentProofURL)
	assert.Equal(t, "bank transfer", trans.PaymentNotes)
}

func TestMarkPaid_InvalidProofHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	_, txnID := convertedTransaction(t, f, "1000")

	tests := []struct {
		name  string
		proof service.PaymentProof
		field string
	}{
		{"empty reference", service.PaymentProof{ReferenceID: "  ", ProofURL: "https://example.com/p.png"}, "reference_id"},
		{"not a url", service.PaymentProof{ReferenceID: "R", ProofURL: "not a url"}, "proof_url"},
		{"ftp scheme", service.PaymentProof{ReferenceID: "R", ProofURL: "ftp://example.com/p.png"}, "proof_url"},
		{"host without dot", service.PaymentProof{ReferenceID: "R", ProofURL: "https://localhost/p.png"}, "proof_url"},
		{"empty url", service.PaymentProof{ReferenceID: "R"}, "proof_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof := tt.proof
			err := f.payments.MarkPaid(context.Background(), txnID, &proof)

			var verr *service.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	trans := f.transaction(t, txnID)
	assert.Equal(t, model.TransactionStatusPending, trans.Status)
	assert.Nil(t, trans.PaidAt)
}

func TestMarkPaid_AcceptsURLWithoutPath(t *testing.T) {
	f := newFixture(t)
	_, txnID := convertedTransaction(t, f, "1000")

	err := f.payments.MarkPaid(context.Background(), txnID, &service.PaymentProof{ReferenceID: "R", ProofURL: "http://example.com"})
	assert.NoError(t, err)
}

func TestMarkPaid_TwiceConflicts(t *testing.T) {
	f := newFixture(t)
	_, txnID := convertedTransaction(t, f, "1000")
	ctx := context.Background()

	require.NoError(t, f.payments.MarkPaid(ctx, txnID, nil))
	firstPaidAt := *f.transaction(t, txnID).PaidAt

	err := f.payments.MarkPaid(ctx, txnID, &service.PaymentProof{ReferenceID: "R", ProofURL: "https://example.com/p"})
	assert.True(t, service.IsConflict(err))

	trans := f.transaction(t, txnID)
	assert.True(t, trans.PaidAt.Equal(firstPaidAt))
	assert.Empty(t, trans.PaymentReferenceID)
	assert.Len(t, f.events(t, model.EventTransactionPaid), 1)
}

func TestMarkPaid_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.payments.MarkPaid(context.Background(), 77, nil)
	var nerr *service.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "transaction", nerr.Entity)
}

func TestMarkPaid_ClockSkewClampsToCreatedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, withClock(func() time.Time { return now }))
	_, txnID := convertedTransaction(t, f, "1000")

	// 支付节点时钟落后一小时
	now = now.Add(-time.Hour)
	require.NoError(t, f.payments.MarkPaid(context.Background(), txnID, nil))

	trans := f.transaction(t, txnID)
	require.NotNil(t, trans.PaidAt)
	assert.True(t, trans.PaidAt.Equal(trans.CreatedAt), "paid_at %s created_at %s", trans.PaidAt, trans.CreatedAt)
}

func TestMarkPaid_DoesNotTouchCounters(t *testing.T) {
	f := newFixture(t)
	a, txnID := convertedTransaction(t, f, "1000")
	before := f.reload(t, a.ID)

	require.NoError(t, f.payments.MarkPaid(context.Background(), txnID, nil))

	after := f.reload(t, a.ID)
	assert.Equal(t, before.TotalLeads, after.TotalLeads)
	assert.Equal(t, before.ConversionCount, after.ConversionCount)
	assert.True(t, before.TotalEarned.Equal(after.TotalEarned))
}

func TestMarkPaid_CrashRollsBack(t *testing.T) {
	f := newFixture(t)
	_, txnID := convertedTransaction(t, f, "1000")
	crash := errors.New("simulated crash")
	failOnCreate(t, f.db, "outbox_message", crash)

	err := f.payments.MarkPaid(context.Background(), txnID, nil)
	require.ErrorIs(t, err, crash)

	trans := f.transaction(t, txnID)
	assert.Equal(t, model.TransactionStatusPending, trans.Status)
	assert.Nil(t, trans.PaidAt)
}
