package specialist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguardian/internal/capability"
	"github.com/orderguardian/internal/router"
)

type fakeCompleter struct {
	text string
	err  error
	req  capability.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req capability.CompletionRequest) (capability.Completion, error) {
	f.req = req
	return capability.Completion{Text: f.text}, f.err
}

func refundRequest(t *testing.T, message string, values map[string]any) Request {
	return Request{
		Message: message,
		Params:  router.ResolutionParams{ResolutionType: "refund", Urgency: "medium"},
		Context: newContext(t, values),
		Now:     now,
	}
}

func TestResolutionRefunds(t *testing.T) {
	tests := []struct {
		name    string
		orderID string
		message string
		values  map[string]any
		amount  float64
		kind    string
	}{
		{name: "changed mind keeps shipping", orderID: "ORD123", message: "I want a refund", amount: 40, kind: "full_refund"},
		{name: "defective refunds shipping", orderID: "ORD123", message: "it arrived broken", amount: 45, kind: "full_refund"},
		{name: "missing parts is partial", orderID: "ORD123", message: "the belt is missing", amount: 22.5, kind: "partial_refund"},
		{name: "reason from context", orderID: "ORD123", message: "refund please", values: map[string]any{"refund_reason": ReasonWrongItem}, amount: 45, kind: "full_refund"},
		{name: "store credit bonus", orderID: "ORD123", message: "refund please", values: map[string]any{"refund_method": "store_credit"}, amount: 44, kind: "full_refund"},
	}
	r := NewResolution(RefundPolicy{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Handle(context.Background(), sampleOrder(t, tt.orderID), refundRequest(t, tt.message, tt.values))
			require.NoError(t, err)

			assert.True(t, out.Success)
			assert.True(t, out.Terminal)
			assert.Equal(t, router.SignalRefundProcessed, out.Signal)
			assert.InDelta(t, tt.amount, out.Details["refund_amount"], 0.001)
			assert.Equal(t, tt.kind, out.Details["refund_type"])
			assert.Regexp(t, `^REF20260510[0-9A-F]{6}$`, out.Details["reference_number"])
		})
	}
}

func TestResolutionOverLimitNeedsApproval(t *testing.T) {
	r := NewResolution(RefundPolicy{}, nil)
	out, err := r.Handle(context.Background(), sampleOrder(t, "ORD456"), refundRequest(t, "I changed my mind", nil))
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.False(t, out.Terminal)
	assert.Equal(t, "approval_pending", out.Signal)
	assert.Equal(t, 129.0, out.Details["refund_amount"])
	assert.Equal(t, true, out.Context["requires_approval"])

	pending, err := r.Handle(context.Background(), sampleOrder(t, "ORD456"), refundRequest(t, "any news?", map[string]any{"requires_approval": true}))
	require.NoError(t, err)
	assert.Equal(t, "approval_pending", pending.Details["action"])
	assert.Contains(t, pending.Message, "still with a manager")
}

func TestResolutionRejections(t *testing.T) {
	r := NewResolution(RefundPolicy{}, nil)

	// ORD789 was ordered 40 days ago.
	out, err := r.Handle(context.Background(), sampleOrder(t, "ORD789"), refundRequest(t, "I changed my mind", nil))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "refund_window_expired", out.Details["reason"])
	assert.Contains(t, out.Message, "$97.90 in store credit")

	finalSale := sampleOrder(t, "ORD456")
	finalSale.Category = "Final Sale"
	out, err = r.Handle(context.Background(), finalSale, refundRequest(t, "I changed my mind", nil))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "Final sale items are non-refundable", out.Details["reason"])

	cancelled := sampleOrder(t, "ORD123")
	cancelled.Status = "cancelled"
	out, err = r.Handle(context.Background(), cancelled, refundRequest(t, "refund", nil))
	require.NoError(t, err)
	assert.Equal(t, "order_cancelled", out.Details["reason"])
}

func TestResolutionDefectOverridesWindowAndCategory(t *testing.T) {
	r := NewResolution(RefundPolicy{}, nil)
	out, err := r.Handle(context.Background(), sampleOrder(t, "ORD789"), refundRequest(t, "the zipper is defective", nil))
	require.NoError(t, err)

	// 89.00 full refund including shipping is above the auto-approve limit.
	assert.Equal(t, "approval_pending", out.Signal)
	assert.Equal(t, 89.0, out.Details["refund_amount"])
}

func TestResolutionOutOfStockTrigger(t *testing.T) {
	r := NewResolution(RefundPolicy{}, nil)
	out, err := r.Handle(context.Background(), sampleOrder(t, "ORD123"), Request{Trigger: router.SignalOutOfStock, Context: newContext(t, nil), Now: now})
	require.NoError(t, err)
	assert.Equal(t, ReasonOutOfStock, out.Details["reason"])
	assert.Equal(t, 45.0, out.Details["refund_amount"])
}

func TestResolutionCompensation(t *testing.T) {
	r := NewResolution(RefundPolicy{}, nil)

	out, err := r.Handle(context.Background(), Order{}, Request{Trigger: router.SignalDelayDetected, Context: newContext(t, nil)})
	require.NoError(t, err)
	assert.True(t, out.Terminal)
	assert.Equal(t, "shipping_refund_and_discount", out.Details["compensation_type"])
	assert.Equal(t, router.SignalCompleted, out.Signal)

	out, err = r.Handle(context.Background(), Order{}, Request{
		Trigger: router.SignalDefectConfirmed,
		Context: newContext(t, map[string]any{"defect_severity": "major"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "replacement_and_compensation", out.Details["compensation_type"])
	assert.Equal(t, "high", out.Details["severity"])

	out, err = r.Handle(context.Background(), Order{}, Request{
		Trigger: router.SignalDefectConfirmed,
		Context: newContext(t, map[string]any{"defect_severity": "minor"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "partial_refund", out.Details["compensation_type"])
}

func TestResolutionMissingOrder(t *testing.T) {
	out, err := NewResolution(RefundPolicy{}, nil).Handle(context.Background(), Order{}, refundRequest(t, "refund", nil))
	require.NoError(t, err)
	assert.Equal(t, askOrderNumber, out.Message)
	assert.False(t, out.Success)
}

func TestResolutionPolicyQuestion(t *testing.T) {
	req := Request{
		Message: "How long do I have to return things?",
		Params:  router.ResolutionParams{ResolutionType: "policy_question"},
		Context: newContext(t, nil),
	}

	out, err := NewResolution(RefundPolicy{}, nil).Handle(context.Background(), Order{}, req)
	require.NoError(t, err)
	assert.Contains(t, out.Message, "within 30 days")

	c := &fakeCompleter{text: "You have 30 days from purchase."}
	out, err = NewResolution(RefundPolicy{}, c).Handle(context.Background(), Order{}, req)
	require.NoError(t, err)
	assert.Equal(t, "You have 30 days from purchase.", out.Message)
	assert.Contains(t, c.req.UserPrompt, req.Message)

	c = &fakeCompleter{err: errors.New("timeout")}
	out, err = NewResolution(RefundPolicy{}, c).Handle(context.Background(), Order{}, req)
	require.NoError(t, err)
	assert.Contains(t, out.Message, "within 30 days")
}

func TestResolutionStoreCreditBonus(t *testing.T) {
	out, err := NewResolution(RefundPolicy{}, nil).Handle(context.Background(), sampleOrder(t, "ORD789"), refundRequest(t, "I changed my mind", nil))
	require.NoError(t, err)
	assert.Contains(t, out.Message, "includes a 10% bonus")

	zero := 0.0
	out, err = NewResolution(RefundPolicy{StoreCreditBonus: &zero}, nil).Handle(context.Background(), sampleOrder(t, "ORD789"), refundRequest(t, "I changed my mind", nil))
	require.NoError(t, err)
	assert.Contains(t, out.Message, "$89.00 in store credit")
}
