package controller

import (
	"encoding/json"
	"testing"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/cassiomorais/pos-payments/internal/domain/gateway"
	"github.com/cassiomorais/pos-payments/internal/domain/payment"
	"github.com/cassiomorais/pos-payments/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCents(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"whole", "10", 1000, false},
		{"two places", "10.50", 1050, false},
		{"one place", "0.1", 10, false},
		{"smallest unit", "0.01", 1, false},
		{"zero", "0", 0, false},
		{"sub-cent", "10.005", 0, true},
		{"negative", "-1.00", 0, true},
		{"too large", "10000000000.01", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toCents("amount", decimal.RequireFromString(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitPaymentRequest_AcceptsNumbersAndStrings(t *testing.T) {
	var req SubmitPaymentRequest
	require.NoError(t, json.Unmarshal([]byte(
		`{"order_id":"o-1","amount":"25.99","tip_amount":1.5,"method":"CARD","gateway":"stripe"}`), &req))

	intent, err := req.Intent("key-1")
	require.NoError(t, err)

	assert.Equal(t, payment.Amount{ValueCents: 2599, Currency: "GBP"}, intent.Amount)
	assert.Equal(t, int64(150), intent.TipCents)
	assert.Equal(t, payment.MethodCard, intent.Method)
	assert.Equal(t, gateway.Stripe, intent.Gateway)
	assert.Equal(t, gateway.ChannelTerminal, intent.Channel)
	assert.Equal(t, "key-1", intent.IdempotencyKey)
}

func TestSubmitPaymentRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		req   SubmitPaymentRequest
		field string
	}{
		{"sub-cent amount", SubmitPaymentRequest{OrderID: "o", Amount: decimal.RequireFromString("1.001"), Method: "cash"}, "amount"},
		{"negative tip", SubmitPaymentRequest{OrderID: "o", Amount: decimal.NewFromInt(1), Method: "cash", TipAmount: decimalPtr("-1")}, "tip_amount"},
		{"unknown method", SubmitPaymentRequest{OrderID: "o", Amount: decimal.NewFromInt(1), Method: "cheque"}, "method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Intent("")
			var ve *domainErrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestFromPayment(t *testing.T) {
	p := testutil.NewCompletedPayment(gateway.Stripe, 1000, 250)
	p.RefundedCents = 400

	resp := FromPayment(p)

	assert.Equal(t, "10.00", resp.Amount)
	assert.Equal(t, "2.50", resp.TipAmount)
	assert.Equal(t, "12.50", resp.TotalAmount)
	assert.Equal(t, "4.00", resp.RefundedAmount)
	assert.Equal(t, "8.50", resp.RefundableAmount)
	require.NotNil(t, resp.Gateway)
	assert.Equal(t, "stripe", *resp.Gateway)

	cash := testutil.NewTestPayment(payment.MethodCash, "", 500, 0)
	assert.Nil(t, FromPayment(cash).Gateway)
}

func TestFromDescriptor(t *testing.T) {
	resp := FromDescriptor(gateway.Descriptor{
		ID:           gateway.SumUp,
		DisplayName:  "SumUp",
		Status:       gateway.StatusActive,
		Enabled:      true,
		Capabilities: gateway.Capabilities{SupportsTerminal: true},
		Fees:         gateway.FeeSchedule{PercentBasisPoints: 169},
	})

	assert.Equal(t, "sumup", resp.Name)
	assert.Equal(t, "1.69", resp.TransactionFeePercent)
	assert.Equal(t, "0.00", resp.TransactionFeeFixed)
	assert.Equal(t, "GBP", resp.Currency)
	assert.True(t, resp.SupportsTerminal)
	assert.False(t, resp.SupportsOnline)
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
