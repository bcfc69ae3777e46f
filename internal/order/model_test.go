package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/checkout/internal/apperr"
)

func pendingOrder(method PaymentMethod, payStatus PaymentStatus) *Order {
	return &Order{
		ID:         42,
		CustomerID: 7,
		Status:     StatusPending,
		Method:     method,
		Payment:    &Payment{ID: 9, Status: payStatus, Method: method},
	}
}

func TestPlanTransitionCancelRestoresStockAndFailsPayment(t *testing.T) {
	o := pendingOrder(MethodCard, PaymentPending)

	fx, err := PlanTransition(o, StatusCancelled)
	require.NoError(t, err)

	assert.True(t, fx.StatusChanged)
	assert.True(t, fx.RestoreStock)
	assert.True(t, fx.FailPayment)
	assert.False(t, fx.SucceedPayment)
	assert.False(t, fx.CreditPoints)
}

func TestPlanTransitionCancelPaidOrderKeepsPaymentSuccess(t *testing.T) {
	o := pendingOrder(MethodCard, PaymentSuccess)

	fx, err := PlanTransition(o, StatusCancelled)
	require.NoError(t, err)

	assert.True(t, fx.RestoreStock)
	assert.False(t, fx.FailPayment, "a settled payment is never rewritten to FAILED")
}

func TestPlanTransitionCompleteCashSettlesAndCredits(t *testing.T) {
	o := pendingOrder(MethodCash, PaymentPending)

	fx, err := PlanTransition(o, StatusCompleted)
	require.NoError(t, err)

	assert.True(t, fx.StatusChanged)
	assert.True(t, fx.SucceedPayment)
	assert.True(t, fx.CreditPoints)
	assert.False(t, fx.RestoreStock)
}

func TestPlanTransitionCompleteOnlineDoesNotTouchPayment(t *testing.T) {
	o := pendingOrder(MethodBankTransfer, PaymentSuccess)

	fx, err := PlanTransition(o, StatusCompleted)
	require.NoError(t, err)

	assert.True(t, fx.StatusChanged)
	assert.False(t, fx.SucceedPayment, "online payments settle via the gateway callback")
	assert.False(t, fx.CreditPoints)
}

func TestPlanTransitionRepeatedCompletedBackfillsCredit(t *testing.T) {
	o := pendingOrder(MethodCard, PaymentSuccess)
	o.Status = StatusCompleted

	fx, err := PlanTransition(o, StatusCompleted)
	require.NoError(t, err)

	assert.False(t, fx.StatusChanged)
	assert.True(t, fx.CreditPoints, "completed+paid repeat write backfills a missed credit")
}

func TestPlanTransitionRepeatedCancelledIsNoop(t *testing.T) {
	o := pendingOrder(MethodCash, PaymentFailed)
	o.Status = StatusCancelled

	fx, err := PlanTransition(o, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, TransitionEffects{}, fx)
}

func TestPlanTransitionFromTerminalStateConflicts(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		o := pendingOrder(MethodCash, PaymentPending)
		o.Status = from

		_, err := PlanTransition(o, StatusPending)
		assert.True(t, apperr.IsKind(err, apperr.Conflict), "from %s", from)
	}
}

func TestPlanTransitionUnknownStatus(t *testing.T) {
	o := pendingOrder(MethodCash, PaymentPending)

	_, err := PlanTransition(o, Status("SHIPPED"))
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}

func TestCanCancel(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Order)
		userID int64
		kind   apperr.Kind
		ok     bool
	}{
		{name: "owner of unpaid pending order", userID: 7, ok: true},
		{name: "not the owner", userID: 8, kind: apperr.Authorization},
		{
			name:   "already paid",
			mutate: func(o *Order) { o.Payment.Status = PaymentSuccess },
			userID: 7,
			kind:   apperr.Conflict,
		},
		{
			name:   "already cancelled",
			mutate: func(o *Order) { o.Status = StatusCancelled },
			userID: 7,
			kind:   apperr.Conflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder(MethodCard, PaymentPending)
			if tt.mutate != nil {
				tt.mutate(o)
			}
			err := CanCancel(o, tt.userID)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.IsKind(err, tt.kind))
		})
	}
}
