package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gastrohub/billing-service/internal/config"
	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/usecase"
)

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		TrialDays:          14,
		MaxPaymentFailures: 3,
		RetryDelay:         24 * time.Hour,
		GatewayTimeout:     5 * time.Second,
		Workers:            4,
		BatchLimit:         100,
	}
}

type testEnv struct {
	subs    *memSubscriptionRepo
	txs     *memTransactionRepo
	plans   *memPlanRepo
	tenants *memTenantRepo
	adapter *fakeAdapter
	service *usecase.SubscriptionService
	tenant  *model.Tenant
}

func newTestEnv(t *testing.T, plans ...*model.Plan) *testEnv {
	t.Helper()
	if len(plans) == 0 {
		plans = []*model.Plan{
			{ID: "basic-monthly", DisplayName: "Basic", PriceCents: 9900, Currency: "BRL", BillingCycle: model.BillingCycleMonthly, TrialEligible: true, IsActive: true},
			{ID: "pro-monthly", DisplayName: "Pro", PriceCents: 19900, Currency: "BRL", BillingCycle: model.BillingCycleMonthly, IsActive: true},
		}
	}
	tenant := &model.Tenant{ID: uuid.New(), Name: "Cantina da Praça", ContactEmail: "owner@cantina.example"}

	env := &testEnv{
		subs:    newMemSubscriptionRepo(),
		txs:     newMemTransactionRepo(),
		plans:   newMemPlanRepo(plans...),
		tenants: newMemTenantRepo(tenant),
		adapter: newFakeAdapter("fakepay"),
		tenant:  tenant,
	}
	env.service = usecase.NewSubscriptionService(
		env.subs, env.txs, env.plans, env.tenants,
		newFakeRouter(env.adapter), usecase.NopNotifier{},
		testBillingConfig(), "fakepay", zap.NewNop(),
	)
	return env
}

func TestSubscriptionService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("activates on synchronous gateway confirmation", func(t *testing.T) {
		env := newTestEnv(t)

		sub, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)

		assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
		assert.Equal(t, "fakepay", sub.Gateway)
		require.NotNil(t, sub.GatewaySubscriptionID)
		assert.True(t, sub.NextBillingDate.After(time.Now()))

		txs := env.txs.all()
		require.Len(t, txs, 1)
		assert.Equal(t, model.TransactionTypeSetup, txs[0].Type)
		assert.Equal(t, model.TransactionStatusCompleted, txs[0].Status)
		assert.Equal(t, int64(9900), txs[0].AmountCents)
	})

	t.Run("stays pending on asynchronous gateway", func(t *testing.T) {
		env := newTestEnv(t)
		env.adapter.createResult = &gateway.Result{
			Success:               true,
			Status:                gateway.StatusPending,
			GatewaySubscriptionID: "gw_sub_pix",
			PaymentURL:            "https://pay.example/pix/abc",
		}

		sub, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{PaymentMethod: "pix"})
		require.NoError(t, err)

		assert.Equal(t, model.SubscriptionStatusPending, sub.Status)
		assert.Equal(t, "https://pay.example/pix/abc", sub.Metadata["payment_url"])
	})

	t.Run("rejects second live subscription for tenant", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)

		_, err = env.service.Create(ctx, env.tenant.ID, "pro-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		assert.ErrorIs(t, err, domainErrors.ErrDuplicateSubscription)
	})

	t.Run("signup race loser surfaces as a duplicate", func(t *testing.T) {
		env := newTestEnv(t)

		// A competing signup lands between the duplicate check and the
		// insert; the storage uniqueness rule rejects the loser and the
		// error must stay a duplicate, not an opaque failure.
		env.subs.beforeCreate = func() {
			winner := &model.Subscription{
				ID:       uuid.New(),
				TenantID: env.tenant.ID,
				PlanID:   "pro-monthly",
				Status:   model.SubscriptionStatusActive,
				Gateway:  "fakepay",
				Metadata: model.JSONB{},
			}
			require.NoError(t, env.subs.Update(ctx, winner))
		}

		_, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		assert.ErrorIs(t, err, domainErrors.ErrDuplicateSubscription)
	})

	t.Run("unknown plan", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Create(ctx, env.tenant.ID, "nonexistent", "", gateway.PaymentInput{})
		assert.ErrorIs(t, err, domainErrors.ErrPlanNotFound)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Create(ctx, uuid.New(), "basic-monthly", "", gateway.PaymentInput{})
		assert.ErrorIs(t, err, domainErrors.ErrTenantNotFound)
	})

	t.Run("gateway failure surfaces payment error and a failed ledger entry", func(t *testing.T) {
		env := newTestEnv(t)
		env.adapter.createErr = &gateway.GatewayError{GatewayName: "fakepay", Code: "card_declined", Message: "insufficient funds"}

		_, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_bad"})
		require.Error(t, err)

		pe, ok := domainErrors.AsPaymentError(err)
		require.True(t, ok)
		assert.Equal(t, "card_declined", pe.Code)
		assert.Equal(t, int64(9900), pe.AmountCents)

		txs := env.txs.all()
		require.Len(t, txs, 1)
		assert.Equal(t, model.TransactionStatusFailed, txs[0].Status)
	})
}

func TestSubscriptionService_StartTrial(t *testing.T) {
	ctx := context.Background()

	t.Run("grants configured trial window", func(t *testing.T) {
		env := newTestEnv(t)

		sub, err := env.service.StartTrial(ctx, env.tenant.ID, "basic-monthly")
		require.NoError(t, err)

		assert.Equal(t, model.SubscriptionStatusTrialing, sub.Status)
		require.NotNil(t, sub.TrialEndsAt)
		assert.WithinDuration(t, time.Now().AddDate(0, 0, 14), *sub.TrialEndsAt, time.Minute)
		assert.Equal(t, *sub.TrialEndsAt, sub.NextBillingDate)
		assert.Equal(t, 0, env.adapter.charges(), "trial must not charge")
	})

	t.Run("one trial per tenant lifetime", func(t *testing.T) {
		env := newTestEnv(t)

		sub, err := env.service.StartTrial(ctx, env.tenant.ID, "basic-monthly")
		require.NoError(t, err)

		// Even after the trial subscription is terminal, no second trial.
		_, err = env.service.Cancel(ctx, sub.ID, true)
		require.NoError(t, err)

		_, err = env.service.StartTrial(ctx, env.tenant.ID, "basic-monthly")
		assert.ErrorIs(t, err, domainErrors.ErrTrialAlreadyUsed)
	})

	t.Run("plan without trial", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.StartTrial(ctx, env.tenant.ID, "pro-monthly")
		assert.ErrorIs(t, err, domainErrors.ErrTrialNotAvailable)
	})

	t.Run("rejected while another subscription is live", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Create(ctx, env.tenant.ID, "pro-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)

		_, err = env.service.StartTrial(ctx, env.tenant.ID, "basic-monthly")
		assert.ErrorIs(t, err, domainErrors.ErrDuplicateSubscription)
	})
}

func TestSubscriptionService_RecordChargeResult(t *testing.T) {
	ctx := context.Background()
	plan := &model.Plan{ID: "basic-monthly", PriceCents: 9900, Currency: "BRL", BillingCycle: model.BillingCycleMonthly}

	t.Run("success advances one cycle from the scheduled date", func(t *testing.T) {
		env := newTestEnv(t)
		scheduled := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
		sub := &model.Subscription{
			Status:          model.SubscriptionStatusActive,
			NextBillingDate: scheduled,
			PaymentFailures: 2,
		}

		env.service.RecordChargeResult(ctx, sub, plan, true, scheduled)

		assert.Equal(t, scheduled.AddDate(0, 1, 0), sub.NextBillingDate)
		assert.Equal(t, scheduled.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
		assert.Equal(t, 0, sub.PaymentFailures)
	})

	t.Run("success recovers a suspended subscription", func(t *testing.T) {
		env := newTestEnv(t)
		now := time.Now().UTC()
		sub := &model.Subscription{
			Status:          model.SubscriptionStatusSuspended,
			NextBillingDate: now,
			PaymentFailures: 3,
			SuspendedAt:     &now,
		}

		env.service.RecordChargeResult(ctx, sub, plan, true, now)

		assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
		assert.Nil(t, sub.SuspendedAt)
		assert.Equal(t, 0, sub.PaymentFailures)
	})

	t.Run("failure pushes next billing date by the retry delay", func(t *testing.T) {
		env := newTestEnv(t)
		scheduled := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
		sub := &model.Subscription{
			Status:          model.SubscriptionStatusActive,
			NextBillingDate: scheduled,
		}

		env.service.RecordChargeResult(ctx, sub, plan, false, scheduled)

		assert.Equal(t, 1, sub.PaymentFailures)
		assert.Equal(t, scheduled.Add(24*time.Hour), sub.NextBillingDate)
		assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	})

	t.Run("suspends at the failure threshold", func(t *testing.T) {
		env := newTestEnv(t)
		sub := &model.Subscription{
			Status:          model.SubscriptionStatusActive,
			NextBillingDate: time.Now().UTC(),
			PaymentFailures: 2,
		}

		env.service.RecordChargeResult(ctx, sub, plan, false, sub.NextBillingDate)

		assert.Equal(t, 3, sub.PaymentFailures)
		assert.Equal(t, model.SubscriptionStatusSuspended, sub.Status)
		assert.NotNil(t, sub.SuspendedAt)
	})
}

func TestSubscriptionService_ChangePlan(t *testing.T) {
	ctx := context.Background()

	activeSub := func(t *testing.T, env *testEnv) *model.Subscription {
		t.Helper()
		sub, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)
		return sub
	}

	t.Run("upgrade charges the prorated delta and swaps the plan", func(t *testing.T) {
		env := newTestEnv(t)
		sub := activeSub(t, env)

		updated, prorated, err := env.service.ChangePlan(ctx, sub.ID, "pro-monthly")
		require.NoError(t, err)

		assert.Equal(t, "pro-monthly", updated.PlanID)
		assert.Greater(t, prorated, int64(0))
		assert.LessOrEqual(t, prorated, int64(19900-9900))

		txs := env.txs.all()
		last := txs[len(txs)-1]
		assert.Equal(t, model.TransactionTypeProration, last.Type)
		assert.Equal(t, model.TransactionStatusCompleted, last.Status)
		assert.Equal(t, prorated, last.AmountCents)
	})

	t.Run("downgrade swaps without charging", func(t *testing.T) {
		env := newTestEnv(t)
		sub, err := env.service.Create(ctx, env.tenant.ID, "pro-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)
		chargesBefore := env.adapter.charges()

		updated, prorated, err := env.service.ChangePlan(ctx, sub.ID, "basic-monthly")
		require.NoError(t, err)

		assert.Equal(t, "basic-monthly", updated.PlanID)
		assert.Equal(t, int64(0), prorated)
		assert.Equal(t, chargesBefore, env.adapter.charges())

		txs := env.txs.all()
		last := txs[len(txs)-1]
		assert.Equal(t, model.TransactionStatusNoCharge, last.Status)
	})

	t.Run("failed proration charge keeps the old plan", func(t *testing.T) {
		env := newTestEnv(t)
		sub := activeSub(t, env)
		env.adapter.chargeErr = &gateway.GatewayError{GatewayName: "fakepay", Code: "card_declined", Message: "insufficient funds"}

		_, prorated, err := env.service.ChangePlan(ctx, sub.ID, "pro-monthly")
		require.Error(t, err)

		pe, ok := domainErrors.AsPaymentError(err)
		require.True(t, ok)
		assert.Equal(t, prorated, pe.AmountCents)

		stored, err := env.subs.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "basic-monthly", stored.PlanID)
	})

	t.Run("rejected when subscription is not active", func(t *testing.T) {
		env := newTestEnv(t)
		sub := activeSub(t, env)
		_, err := env.service.Cancel(ctx, sub.ID, true)
		require.NoError(t, err)

		_, _, err = env.service.ChangePlan(ctx, sub.ID, "pro-monthly")
		assert.ErrorIs(t, err, domainErrors.ErrSubscriptionNotActive)
	})

	t.Run("rejected at or after period end", func(t *testing.T) {
		env := newTestEnv(t)
		sub := activeSub(t, env)

		stored, err := env.subs.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		stored.CurrentPeriodEnd = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, env.subs.Update(ctx, stored))

		_, _, err = env.service.ChangePlan(ctx, sub.ID, "pro-monthly")
		assert.ErrorIs(t, err, domainErrors.ErrPeriodEnded)
	})
}

func TestSubscriptionService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate cancellation ends the period now", func(t *testing.T) {
		env := newTestEnv(t)
		sub, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)

		updated, err := env.service.Cancel(ctx, sub.ID, true)
		require.NoError(t, err)

		assert.Equal(t, model.SubscriptionStatusCanceled, updated.Status)
		require.NotNil(t, updated.CanceledAt)
		assert.WithinDuration(t, time.Now(), updated.CurrentPeriodEnd, time.Minute)
		assert.Len(t, env.adapter.canceled, 1)
	})

	t.Run("deferred cancellation keeps access until period end", func(t *testing.T) {
		env := newTestEnv(t)
		sub, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)

		updated, err := env.service.Cancel(ctx, sub.ID, false)
		require.NoError(t, err)

		assert.Equal(t, model.SubscriptionStatusActive, updated.Status)
		assert.NotNil(t, updated.CanceledAt)
		assert.Empty(t, env.adapter.canceled, "gateway teardown waits for period end")
	})

	t.Run("double cancel rejected", func(t *testing.T) {
		env := newTestEnv(t)
		sub, err := env.service.Create(ctx, env.tenant.ID, "basic-monthly", "", gateway.PaymentInput{CardToken: "tok_123"})
		require.NoError(t, err)

		_, err = env.service.Cancel(ctx, sub.ID, true)
		require.NoError(t, err)

		_, err = env.service.Cancel(ctx, sub.ID, true)
		assert.ErrorIs(t, err, domainErrors.ErrAlreadyCanceled)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Cancel(ctx, uuid.New(), true)
		assert.ErrorIs(t, err, domainErrors.ErrSubscriptionNotFound)
	})
}
