package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func TestFulfillment_ShipsOrderAndSchedulesTracking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")

	obs := &outcomes{}
	ok, err := h.runner(h.fulfilQ, h.fulfil.Handler(), obs).RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, queue.OutcomeCompleted, obs.last())

	o := h.order(t, "O1")
	require.NotNil(t, o.Courier)
	assert.Equal(t, "S1", o.Courier.ShipmentOrderID)
	assert.Equal(t, "A1", o.Courier.AWBNumber)
	assert.Equal(t, "BlueDart", o.Courier.CourierName)
	assert.Equal(t, 8, h.stock(t))

	active, err := h.trackQ.HasSchedule(ctx, "orderId:O1")
	require.NoError(t, err)
	assert.True(t, active)

	// the rate-shopping handoff is consumed
	_, err = h.couriers.Get(ctx, "O1")
	assert.ErrorIs(t, err, redisx.ErrCourierIDMissing)

	// the lock is released
	held, err := redisx.Exists(ctx, h.rdb, redisx.OrderLockKey("O1"))
	require.NoError(t, err)
	assert.False(t, held)
}

func TestFulfillment_LockContention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")

	_, ok, err := redisx.NewLocker(h.rdb).TryAcquire(ctx, redisx.OrderLockKey("O1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = h.fulfil.Process(ctx, FulfillmentJob{OrderID: "O1", CourierID: "C1"})
	assert.ErrorIs(t, err, ErrLockContention)
	assert.Equal(t, 1, h.metrics.contention)
	assert.Zero(t, h.gw.creates)

	obs := &outcomes{}
	_, err = h.runner(h.fulfilQ, h.fulfil.Handler(), obs).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeRetry, obs.last())
	assert.Equal(t, 10, h.stock(t))
}

func TestFulfillment_TransientGatewayFailures(t *testing.T) {
	for _, k := range []int{0, 1, 4, 5, 7} {
		t.Run(fmt.Sprintf("fails=%d", k), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.seedOrder(t, "O1")
			h.confirmAndRequest(t, "O1")
			h.gw.createFails = k

			obs := &outcomes{}
			r := h.runner(h.fulfilQ, h.fulfil.Handler(), obs)
			runs := 0
			for {
				ok, err := r.RunOnce(ctx)
				require.NoError(t, err)
				if !ok {
					break
				}
				runs++
				h.clock.Advance(time.Hour)
			}

			o := h.order(t, "O1")
			if k < 5 {
				assert.Equal(t, k+1, runs)
				assert.Equal(t, queue.OutcomeCompleted, obs.last())
				require.NotNil(t, o.Courier)
				assert.Equal(t, "A1", o.Courier.AWBNumber)
				assert.Equal(t, 8, h.stock(t))
				return
			}
			assert.Equal(t, 5, runs)
			assert.Equal(t, queue.OutcomeFailed, obs.last())
			assert.Nil(t, o.Courier)
			assert.Equal(t, 10, h.stock(t))

			failed, err := h.fulfilQ.Failed(ctx, 10)
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, FulfillmentJobID("O1"), failed[0].ID)
			assert.Equal(t, 5, failed[0].AttemptsMade)
			assert.Contains(t, failed[0].FailedReason, string(KindTransientGateway))

			active, err := h.scheduler.Active(ctx, "O1")
			require.NoError(t, err)
			assert.False(t, active)
		})
	}
}

func TestFulfillment_InsufficientStockIsPermanent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")
	h.store.PutVariant(inventoryVariant(1))

	obs := &outcomes{}
	_, err := h.runner(h.fulfilQ, h.fulfil.Handler(), obs).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeFailed, obs.last())

	assert.Nil(t, h.order(t, "O1").Courier)
	assert.Equal(t, 1, h.stock(t))
	active, err := h.scheduler.Active(ctx, "O1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestFulfillment_FailedCommitRemovesSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")
	h.store.CommitErrAfterHook = errors.New("commit: connection reset")

	err := h.fulfil.Process(ctx, FulfillmentJob{OrderID: "O1", CourierID: "C1"})
	require.Error(t, err)
	assert.Equal(t, KindInternal, classify(err).Kind)

	active, err := h.scheduler.Active(ctx, "O1")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 10, h.stock(t))
}

func TestFulfillment_CancelledOrderIsPermanent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")
	_, _, err := h.svc.RequestCancel(ctx, "O1")
	require.NoError(t, err)

	err = h.fulfil.Process(ctx, FulfillmentJob{OrderID: "O1", CourierID: "C1"})
	require.ErrorIs(t, err, orders.ErrAlreadyCancelled)
	je := classify(err)
	assert.Equal(t, KindOrderCancelled, je.Kind)
	assert.False(t, je.Retryable())
	assert.Zero(t, h.gw.creates)
}

func TestFulfillment_RedeliveryAfterCommitIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")

	p := FulfillmentJob{OrderID: "O1", CourierID: "C1"}
	require.NoError(t, h.fulfil.Process(ctx, p))
	require.NoError(t, h.fulfil.Process(ctx, p))

	assert.Equal(t, 1, h.gw.creates)
	assert.Equal(t, 1, h.store.CommitCalls)
	assert.Equal(t, 8, h.stock(t))
}

func TestFulfillment_MissingCourierIDIsUpstreamData(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "O1")

	err := h.fulfil.Process(context.Background(), FulfillmentJob{OrderID: "O1"})
	require.ErrorIs(t, err, ErrUpstreamDataMissing)
	assert.False(t, classify(err).Retryable())
}

func TestFulfillment_MissingAWBIsUpstreamData(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "O1")
	h.confirmAndRequest(t, "O1")
	h.gw.awb = ""

	err := h.fulfil.Process(context.Background(), FulfillmentJob{OrderID: "O1", CourierID: "C1"})
	require.ErrorIs(t, err, ErrUpstreamDataMissing)
	assert.Nil(t, h.order(t, "O1").Courier)
}

func TestFulfillment_MalformedPayloadRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.fulfilQ.Add(ctx, FulfillmentJob{}.Kind(), []byte(`{"orderId":"","extra":1}`), queue.Options{JobID: "bad"})
	require.NoError(t, err)

	obs := &outcomes{}
	_, err = h.runner(h.fulfilQ, h.fulfil.Handler(), obs).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeFailed, obs.last())

	j, err := h.fulfilQ.Job(ctx, "bad")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Zero(t, j.AttemptsMade)
	assert.Zero(t, h.gw.creates)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{ErrLockContention, KindLockContention},
		{fmt.Errorf("x: %w", orders.ErrConcurrencyConflict), KindConcurrencyConflict},
		{orders.ErrNotFound, KindUpstreamDataMissing},
		{redisx.ErrCourierIDMissing, KindUpstreamDataMissing},
		{orders.ErrInsufficientStock, KindInsufficientStock},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, classify(c.err).Kind, c.err.Error())
	}
	assert.Nil(t, classify(nil))
	assert.True(t, queue.IsRetryable(classify(ErrLockContention)))
	assert.False(t, queue.IsRetryable(classify(orders.ErrInsufficientStock)))
}
