package bybit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func TestSignIsDeterministicHMAC(t *testing.T) {
	// Known-answer check for HMAC-SHA256 hex encoding.
	got := sign("secret", "1700000000000key5000")
	assert.Len(t, got, 64)
	assert.Equal(t, got, sign("secret", "1700000000000key5000"))
	assert.NotEqual(t, got, sign("other", "1700000000000key5000"))
}

func TestMapOrderStatus(t *testing.T) {
	assert.Equal(t, domain.OrderStatusSubmitted, mapOrderStatus("New"))
	assert.Equal(t, domain.OrderStatusSubmitted, mapOrderStatus("PartiallyFilled"))
	assert.Equal(t, domain.OrderStatusFilled, mapOrderStatus("Filled"))
	assert.Equal(t, domain.OrderStatusCancelled, mapOrderStatus("Cancelled"))
	assert.Equal(t, domain.OrderStatusRejected, mapOrderStatus("Rejected"))
	assert.Equal(t, domain.OrderStatusPending, mapOrderStatus("SomethingNew"))
}

func TestOrderItemConversion(t *testing.T) {
	it := orderItem{
		Symbol:      "BTCUSDT",
		OrderID:     "ex-1",
		OrderLinkID: "ORDER_abc",
		Side:        "Buy",
		OrderStatus: "Filled",
		Qty:         "0.100",
		CumExecQty:  "0.100",
		AvgPrice:    "50123.5",
		UpdatedTime: "1700000000000",
	}
	st := it.toOrderState(it.Symbol)
	assert.Equal(t, "ex-1", st.ExchangeOrderID)
	assert.Equal(t, "ORDER_abc", st.ClientOrderID)
	assert.Equal(t, domain.SideBuy, st.Side)
	assert.Equal(t, domain.OrderStatusFilled, st.Status)
	assert.InDelta(t, 0.1, st.FilledQuantity, 1e-9)
	assert.InDelta(t, 50123.5, st.AvgFillPrice, 1e-9)
}

func TestTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	tb := newTokenBucket(1000, 3)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, tb.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "burst must not block")
}

func TestTokenBucketHonorsContext(t *testing.T) {
	tb := newTokenBucket(0.001, 1)
	require.NoError(t, tb.Wait(context.Background())) // drain the bucket

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
