package tradelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw/options-chain/internal/orders"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func event(id int64, status orders.Status, at time.Time) orders.Event {
	return orders.Event{
		OrderID:   id,
		Kind:      orders.KindSingle,
		Symbol:    "SPY",
		Expiry:    "20250514",
		Strike:    decimal.NewFromInt(500),
		Right:     "C",
		Action:    "BUY",
		Quantity:  2,
		OrderType: "MKT",
		Status:    status,
		Remaining: 2,
		Time:      at,
	}
}

func TestRecordOrderEventUpsertsAndAppends(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 14, 14, 30, 0, 0, time.UTC)

	require.NoError(t, s.RecordOrderEvent(ctx, event(1, orders.StatusSubmitted, t0)))
	require.NoError(t, s.RecordOrderEvent(ctx, event(1, orders.StatusCancelling, t0.Add(time.Second))))
	require.NoError(t, s.RecordOrderEvent(ctx, event(2, orders.StatusSubmitted, t0.Add(2*time.Second))))

	rows, err := s.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].OrderID)
	assert.Equal(t, "Cancelling", rows[1].Status)
	assert.Equal(t, "500", rows[1].Strike)
	assert.Equal(t, "C", rows[1].Right)
	assert.True(t, rows[1].CreatedTime.Equal(t0))

	evs, err := s.OrderEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "Submitted", evs[0].Status)
	assert.Equal(t, "Cancelling", evs[1].Status)
	assert.Less(t, evs[0].EventID, evs[1].EventID)
}

func TestStatusSummary(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.RecordOrderEvent(ctx, event(1, orders.StatusSubmitted, now)))
	require.NoError(t, s.RecordOrderEvent(ctx, event(2, orders.StatusSubmitted, now)))
	require.NoError(t, s.RecordOrderEvent(ctx, event(3, orders.StatusFilled, now)))

	sum, err := s.StatusSummary(ctx)
	require.NoError(t, err)
	require.Len(t, sum, 2)
	assert.Equal(t, "Filled", sum[0].Status)
	assert.Equal(t, 1, sum[0].Orders)
	assert.Equal(t, "Submitted", sum[1].Status)
	assert.Equal(t, 2, sum[1].Orders)
	assert.Equal(t, 4, sum[1].Contracts)
}

func TestJournalAsLedgerSink(t *testing.T) {
	s := openTemp(t)
	var sink orders.EventSink = s
	require.NoError(t, sink.RecordOrderEvent(context.Background(), event(9, orders.StatusRejected, time.Now())))

	evs, err := s.OrderEvents(context.Background(), 9)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
