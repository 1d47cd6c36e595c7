package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/orders"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishKeysByOrderID(t *testing.T) {
	fw := &fakeWriter{}
	p := &Publisher{w: fw, topic: "orders.events", log: logger.Nop()}

	require.NoError(t, p.RecordOrderEvent(context.Background(), orders.Event{OrderID: 42, Symbol: "SPY", Status: orders.StatusSubmitted}))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "42", string(fw.msgs[0].Key))
	assert.Equal(t, "Submitted", string(fw.msgs[0].Headers[0].Value))

	var ev map[string]any
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &ev))
	assert.Equal(t, "SPY", ev["symbol"])
	assert.Equal(t, 42.0, ev["orderId"])
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{w: &fakeWriter{err: boom}, topic: "orders.events", log: logger.Nop()}
	err := p.RecordOrderEvent(context.Background(), orders.Event{OrderID: 1})
	assert.ErrorIs(t, err, boom)
}
