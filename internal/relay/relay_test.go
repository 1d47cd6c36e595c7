package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw/options-chain/internal/chain"
	"github.com/gw/options-chain/internal/config"
	"github.com/gw/options-chain/internal/gateway"
	"github.com/gw/options-chain/internal/logger"
)

type fakeSource struct {
	live atomic.Bool
	mu   sync.Mutex
	snap chain.Snapshot
}

func (f *fakeSource) Live() bool { return f.live.Load() }

func (f *fakeSource) Read() chain.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeSource) set(s chain.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

type recordSink struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (r *recordSink) Name() string { return "record" }

func (r *recordSink) Broadcast(_ context.Context, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func sampleSnapshot() chain.Snapshot {
	strike := decimal.NewFromInt(500)
	call := chain.Quote{
		Strike:        strike,
		Right:         gateway.Call,
		Bid:           chain.PriceOf(decimal.RequireFromString("1.25")),
		Ask:           chain.PriceOf(decimal.RequireFromString("1.30")),
		DisplaySymbol: "SPY 500C",
	}
	put := chain.Quote{
		Strike:        strike,
		Right:         gateway.Put,
		Bid:           chain.Unavailable(),
		Ask:           chain.PriceOf(decimal.RequireFromString("0.95")),
		DisplaySymbol: "SPY 500P",
	}
	return chain.Snapshot{
		UnderlyingPrice: decimal.RequireFromString("500.12"),
		Expiry:          "20250514",
		Quotes:          map[chain.Key]chain.Quote{call.Key(): call, put.Key(): put},
		Version:         3,
	}
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestEncodeEnvelope(t *testing.T) {
	b, err := Encode(sampleSnapshot())
	require.NoError(t, err)

	m := decode(t, b)
	assert.Equal(t, "options_update", m["event"])
	data := m["data"].(map[string]any)
	assert.Equal(t, 500.12, data["underlyingPrice"])
	opts := data["options"].(map[string]any)
	require.Contains(t, opts, "500.0_P")
	assert.Equal(t, "N/A", opts["500.0_P"].(map[string]any)["bid"])
	assert.Equal(t, 1.25, opts["500.0_C"].(map[string]any)["bid"])
}

func TestEmitSkipsWhenNotLive(t *testing.T) {
	src := &fakeSource{}
	src.set(sampleSnapshot())
	sink := &recordSink{}
	r := New(src, time.Second, logger.Nop(), sink)

	assert.False(t, r.Emit(context.Background()))
	assert.Equal(t, 0, sink.count())

	src.live.Store(true)
	assert.True(t, r.Emit(context.Background()))
	assert.Equal(t, 1, sink.count())
}

func TestEmitContinuesPastFailingSink(t *testing.T) {
	src := &fakeSource{}
	src.live.Store(true)
	src.set(sampleSnapshot())
	bad := &recordSink{err: errors.New("boom")}
	good := &recordSink{}

	New(src, time.Second, logger.Nop(), bad, good).Emit(context.Background())
	assert.Equal(t, 1, bad.count())
	assert.Equal(t, 1, good.count())
}

func TestRunEmitsOnInterval(t *testing.T) {
	src := &fakeSource{}
	src.live.Store(true)
	src.set(sampleSnapshot())
	sink := &recordSink{}
	r := New(src, 5*time.Millisecond, logger.Nop(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	return decode(t, b)
}

func TestHubSendsFreshSnapshotOnSubscribe(t *testing.T) {
	src := &fakeSource{}
	src.live.Store(true)
	src.set(sampleSnapshot())
	hub := NewHub(src, "*", logger.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv)
	m := readMessage(t, conn)
	assert.Equal(t, "options_update", m["event"])
	assert.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)
}

func TestHubSkipsInitialSendWhenStale(t *testing.T) {
	src := &fakeSource{}
	src.live.Store(true)
	src.set(chain.Snapshot{Quotes: map[chain.Key]chain.Quote{}})
	hub := NewHub(src, "*", logger.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, hub.Broadcast(context.Background(), []byte(`{"event":"options_update","data":{"n":1}}`)))
	m := readMessage(t, conn)
	assert.Equal(t, map[string]any{"n": 1.0}, m["data"])
}

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, "", logger.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dialHub(t, srv)
	b := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, time.Millisecond)

	src.set(sampleSnapshot())
	msg, err := Encode(src.Read())
	require.NoError(t, err)
	require.NoError(t, hub.Broadcast(context.Background(), msg))

	for _, c := range []*websocket.Conn{a, b} {
		assert.Equal(t, "options_update", readMessage(t, c)["event"])
	}

	a.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(&fakeSource{}, "http://localhost:3000", logger.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	hdr := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, 0, hub.Count())
}

func TestHubCloseDropsSubscribers(t *testing.T) {
	hub := NewHub(&fakeSource{}, "*", logger.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Count())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestRedisPublisherFailsFastWithoutServer(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1", Channel: "x"})
	assert.Error(t, err)
}
