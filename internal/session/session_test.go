package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw/options-chain/internal/chain"
	"github.com/gw/options-chain/internal/collector"
	"github.com/gw/options-chain/internal/gateway"
	"github.com/gw/options-chain/internal/gateway/sim"
	"github.com/gw/options-chain/internal/logger"
)

var wednesday = time.Date(2025, 5, 14, 14, 30, 0, 0, time.UTC)

type fixture struct {
	gw     *sim.Gateway
	store  *chain.Store
	engine *collector.Collector
	mgr    *Manager
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	g := sim.New(sim.Config{
		Symbol:          "SPY",
		UnderlyingPrice: 500,
		StrikeCount:     20,
		QuoteLatency:    time.Millisecond,
		Now:             func() time.Time { return wednesday },
	})
	store := chain.NewStore()
	engine := collector.New(g, store, collector.Options{
		Symbol:          "SPY",
		Interval:        10 * time.Millisecond,
		StrikesAround:   2,
		WaitFloor:       100 * time.Millisecond,
		WaitPerContract: time.Millisecond,
		Expiry:          collector.SessionDate{Location: time.UTC},
		Now:             func() time.Time { return wednesday },
		Logger:          logger.Nop(),
	})
	opts.Logger = logger.Nop()
	mgr := New(g, store, engine, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return &fixture{gw: g, store: store, engine: engine, mgr: mgr}
}

func TestSnapshotWhileDisconnected(t *testing.T) {
	f := newFixture(t, Options{})

	p := f.mgr.Snapshot()
	assert.Equal(t, "Not connected", p.Error)
	assert.Empty(t, p.Options)

	b, err := json.Marshal(f.mgr.Status())
	require.NoError(t, err)
	assert.JSONEq(t, `{"connected":false,"underlyingPrice":0}`, string(b))
	assert.False(t, f.mgr.Live())
}

func TestConnectStartsEngine(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.mgr.Connect(context.Background()))
	assert.True(t, f.mgr.Connected())
	require.Eventually(t, func() bool { return f.store.Read().Fresh() }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.mgr.Live())

	p := f.mgr.Snapshot()
	assert.Empty(t, p.Error)
	assert.Contains(t, p.Options, "500.0_C")

	st := f.mgr.Status()
	assert.True(t, st.Connected)
	assert.True(t, st.UnderlyingPrice.Equal(decimal.NewFromInt(500)))
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.mgr.Connect(context.Background()))
	require.Eventually(t, f.mgr.Running, time.Second, time.Millisecond)
	require.NoError(t, f.mgr.Connect(context.Background()))
	assert.True(t, f.mgr.Running())
}

func TestConnectRefused(t *testing.T) {
	f := newFixture(t, Options{})
	f.gw.RefuseConnect(true)

	err := f.mgr.Connect(context.Background())
	assert.ErrorIs(t, err, sim.ErrConnectRefused)
	assert.False(t, f.mgr.Connected())
	assert.False(t, f.mgr.Running())
}

func TestDisconnectStopsEngine(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.mgr.Connect(context.Background()))
	require.Eventually(t, f.mgr.Running, time.Second, time.Millisecond)

	require.NoError(t, f.mgr.Disconnect(context.Background()))
	assert.False(t, f.mgr.Connected())
	assert.False(t, f.mgr.Running())
	assert.Equal(t, "Not connected", f.mgr.Snapshot().Error)
}

func TestDisconnectRightAfterConnect(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.mgr.Connect(context.Background()))
	require.NoError(t, f.mgr.Disconnect(context.Background()))
	assert.False(t, f.mgr.Running())
}

func TestEngineTerminatesWithoutReconnect(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.mgr.Connect(context.Background()))
	require.Eventually(t, f.mgr.Running, time.Second, time.Millisecond)

	f.gw.SetConnected(false)
	assert.Eventually(t, func() bool { return !f.mgr.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, f.mgr.Connected, 100*time.Millisecond, 10*time.Millisecond)
}

func TestAutoReconnectAfterLostGateway(t *testing.T) {
	f := newFixture(t, Options{AutoReconnect: true, MaxAttempts: 3, Backoff: 5 * time.Millisecond})
	require.NoError(t, f.mgr.Connect(context.Background()))
	require.Eventually(t, f.mgr.Running, time.Second, time.Millisecond)

	f.gw.SetConnected(false)
	assert.Eventually(t, func() bool {
		return f.mgr.Connected() && f.mgr.Running()
	}, 3*time.Second, 5*time.Millisecond)
}

func TestAutoReconnectGivesUp(t *testing.T) {
	f := newFixture(t, Options{AutoReconnect: true, MaxAttempts: 2, Backoff: time.Millisecond})
	require.NoError(t, f.mgr.Connect(context.Background()))
	require.Eventually(t, f.mgr.Running, time.Second, time.Millisecond)

	f.gw.RefuseConnect(true)
	f.gw.SetConnected(false)
	assert.Eventually(t, func() bool {
		f.mgr.mu.Lock()
		defer f.mgr.mu.Unlock()
		return !f.mgr.reconnecting && f.mgr.engineDone == nil
	}, 3*time.Second, 5*time.Millisecond)
	assert.False(t, f.mgr.Connected())
}

type slowGateway struct {
	*sim.Gateway
}

func (s slowGateway) Connect(ctx context.Context, _ gateway.Endpoint) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestConnectTimeout(t *testing.T) {
	g := slowGateway{sim.New(sim.Config{})}
	mgr := New(g, chain.NewStore(), collector.New(g, chain.NewStore(), collector.Options{Logger: logger.Nop()}),
		Options{ConnectTimeout: 20 * time.Millisecond, Logger: logger.Nop()})
	defer mgr.cancel()

	err := mgr.Connect(context.Background())
	assert.ErrorIs(t, err, gateway.ErrGatewayTimeout)
}
