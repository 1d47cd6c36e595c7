// Package session supervises the gateway connection and the refresh engine
// that depends on it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/options-chain/internal/chain"
	"github.com/gw/options-chain/internal/collector"
	"github.com/gw/options-chain/internal/gateway"
	"github.com/gw/options-chain/internal/logger"
)

// Engine is the refresh loop lifecycle as the supervisor drives it.
type Engine interface {
	Run(ctx context.Context) error
	Stop() bool
	Running() bool
}

type Options struct {
	Endpoint       gateway.Endpoint
	ConnectTimeout time.Duration
	AutoReconnect  bool
	MaxAttempts    int
	Backoff        time.Duration // attempt n waits Backoff*n*n
	Logger         *logger.Logger
}

// Status is the /status body.
type Status struct {
	Connected       bool
	UnderlyingPrice decimal.Decimal
}

// Manager owns connect and disconnect, starts the engine once connected and
// optionally reconnects after the engine gives up on a lost gateway.
type Manager struct {
	gw     gateway.Port
	store  *chain.Store
	engine Engine
	opts   Options
	log    *logger.Logger

	base   context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	engineDone   chan struct{}
	manual       bool // set by Disconnect, suppresses reconnect
	reconnecting bool
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Connected       bool        `json:"connected"`
		UnderlyingPrice json.Number `json:"underlyingPrice"`
	}{s.Connected, json.Number(s.UnderlyingPrice.String())})
}

func New(gw gateway.Port, store *chain.Store, engine Engine, opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		gw:     gw,
		store:  store,
		engine: engine,
		opts:   opts,
		log:    logger.OrGlobal(opts.Logger).With("component", "session"),
		base:   base,
		cancel: cancel,
	}
}

// Connect opens the gateway session if needed and starts the engine.
// Connecting an already connected session succeeds without side effects.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.manual = false
	m.mu.Unlock()
	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) error {
	if !m.gw.IsConnected() {
		cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()

		ep := m.opts.Endpoint
		m.log.Infow("connecting to gateway", "host", ep.Host, "port", ep.Port, "client_id", ep.ClientID)
		if err := m.gw.Connect(cctx, ep); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: connect after %s", gateway.ErrGatewayTimeout, m.opts.ConnectTimeout)
			}
			m.log.Warnw("gateway connect failed", "err", err)
			return err
		}
		m.log.Infow("gateway connected")
	}
	m.startEngine()
	return nil
}

func (m *Manager) startEngine() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engineDone != nil {
		return
	}
	done := make(chan struct{})
	m.engineDone = done

	go func() {
		err := m.engine.Run(m.base)
		m.mu.Lock()
		m.engineDone = nil
		retry := !m.manual && m.opts.AutoReconnect && !m.reconnecting && errors.Is(err, collector.ErrDisconnected)
		if retry {
			m.reconnecting = true
		}
		m.mu.Unlock()
		close(done)

		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warnw("refresh engine exited", "err", err)
		}
		if retry {
			m.reconnect()
		}
	}()
}

// reconnect retries with quadratic backoff until it connects, runs out of
// attempts, or the manager is closed or manually disconnected.
func (m *Manager) reconnect() {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		wait := m.opts.Backoff * time.Duration(attempt*attempt)
		m.log.Infow("reconnecting", "attempt", attempt, "max", m.opts.MaxAttempts, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-m.base.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		manual := m.manual
		m.mu.Unlock()
		if manual {
			return
		}

		if err := m.connect(m.base); err == nil {
			m.log.Infow("reconnected", "attempt", attempt)
			return
		}
	}
	m.log.Errorw("giving up on reconnect", "err", collector.ErrDisconnected, "attempts", m.opts.MaxAttempts)
}

// Disconnect stops the engine, waiting at most its grace period, then
// closes the gateway session.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.manual = true
	done := m.engineDone
	m.mu.Unlock()

	for {
		if !m.engine.Stop() {
			m.log.Warnw("refresh engine forced down")
		}
		if done == nil {
			break
		}
		// The engine goroutine may not have entered Run yet, so Stop is
		// repeated until it has exited.
		select {
		case <-done:
			done = nil
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := m.gw.Disconnect(); err != nil {
		return fmt.Errorf("gateway disconnect: %w", err)
	}
	m.log.Infow("gateway disconnected")
	return nil
}

func (m *Manager) Connected() bool { return m.gw.IsConnected() }

func (m *Manager) Running() bool { return m.engine.Running() }

// Live reports whether fresh snapshots are being produced.
func (m *Manager) Live() bool { return m.Connected() && m.Running() }

func (m *Manager) Read() chain.Snapshot { return m.store.Read() }

// Snapshot is the read API served to clients.
func (m *Manager) Snapshot() chain.Payload {
	if !m.Connected() {
		return chain.NotConnectedPayload()
	}
	return m.store.Read().Payload()
}

func (m *Manager) Status() Status {
	st := Status{Connected: m.Connected()}
	if st.Connected {
		st.UnderlyingPrice = m.store.Read().UnderlyingPrice
	}
	return st
}

// Close stops reconnect attempts and shuts the session down.
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()
	if !m.Connected() && !m.Running() {
		return nil
	}
	return m.Disconnect(ctx)
}
