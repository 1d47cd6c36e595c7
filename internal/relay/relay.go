// Package relay pushes the current chain snapshot to subscribers on a fixed
// cadence.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gw/options-chain/internal/chain"
	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/metrics"
)

// EventOptionsUpdate names the push event carrying a snapshot payload.
const EventOptionsUpdate = "options_update"

// Source is what the relay reads from. Live is false while the gateway is
// down or the refresh engine is stopped.
type Source interface {
	Live() bool
	Read() chain.Snapshot
}

// Sink receives encoded messages. Broadcast must not block on a single slow
// subscriber.
type Sink interface {
	Name() string
	Broadcast(ctx context.Context, msg []byte) error
}

// Message is the push-channel envelope.
type Message struct {
	Event string        `json:"event"`
	Data  chain.Payload `json:"data"`
}

// Encode builds the options_update message for a snapshot.
func Encode(snap chain.Snapshot) ([]byte, error) {
	b, err := json.Marshal(Message{Event: EventOptionsUpdate, Data: snap.Payload()})
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return b, nil
}

type Relay struct {
	src      Source
	interval time.Duration
	sinks    []Sink
	log      *logger.Logger
}

func New(src Source, interval time.Duration, log *logger.Logger, sinks ...Sink) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		src:      src,
		interval: interval,
		sinks:    sinks,
		log:      logger.OrGlobal(log).With("component", "relay"),
	}
}

// Run emits once per interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Infow("relay started", "interval", r.interval, "sinks", len(r.sinks))
	for {
		select {
		case <-ctx.Done():
			r.log.Infow("relay stopped")
			return nil
		case <-ticker.C:
			r.Emit(ctx)
		}
	}
}

// Emit sends the current snapshot to every sink if the source is live.
// It reports whether anything was sent.
func (r *Relay) Emit(ctx context.Context) bool {
	if !r.src.Live() {
		return false
	}
	snap := r.src.Read()
	msg, err := Encode(snap)
	if err != nil {
		r.log.Errorw("relay encode failed", "err", err)
		return false
	}

	bids, asks := snap.UnavailableSides()
	r.log.Debugw("emitting options_update",
		"options", len(snap.Quotes),
		"na_bids", bids,
		"na_asks", asks,
		"version", snap.Version,
	)

	for _, s := range r.sinks {
		err := s.Broadcast(ctx, msg)
		metrics.RecordEmit(s.Name(), err)
		if err != nil {
			r.log.Warnw("relay sink failed", "sink", s.Name(), "err", err)
		}
	}
	return true
}
