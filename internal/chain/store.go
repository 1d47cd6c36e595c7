package chain

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one published view of the chain.
type Snapshot struct {
	UnderlyingPrice decimal.Decimal
	Expiry          string
	Quotes          map[Key]Quote
	AsOf            time.Time
	Version         uint64
}

func (s Snapshot) Clone() Snapshot {
	out := s
	out.Quotes = make(map[Key]Quote, len(s.Quotes))
	for k, q := range s.Quotes {
		out.Quotes[k] = q
	}
	return out
}

// Fresh reports whether the snapshot carries a price and at least one quote.
func (s Snapshot) Fresh() bool {
	return s.UnderlyingPrice.IsPositive() && len(s.Quotes) > 0
}

// UnavailableSides counts quotes with a missing bid and a missing ask.
func (s Snapshot) UnavailableSides() (bids, asks int) {
	for _, q := range s.Quotes {
		if !q.Bid.Available() {
			bids++
		}
		if !q.Ask.Available() {
			asks++
		}
	}
	return bids, asks
}

// Store holds the latest snapshot. One writer publishes, any number of
// readers copy out. The lock covers only the copy.
type Store struct {
	mu      sync.Mutex
	cur     Snapshot
	version uint64
}

func NewStore() *Store {
	return &Store{cur: Snapshot{Quotes: map[Key]Quote{}}}
}

// Publish replaces the current snapshot and returns the stored copy. A
// snapshot without a positive price is stored with no quotes.
func (s *Store) Publish(snap Snapshot) Snapshot {
	snap = snap.Clone()
	if !snap.UnderlyingPrice.IsPositive() {
		snap.Quotes = map[Key]Quote{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	snap.Version = s.version
	s.cur = snap
	return snap.Clone()
}

func (s *Store) Read() Snapshot {
	s.mu.Lock()
	snap := s.cur
	s.mu.Unlock()
	// Published maps are never mutated, so copying outside the lock is safe.
	return snap.Clone()
}

// Payload is the wire form of a snapshot read.
type Payload struct {
	UnderlyingPrice decimal.Decimal
	Options         map[string]Quote
	Expiry          string
	AsOf            time.Time
	Error           string
}

// NotConnectedPayload is served while the gateway is down.
func NotConnectedPayload() Payload {
	return Payload{Options: map[string]Quote{}, Error: "Not connected"}
}

func (s Snapshot) Payload() Payload {
	opts := make(map[string]Quote, len(s.Quotes))
	for k, q := range s.Quotes {
		opts[k.String()] = q
	}
	return Payload{
		UnderlyingPrice: s.UnderlyingPrice,
		Options:         opts,
		Expiry:          s.Expiry,
		AsOf:            s.AsOf,
	}
}

func (p Payload) MarshalJSON() ([]byte, error) {
	w := struct {
		UnderlyingPrice json.Number      `json:"underlyingPrice"`
		Options         map[string]Quote `json:"options"`
		Expiry          string           `json:"expiry,omitempty"`
		AsOf            string           `json:"asOf,omitempty"`
		Error           string           `json:"error,omitempty"`
	}{
		UnderlyingPrice: json.Number(p.UnderlyingPrice.String()),
		Options:         p.Options,
		Expiry:          p.Expiry,
		Error:           p.Error,
	}
	if w.Options == nil {
		w.Options = map[string]Quote{}
	}
	if !p.AsOf.IsZero() {
		w.AsOf = p.AsOf.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}
