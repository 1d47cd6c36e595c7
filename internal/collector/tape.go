package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gw/options-chain/internal/chain"
)

// TapeRecord is one published snapshot on the tape.
type TapeRecord struct {
	Type    string        `json:"type"`
	Symbol  string        `json:"symbol"`
	Expiry  string        `json:"expiry"`
	Ts      string        `json:"ts"`
	Version uint64        `json:"version"`
	Data    chain.Payload `json:"data"`
}

// Tape appends published chain snapshots to one JSONL file per trading
// session, named <symbol>-chain-YYYY-MM-DD.jsonl. The session date comes
// from the snapshot's AsOf in the market timezone, so an evening snapshot
// lands in its own session's file regardless of the UTC date.
type Tape struct {
	dir    string
	symbol string
	loc    *time.Location

	mu      sync.Mutex
	file    *os.File
	enc     *json.Encoder
	session string
	last    uint64
	records int
}

func OpenTape(dir, symbol string, loc *time.Location) (*Tape, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating tape dir: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tape{dir: dir, symbol: symbol, loc: loc}, nil
}

// Record appends snap. A version at or below the last one written is a
// replay and is skipped.
func (t *Tape) Record(snap chain.Snapshot) error {
	asOf := snap.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if snap.Version <= t.last {
		return nil
	}
	if err := t.rotate(asOf.In(t.loc).Format(time.DateOnly)); err != nil {
		return err
	}

	rec := TapeRecord{
		Type:    "chain",
		Symbol:  t.symbol,
		Expiry:  snap.Expiry,
		Ts:      asOf.UTC().Format(time.RFC3339Nano),
		Version: snap.Version,
		Data:    snap.Payload(),
	}
	if err := t.enc.Encode(rec); err != nil {
		return fmt.Errorf("writing snapshot %d: %w", snap.Version, err)
	}
	t.last = snap.Version
	t.records++
	return nil
}

// Path is the tape file for a session date (YYYY-MM-DD).
func (t *Tape) Path(session string) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s-chain-%s.jsonl", t.symbol, session))
}

// Records is the number of snapshots written since open.
func (t *Tape) Records() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records
}

func (t *Tape) rotate(session string) error {
	if t.file != nil && t.session == session {
		return nil
	}
	if t.file != nil {
		t.file.Close()
	}

	f, err := os.OpenFile(t.Path(session), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening tape for %s: %w", session, err)
	}
	t.file = f
	t.enc = json.NewEncoder(f)
	t.session = session
	return nil
}

func (t *Tape) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file, t.enc = nil, nil
	return err
}
