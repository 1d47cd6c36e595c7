// Package gateway defines the brokerage capability the service runs against.
// Implementations must be safe for concurrent use: the refresh engine and
// request handlers call into the same Port.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by any operation issued while the gateway
	// session is down, and by calls that detect the session dropping.
	ErrNotConnected = errors.New("not connected to gateway")
	// ErrGatewayTimeout is returned when a qualification or quote wait
	// exceeds its bound.
	ErrGatewayTimeout = errors.New("gateway timeout")
)

// Endpoint identifies the brokerage session to open.
type Endpoint struct {
	Host     string
	Port     int
	ClientID int
}

// Port is the brokerage gateway as seen by the engine and the ledger.
type Port interface {
	// Connect opens the session. The context bounds the attempt.
	Connect(ctx context.Context, ep Endpoint) error
	Disconnect() error
	IsConnected() bool

	// QualifyContracts resolves contracts to their brokerage identity.
	// Contracts that fail resolution are omitted from the result; the
	// batch itself only errors on transport problems.
	QualifyContracts(ctx context.Context, contracts ...Contract) ([]Contract, error)
	// ChainParameters lists the option chains trading on an underlying.
	ChainParameters(ctx context.Context, underlying Contract) ([]ChainParams, error)

	// RequestSnapshot starts a one-shot quote request. The returned ticker
	// signals Done once its fields are populated.
	RequestSnapshot(ctx context.Context, c Contract) (*Ticker, error)
	// ReleaseSnapshot frees the market-data line held for c.
	ReleaseSnapshot(c Contract) error

	// PlaceOrder submits o on c. The gateway assigns the order id and
	// returns a live trade handle.
	PlaceOrder(ctx context.Context, c Contract, o Order) (*Trade, error)
	CancelOrder(ctx context.Context, o Order) error
}
