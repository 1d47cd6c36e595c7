package gateway

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return Call, nil
	case "P", "PUT":
		return Put, nil
	}
	return "", fmt.Errorf("unknown option right %q", s)
}

type SecType string

const (
	Stock  SecType = "STK"
	Option SecType = "OPT"
	Combo  SecType = "BAG"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown order action %q", s)
}

type OrderType string

const (
	Market OrderType = "MKT"
	Limit  OrderType = "LMT"
)

// ComboLeg is one ratio/action pair inside a BAG contract.
type ComboLeg struct {
	ConID    int64
	Ratio    int
	Action   Action
	Exchange string
}

// Contract identifies an instrument. ConID is zero until qualified.
type Contract struct {
	ConID        int64
	Symbol       string
	SecType      SecType
	Expiry       string // YYYYMMDD
	Strike       decimal.Decimal
	Right        Right
	Exchange     string
	Currency     string
	TradingClass string
	LocalSymbol  string
	ComboLegs    []ComboLeg
}

func StockContract(symbol, exchange, currency string) Contract {
	return Contract{Symbol: symbol, SecType: Stock, Exchange: exchange, Currency: currency}
}

func OptionContract(symbol, expiry string, strike decimal.Decimal, right Right, exchange string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  Option,
		Expiry:   expiry,
		Strike:   strike,
		Right:    right,
		Exchange: exchange,
		Currency: "USD",
	}
}

func (c Contract) Qualified() bool {
	return c.ConID != 0
}

func (c Contract) String() string {
	switch c.SecType {
	case Option:
		return fmt.Sprintf("%s %s %s%s", c.Symbol, c.Expiry, c.Strike.String(), c.Right)
	case Combo:
		return fmt.Sprintf("%s BAG(%d legs)", c.Symbol, len(c.ComboLegs))
	}
	return c.Symbol
}

// Order is the brokerage order ticket. ID is assigned by PlaceOrder.
type Order struct {
	ID         int64
	Action     Action
	Quantity   int
	Type       OrderType
	LimitPrice decimal.Decimal
	ParentID   int64
	Transmit   bool
}

// ChainParams describes one option chain listing for an underlying.
type ChainParams struct {
	Exchange     string
	TradingClass string
	Expirations  []string
	Strikes      []decimal.Decimal
}

// TickValues holds raw quote fields. Missing fields are NaN; the brokerage
// also uses -1 for "no quote".
type TickValues struct {
	Bid         float64
	Ask         float64
	Last        float64
	Close       float64
	MarketPrice float64
}

func EmptyTicks() TickValues {
	nan := math.NaN()
	return TickValues{Bid: nan, Ask: nan, Last: nan, Close: nan, MarketPrice: nan}
}

// Ticker is a pending one-shot quote. Fill populates it once.
type Ticker struct {
	Contract Contract

	mu     sync.Mutex
	values TickValues
	filled bool
	done   chan struct{}
}

func NewTicker(c Contract) *Ticker {
	return &Ticker{Contract: c, values: EmptyTicks(), done: make(chan struct{})}
}

// Fill sets the quote fields and closes Done. Later calls are ignored.
func (t *Ticker) Fill(v TickValues) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filled {
		return
	}
	t.values = v
	t.filled = true
	close(t.done)
}

func (t *Ticker) Done() <-chan struct{} {
	return t.done
}

func (t *Ticker) Filled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filled
}

func (t *Ticker) Values() TickValues {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values
}

// Brokerage order status strings.
const (
	StatusPendingSubmit = "PendingSubmit"
	StatusPreSubmitted  = "PreSubmitted"
	StatusSubmitted     = "Submitted"
	StatusPendingCancel = "PendingCancel"
	StatusCancelled     = "Cancelled"
	StatusAPICancelled  = "ApiCancelled"
	StatusFilled        = "Filled"
	StatusInactive      = "Inactive"
)

// OrderState is the brokerage's view of an order.
type OrderState struct {
	Status    string
	Filled    float64
	Remaining float64
}

// Trade is the live handle for a placed order. Gateways update it as
// status events arrive.
type Trade struct {
	Contract Contract
	Order    Order

	mu    sync.RWMutex
	state OrderState
}

func NewTrade(c Contract, o Order, state OrderState) *Trade {
	return &Trade{Contract: c, Order: o, state: state}
}

func (t *Trade) State() OrderState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Trade) Update(s OrderState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
