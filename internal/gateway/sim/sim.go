// Package sim is an in-process paper gateway. It lists a strike grid and a
// week of expirations for one underlying, populates quote snapshots after a
// delay, and walks orders through the brokerage status lifecycle.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/options-chain/internal/gateway"
)

var (
	ErrConnectRefused = errors.New("sim: connection refused")
	ErrUnknownOrder   = errors.New("sim: unknown order")
	ErrNotQualified   = errors.New("sim: contract not qualified")
)

const underlyingConID = 756733

type Config struct {
	Symbol          string
	UnderlyingPrice float64
	StrikeStep      float64
	StrikeCount     int
	ExpiryDays      int           // weekday expirations listed, today included
	QuoteLatency    time.Duration // delay before a snapshot is populated
	Volatility      float64       // per-request relative stdev of the price walk, 0 = fixed
	Seed            int64
	AutoFill        bool          // market orders fill after FillDelay
	FillDelay       time.Duration
	CancelDelay     time.Duration // PendingCancel to Cancelled
	Location        *time.Location
	Now             func() time.Time
}

func (c *Config) defaults() {
	if c.Symbol == "" {
		c.Symbol = "SPY"
	}
	if c.UnderlyingPrice <= 0 {
		c.UnderlyingPrice = 500
	}
	if c.StrikeStep <= 0 {
		c.StrikeStep = 1
	}
	if c.StrikeCount <= 0 {
		c.StrikeCount = 80
	}
	if c.ExpiryDays <= 0 {
		c.ExpiryDays = 5
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Placement is one PlaceOrder call as the gateway received it.
type Placement struct {
	Contract gateway.Contract
	Order    gateway.Order
}

type Gateway struct {
	cfg Config

	mu          sync.Mutex
	connected   bool
	refuse      bool
	price       float64
	rng         *rand.Rand
	strikes     []float64
	conIDs      map[string]int64
	nextConID   int64
	rejected    map[string]bool
	nanQuotes   bool
	stall       bool
	subs        map[int64]int
	nextOrderID int64
	trades      map[int64]*gateway.Trade
	held        map[int64]bool
	placed      []Placement
	cancelled   []int64
}

var _ gateway.Port = (*Gateway)(nil)

func New(cfg Config) *Gateway {
	cfg.defaults()

	center := math.Round(cfg.UnderlyingPrice/cfg.StrikeStep) * cfg.StrikeStep
	half := cfg.StrikeCount / 2
	strikes := make([]float64, 0, cfg.StrikeCount+1)
	for i := -half; i <= half; i++ {
		k := center + float64(i)*cfg.StrikeStep
		if k > 0 {
			strikes = append(strikes, k)
		}
	}

	return &Gateway{
		cfg:         cfg,
		price:       cfg.UnderlyingPrice,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		strikes:     strikes,
		conIDs:      make(map[string]int64),
		nextConID:   800000000,
		rejected:    make(map[string]bool),
		subs:        make(map[int64]int),
		nextOrderID: 1,
		trades:      make(map[int64]*gateway.Trade),
		held:        make(map[int64]bool),
	}
}

func (g *Gateway) Connect(ctx context.Context, ep gateway.Endpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refuse {
		return fmt.Errorf("%w: %s:%d", ErrConnectRefused, ep.Host, ep.Port)
	}
	g.connected = true
	return nil
}

func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	return nil
}

func (g *Gateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *Gateway) QualifyContracts(ctx context.Context, contracts ...gateway.Contract) ([]gateway.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}

	out := make([]gateway.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.Symbol != g.cfg.Symbol {
			continue
		}
		switch c.SecType {
		case gateway.Stock:
			c.ConID = underlyingConID
			c.LocalSymbol = c.Symbol
		case gateway.Option:
			if !g.listedLocked(c) || g.rejected[optionKey(c.Strike, c.Right)] {
				continue
			}
			c.ConID = g.conIDLocked(c)
			c.TradingClass = c.Symbol
			c.LocalSymbol = occSymbol(c)
		default:
			continue
		}
		if c.Exchange == "" {
			c.Exchange = "SMART"
		}
		if c.Currency == "" {
			c.Currency = "USD"
		}
		out = append(out, c)
	}
	return out, nil
}

func (g *Gateway) ChainParameters(ctx context.Context, underlying gateway.Contract) ([]gateway.ChainParams, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	if underlying.Symbol != g.cfg.Symbol {
		return nil, nil
	}

	strikes := make([]decimal.Decimal, len(g.strikes))
	for i, k := range g.strikes {
		strikes[i] = decimal.NewFromFloat(k)
	}
	expirations := g.expirationsLocked()

	// CBOE first so callers have to pick the SMART listing.
	return []gateway.ChainParams{
		{Exchange: "CBOE", TradingClass: g.cfg.Symbol, Expirations: expirations, Strikes: strikes},
		{Exchange: "SMART", TradingClass: g.cfg.Symbol, Expirations: expirations, Strikes: strikes},
	}, nil
}

func (g *Gateway) RequestSnapshot(ctx context.Context, c gateway.Contract) (*gateway.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	if !c.Qualified() {
		return nil, fmt.Errorf("%w: %s", ErrNotQualified, c)
	}

	g.subs[c.ConID]++
	t := gateway.NewTicker(c)
	if g.stall {
		return t, nil
	}

	var v gateway.TickValues
	if c.SecType == gateway.Stock {
		v = g.underlyingTicksLocked()
	} else {
		v = g.optionTicksLocked(c)
	}
	if g.cfg.QuoteLatency <= 0 {
		t.Fill(v)
	} else {
		time.AfterFunc(g.cfg.QuoteLatency, func() { t.Fill(v) })
	}
	return t, nil
}

func (g *Gateway) ReleaseSnapshot(c gateway.Contract) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subs[c.ConID] <= 1 {
		delete(g.subs, c.ConID)
		return nil
	}
	g.subs[c.ConID]--
	return nil
}

func (g *Gateway) underlyingTicksLocked() gateway.TickValues {
	if g.cfg.Volatility > 0 && g.price > 0 {
		g.price *= 1 + g.rng.NormFloat64()*g.cfg.Volatility
	}
	if g.price <= 0 {
		return gateway.EmptyTicks()
	}
	p := round2(g.price)
	return gateway.TickValues{Bid: p - 0.01, Ask: p + 0.01, Last: p, Close: p, MarketPrice: p}
}

func (g *Gateway) optionTicksLocked(c gateway.Contract) gateway.TickValues {
	if g.nanQuotes {
		return gateway.EmptyTicks()
	}
	k, _ := c.Strike.Float64()
	s := g.price

	intrinsic := math.Max(0, s-k)
	if c.Right == gateway.Put {
		intrinsic = math.Max(0, k-s)
	}
	mid := intrinsic + 1.5*math.Exp(-math.Abs(s-k)/5)
	spread := 0.02 + 0.01*mid

	bid := round2(mid - spread/2)
	if bid < 0.01 {
		bid = -1
	}
	ask := round2(mid + spread/2)
	return gateway.TickValues{Bid: bid, Ask: ask, Last: round2(mid), Close: round2(mid), MarketPrice: round2(mid)}
}

func (g *Gateway) listedLocked(c gateway.Contract) bool {
	found := false
	for _, e := range g.expirationsLocked() {
		if e == c.Expiry {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	k, _ := c.Strike.Float64()
	for _, s := range g.strikes {
		if math.Abs(s-k) < 1e-9 {
			return true
		}
	}
	return false
}

func (g *Gateway) conIDLocked(c gateway.Contract) int64 {
	key := c.Expiry + ":" + optionKey(c.Strike, c.Right)
	if id, ok := g.conIDs[key]; ok {
		return id
	}
	g.nextConID++
	g.conIDs[key] = g.nextConID
	return g.nextConID
}

func (g *Gateway) expirationsLocked() []string {
	day := g.cfg.Now().In(g.cfg.Location)
	out := make([]string, 0, g.cfg.ExpiryDays)
	for len(out) < g.cfg.ExpiryDays {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, day.Format("20060102"))
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func optionKey(strike decimal.Decimal, right gateway.Right) string {
	return strike.String() + string(right)
}

// occSymbol renders the OCC option symbol, e.g. "SPY   250514C00500000".
func occSymbol(c gateway.Contract) string {
	exp := c.Expiry
	if len(exp) == 8 {
		exp = exp[2:]
	}
	milli := c.Strike.Mul(decimal.NewFromInt(1000)).IntPart()
	return fmt.Sprintf("%-6s%s%s%08d", c.Symbol, exp, c.Right, milli)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
