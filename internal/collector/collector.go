package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/gw/options-chain/internal/chain"
	"github.com/gw/options-chain/internal/gateway"
	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/metrics"
)

var (
	// ErrDisconnected ends Run when the gateway session is gone.
	ErrDisconnected = errors.New("refresh loop terminated: gateway disconnected")
	// ErrTransientFetch marks a cycle whose data fetch failed; the next
	// cycle retries.
	ErrTransientFetch = errors.New("transient fetch error")
	ErrAlreadyRunning = errors.New("refresh loop already running")
)

// disconnectLimit is how many consecutive not-connected cycles end the loop.
const disconnectLimit = 2

// Recorder receives every published snapshot.
type Recorder interface {
	Record(snap chain.Snapshot) error
}

type Options struct {
	Symbol          string
	Exchange        string
	Currency        string
	Interval        time.Duration
	StrikesAround   int
	Throttle        time.Duration // minimum gap between quote requests
	WaitFloor       time.Duration
	WaitPerContract time.Duration
	Expiry          ExpiryPolicy
	Now             func() time.Time
	Recorder        Recorder
	Logger          *logger.Logger
}

// Collector is the refresh engine. It polls the gateway for the underlying
// price and the target expiry's strike window and publishes each cycle's
// result to the store as one snapshot.
type Collector struct {
	gw      gateway.Port
	store   *chain.Store
	opts    Options
	limiter *rate.Limiter
	log     *logger.Logger

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
	cancel   context.CancelFunc
}

func New(gw gateway.Port, store *chain.Store, opts Options) *Collector {
	if opts.Exchange == "" {
		opts.Exchange = "SMART"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Expiry == nil {
		opts.Expiry = SessionDate{}
	}

	limit := rate.Inf
	if opts.Throttle > 0 {
		limit = rate.Every(opts.Throttle)
	}

	return &Collector{
		gw:      gw,
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.OrGlobal(opts.Logger).With("component", "collector", "symbol", opts.Symbol),
	}
}

// Run polls until Stop is called, ctx ends, or the gateway is lost. It
// returns nil after Stop and ErrDisconnected after a lost session.
func (c *Collector) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	stop, done := make(chan struct{}), make(chan struct{})
	c.running, c.stop, c.done, c.cancel = true, stop, done, cancel
	c.stopOnce = &sync.Once{}
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()

	c.log.Infow("refresh loop started", "interval", c.opts.Interval)

	misses := 0
	for {
		if !c.gw.IsConnected() {
			misses++
			metrics.RecordCycle("not_connected", 0)
			c.log.Warnw("gateway not connected, cycle skipped", "consecutive", misses)
			if misses >= disconnectLimit {
				return ErrDisconnected
			}
		} else {
			misses = 0
			if err := c.Cycle(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, gateway.ErrNotConnected) {
					c.log.Warnw("gateway connection lost", "err", err)
					return fmt.Errorf("%w: %w", ErrDisconnected, err)
				}
				c.log.Warnw("cycle failed", "err", err)
			}
		}

		timer := time.NewTimer(c.opts.Interval)
		select {
		case <-stop:
			timer.Stop()
			c.log.Infow("refresh loop stopped")
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stop asks the loop to exit after its current cycle and waits up to the
// interval plus two seconds. If the loop is still active it is cancelled
// and Stop returns false.
func (c *Collector) Stop() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return true
	}
	stop, done, cancel, once := c.stop, c.done, c.cancel, c.stopOnce
	c.mu.Unlock()

	once.Do(func() { close(stop) })

	grace := c.opts.Interval + 2*time.Second
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		c.log.Warnw("refresh loop did not stop within grace period, forcing teardown", "grace", grace)
		cancel()
		return false
	}
}

func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Cycle runs one refresh. Every market-data line opened during the cycle is
// released before it returns.
func (c *Collector) Cycle(ctx context.Context) (err error) {
	start := time.Now()
	var held []gateway.Contract
	result := "published"
	defer func() {
		c.release(held)
		switch {
		case errors.Is(err, gateway.ErrGatewayTimeout):
			result = "timeout"
		case err != nil:
			result = "error"
		}
		metrics.RecordCycle(result, time.Since(start))
	}()

	underlying, err := c.qualifyUnderlying(ctx)
	if err != nil {
		return err
	}

	price, err := c.underlyingPrice(ctx, underlying, &held)
	if err != nil {
		if errors.Is(err, gateway.ErrNotConnected) || ctx.Err() != nil {
			return err
		}
		price = c.store.Read().UnderlyingPrice
		c.log.Warnw("price update skipped, keeping last price", "err", err, "price", price)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: no reference price for %s", ErrTransientFetch, c.opts.Symbol)
	}

	params, err := c.gw.ChainParameters(ctx, underlying)
	if err != nil {
		return fmt.Errorf("%w: chain parameters: %w", ErrTransientFetch, err)
	}
	listing, ok := pickListing(params, c.opts.Exchange)
	if !ok {
		return fmt.Errorf("%w: no option chain listed for %s", ErrTransientFetch, c.opts.Symbol)
	}

	expiry := c.opts.Expiry.TargetExpiry(c.opts.Now())
	if !contains(listing.Expirations, expiry) {
		result = "no_expiry"
		c.log.Infow("target expiry not listed, clearing quotes", "expiry", expiry)
		c.publish(chain.Snapshot{UnderlyingPrice: price, Expiry: expiry, AsOf: c.opts.Now()})
		return nil
	}

	window := chain.StrikeWindow(listing.Strikes, price, c.opts.StrikesAround)
	contracts := make([]gateway.Contract, 0, 2*len(window))
	for _, k := range window {
		for _, right := range []gateway.Right{gateway.Call, gateway.Put} {
			oc := gateway.OptionContract(c.opts.Symbol, expiry, k, right, listing.Exchange)
			oc.TradingClass = listing.TradingClass
			oc.Currency = c.opts.Currency
			contracts = append(contracts, oc)
		}
	}

	qualified, err := c.qualify(ctx, contracts)
	if err != nil {
		return err
	}
	if dropped := len(contracts) - len(qualified); dropped > 0 {
		c.log.Debugw("contracts failed qualification", "dropped", dropped)
	}

	quotes, err := c.fetchQuotes(ctx, qualified, &held)
	if err != nil {
		return err
	}

	c.publish(chain.Snapshot{UnderlyingPrice: price, Expiry: expiry, Quotes: quotes, AsOf: c.opts.Now()})
	return nil
}

func (c *Collector) qualifyUnderlying(ctx context.Context) (gateway.Contract, error) {
	stock := gateway.StockContract(c.opts.Symbol, c.opts.Exchange, c.opts.Currency)
	out, err := c.qualify(ctx, []gateway.Contract{stock})
	if err != nil {
		return gateway.Contract{}, err
	}
	if len(out) == 0 {
		return gateway.Contract{}, fmt.Errorf("%w: underlying %s did not qualify", ErrTransientFetch, c.opts.Symbol)
	}
	return out[0], nil
}

// qualify resolves a batch within the wait budget for its size and keeps
// only contracts that came back with an id.
func (c *Collector) qualify(ctx context.Context, contracts []gateway.Contract) ([]gateway.Contract, error) {
	if len(contracts) == 0 {
		return nil, nil
	}
	qctx, cancel := context.WithTimeout(ctx, c.waitBudget(len(contracts)))
	defer cancel()

	out, err := c.gw.QualifyContracts(qctx, contracts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: qualifying %d contracts", gateway.ErrGatewayTimeout, len(contracts))
		}
		if errors.Is(err, gateway.ErrNotConnected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: qualify: %w", ErrTransientFetch, err)
	}

	kept := out[:0]
	for _, q := range out {
		if q.Qualified() {
			kept = append(kept, q)
		}
	}
	return kept, nil
}

func (c *Collector) underlyingPrice(ctx context.Context, underlying gateway.Contract, held *[]gateway.Contract) (decimal.Decimal, error) {
	tickers, err := c.request(ctx, []gateway.Contract{underlying}, held)
	if err != nil {
		return decimal.Zero, err
	}
	if c.await(ctx, tickers, c.opts.WaitFloor) == 0 {
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		return decimal.Zero, fmt.Errorf("%w: underlying quote", gateway.ErrGatewayTimeout)
	}
	price, ok := chain.ReferencePrice(tickers[0].Values())
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no positive price for %s", ErrTransientFetch, c.opts.Symbol)
	}
	return price, nil
}

// fetchQuotes requests every contract, waits for population within the
// budget, and normalizes the result. Quotes still pending at the deadline
// come back with both sides Unavailable; if none arrived the cycle fails.
func (c *Collector) fetchQuotes(ctx context.Context, contracts []gateway.Contract, held *[]gateway.Contract) (map[chain.Key]chain.Quote, error) {
	quotes := make(map[chain.Key]chain.Quote, len(contracts))
	if len(contracts) == 0 {
		return quotes, nil
	}

	tickers, err := c.request(ctx, contracts, held)
	if err != nil {
		return nil, err
	}

	filled := c.await(ctx, tickers, c.waitBudget(len(tickers)))
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if filled == 0 {
		return nil, fmt.Errorf("%w: none of %d quotes populated", gateway.ErrGatewayTimeout, len(tickers))
	}
	if filled < len(tickers) {
		c.log.Warnw("quotes not populated before deadline", "pending", len(tickers)-filled, "total", len(tickers))
	}

	for _, t := range tickers {
		q := chain.Quote{
			Strike:        t.Contract.Strike,
			Right:         t.Contract.Right,
			DisplaySymbol: t.Contract.LocalSymbol,
		}
		if t.Filled() {
			q = chain.QuoteFromTicks(t.Contract, t.Values())
		}
		quotes[q.Key()] = q
	}
	return quotes, nil
}

// request opens a snapshot line per contract, paced by the throttle. Every
// contract the gateway accepted is appended to held.
func (c *Collector) request(ctx context.Context, contracts []gateway.Contract, held *[]gateway.Contract) ([]*gateway.Ticker, error) {
	tickers := make([]*gateway.Ticker, 0, len(contracts))
	for _, ct := range contracts {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		t, err := c.gw.RequestSnapshot(ctx, ct)
		if err != nil {
			if errors.Is(err, gateway.ErrNotConnected) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: snapshot %s: %w", ErrTransientFetch, ct, err)
		}
		*held = append(*held, ct)
		tickers = append(tickers, t)
	}
	return tickers, nil
}

// await blocks until every ticker is populated, the budget runs out, or ctx
// ends, and reports how many were populated.
func (c *Collector) await(ctx context.Context, tickers []*gateway.Ticker, budget time.Duration) int {
	timer := time.NewTimer(budget)
	defer timer.Stop()

	for _, t := range tickers {
		select {
		case <-t.Done():
		case <-timer.C:
			return countFilled(tickers)
		case <-ctx.Done():
			return countFilled(tickers)
		}
	}
	return len(tickers)
}

func countFilled(tickers []*gateway.Ticker) int {
	n := 0
	for _, t := range tickers {
		if t.Filled() {
			n++
		}
	}
	return n
}

func (c *Collector) waitBudget(n int) time.Duration {
	return max(c.opts.WaitFloor, time.Duration(n)*c.opts.WaitPerContract)
}

func (c *Collector) release(held []gateway.Contract) {
	for _, ct := range held {
		if err := c.gw.ReleaseSnapshot(ct); err != nil {
			c.log.Warnw("releasing market data failed", "contract", ct.String(), "err", err)
		}
	}
}

func (c *Collector) publish(snap chain.Snapshot) {
	stored := c.store.Publish(snap)

	bids, asks := stored.UnavailableSides()
	price, _ := stored.UnderlyingPrice.Float64()
	metrics.RecordSnapshot(price, len(stored.Quotes), bids, asks)
	c.log.Debugw("snapshot published", "version", stored.Version, "price", stored.UnderlyingPrice, "quotes", len(stored.Quotes))

	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.Record(stored); err != nil {
		c.log.Warnw("tape write failed", "version", stored.Version, "err", err)
	}
}

// pickListing prefers the listing on the configured exchange, else the first.
func pickListing(params []gateway.ChainParams, exchange string) (gateway.ChainParams, bool) {
	if len(params) == 0 {
		return gateway.ChainParams{}, false
	}
	for _, p := range params {
		if p.Exchange == exchange {
			return p, true
		}
	}
	return params[0], true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
