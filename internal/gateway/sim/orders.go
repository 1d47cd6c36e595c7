package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/options-chain/internal/gateway"
)

// PlaceOrder assigns the next order id. Untransmitted orders are held in
// PreSubmitted until a transmitting child of the same parent arrives, then
// the whole group goes live together.
func (g *Gateway) PlaceOrder(ctx context.Context, c gateway.Contract, o gateway.Order) (*gateway.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	if !c.Qualified() && c.SecType != gateway.Combo {
		return nil, fmt.Errorf("%w: %s", ErrNotQualified, c)
	}
	for _, leg := range c.ComboLegs {
		if leg.ConID == 0 {
			return nil, fmt.Errorf("%w: combo leg without conId", ErrNotQualified)
		}
	}

	o.ID = g.nextOrderID
	g.nextOrderID++
	g.placed = append(g.placed, Placement{Contract: c, Order: o})

	qty := float64(o.Quantity)
	if !o.Transmit {
		t := gateway.NewTrade(c, o, gateway.OrderState{Status: gateway.StatusPreSubmitted, Remaining: qty})
		g.trades[o.ID] = t
		g.held[o.ID] = true
		return t, nil
	}

	t := gateway.NewTrade(c, o, gateway.OrderState{Status: gateway.StatusSubmitted, Remaining: qty})
	g.trades[o.ID] = t
	g.goLiveLocked(t)

	if o.ParentID != 0 {
		for id := range g.held {
			held := g.trades[id]
			if id == o.ParentID || held.Order.ParentID == o.ParentID {
				delete(g.held, id)
				st := held.State()
				st.Status = gateway.StatusSubmitted
				held.Update(st)
				g.goLiveLocked(held)
			}
		}
	}
	return t, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, o gateway.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return gateway.ErrNotConnected
	}
	t, ok := g.trades[o.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrder, o.ID)
	}
	g.cancelled = append(g.cancelled, o.ID)
	delete(g.held, o.ID)

	st := t.State()
	if st.Status == gateway.StatusFilled || st.Status == gateway.StatusCancelled {
		return nil
	}
	st.Status = gateway.StatusPendingCancel
	t.Update(st)

	time.AfterFunc(g.cfg.CancelDelay, func() {
		cur := t.State()
		if cur.Status == gateway.StatusPendingCancel {
			cur.Status = gateway.StatusCancelled
			t.Update(cur)
		}
	})
	return nil
}

func (g *Gateway) goLiveLocked(t *gateway.Trade) {
	if !g.cfg.AutoFill || t.Order.Type != gateway.Market {
		return
	}
	qty := float64(t.Order.Quantity)
	time.AfterFunc(g.cfg.FillDelay, func() {
		cur := t.State()
		if cur.Status == gateway.StatusSubmitted {
			t.Update(gateway.OrderState{Status: gateway.StatusFilled, Filled: qty})
		}
	})
}

// SetConnected flips the session state without a Connect call, to simulate
// a dropped link.
func (g *Gateway) SetConnected(v bool) {
	g.mu.Lock()
	g.connected = v
	g.mu.Unlock()
}

// RefuseConnect makes later Connect calls fail.
func (g *Gateway) RefuseConnect(v bool) {
	g.mu.Lock()
	g.refuse = v
	g.mu.Unlock()
}

// RejectStrike makes qualification drop the given strike/right.
func (g *Gateway) RejectStrike(strike decimal.Decimal, right gateway.Right) {
	g.mu.Lock()
	g.rejected[optionKey(strike, right)] = true
	g.mu.Unlock()
}

// SetUnderlyingPrice moves the underlying. A non-positive price produces
// snapshots with no usable fields.
func (g *Gateway) SetUnderlyingPrice(p float64) {
	g.mu.Lock()
	g.price = p
	g.mu.Unlock()
}

// SetNaNQuotes makes option snapshots populate with NaN fields.
func (g *Gateway) SetNaNQuotes(v bool) {
	g.mu.Lock()
	g.nanQuotes = v
	g.mu.Unlock()
}

// StallQuotes makes snapshots never populate.
func (g *Gateway) StallQuotes(v bool) {
	g.mu.Lock()
	g.stall = v
	g.mu.Unlock()
}

func (g *Gateway) Placed() []Placement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Placement(nil), g.placed...)
}

func (g *Gateway) Cancelled() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.cancelled...)
}

// ActiveSubscriptions counts market-data lines not yet released.
func (g *Gateway) ActiveSubscriptions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.subs {
		n += c
	}
	return n
}

func (g *Gateway) Trade(id int64) (*gateway.Trade, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.trades[id]
	return t, ok
}

// Strikes returns the listed strike grid.
func (g *Gateway) Strikes() []decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]decimal.Decimal, len(g.strikes))
	for i, k := range g.strikes {
		out[i] = decimal.NewFromFloat(k)
	}
	return out
}
