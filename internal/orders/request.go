package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/options-chain/internal/gateway"
)

// Request is a single-leg order as submitted by a client.
type Request struct {
	Symbol     string           `json:"symbol"`
	Expiry     string           `json:"expiry"` // YYYYMMDD or YYYY-MM-DD
	Strike     decimal.Decimal  `json:"strike"`
	Right      string           `json:"right"`
	Action     string           `json:"action"`
	Quantity   int              `json:"quantity"`
	OrderType  string           `json:"orderType,omitempty"` // MARKET (default) or LIMIT
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
}

// MultiLegRequest is an ordered set of legs. Leg 0 is the bracket parent
// when the legs span symbols or expiries.
type MultiLegRequest struct {
	Legs []Request `json:"legs"`
}

// leg is a validated Request.
type leg struct {
	symbol     string
	expiry     string
	strike     decimal.Decimal
	right      gateway.Right
	action     gateway.Action
	quantity   int
	orderType  gateway.OrderType
	limitPrice decimal.Decimal
}

func parseOrderType(s string) (gateway.OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MARKET", "MKT":
		return gateway.Market, nil
	case "LIMIT", "LMT":
		return gateway.Limit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedOrderType, s)
}

func parseExpiry(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("20060102"), nil
		}
	}
	return "", fmt.Errorf("%w: expiry %q is not YYYYMMDD", ErrInvalidOrder, s)
}

func (r Request) parse() (leg, error) {
	l := leg{
		symbol:   strings.ToUpper(strings.TrimSpace(r.Symbol)),
		strike:   r.Strike,
		quantity: r.Quantity,
	}
	if l.symbol == "" {
		return leg{}, fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}

	var err error
	if l.expiry, err = parseExpiry(r.Expiry); err != nil {
		return leg{}, err
	}
	if !l.strike.IsPositive() {
		return leg{}, fmt.Errorf("%w: strike must be positive", ErrInvalidOrder)
	}
	if l.right, err = gateway.ParseRight(r.Right); err != nil {
		return leg{}, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if l.action, err = gateway.ParseAction(r.Action); err != nil {
		return leg{}, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	if l.quantity <= 0 {
		return leg{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if l.orderType, err = parseOrderType(r.OrderType); err != nil {
		return leg{}, err
	}
	if l.orderType == gateway.Limit {
		if r.LimitPrice == nil || r.LimitPrice.IsNegative() {
			return leg{}, fmt.Errorf("%w: limit order needs a non-negative limitPrice", ErrInvalidOrder)
		}
		l.limitPrice = *r.LimitPrice
	}
	return l, nil
}

func (l leg) contract() gateway.Contract {
	return gateway.OptionContract(l.symbol, l.expiry, l.strike, l.right, "SMART")
}

func (l leg) order() gateway.Order {
	return gateway.Order{
		Action:     l.action,
		Quantity:   l.quantity,
		Type:       l.orderType,
		LimitPrice: l.limitPrice,
		Transmit:   true,
	}
}
