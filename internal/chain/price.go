package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/gw/options-chain/internal/gateway"
)

// unavailableJSON is the wire form of a missing price.
const unavailableJSON = `"N/A"`

// Price is a quote side that may be Unavailable. The zero value is
// Unavailable; a zero price is a real price.
type Price struct {
	value decimal.Decimal
	ok    bool
}

func Unavailable() Price { return Price{} }

func PriceOf(d decimal.Decimal) Price { return Price{value: d, ok: true} }

func (p Price) Available() bool { return p.ok }

func (p Price) Decimal() (decimal.Decimal, bool) { return p.value, p.ok }

func (p Price) Equal(o Price) bool {
	if p.ok != o.ok {
		return false
	}
	return !p.ok || p.value.Equal(o.value)
}

func (p Price) String() string {
	if !p.ok {
		return "N/A"
	}
	return p.value.String()
}

func (p Price) MarshalJSON() ([]byte, error) {
	if !p.ok {
		return []byte(unavailableJSON), nil
	}
	return []byte(p.value.String()), nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == unavailableJSON || string(b) == "null" {
		*p = Unavailable()
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	*p = PriceOf(d)
	return nil
}

// Normalize maps a raw quote field to a Price. NaN, infinities and the
// negative "no quote" sentinels are Unavailable; zero stays zero.
func Normalize(v float64) Price {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Unavailable()
	}
	return PriceOf(decimal.NewFromFloat(v))
}

// ReferencePrice picks the underlying's price from a snapshot: market price,
// then last, then close. Only positive values qualify.
func ReferencePrice(v gateway.TickValues) (decimal.Decimal, bool) {
	for _, f := range []float64{v.MarketPrice, v.Last, v.Close} {
		if p, ok := Normalize(f).Decimal(); ok && p.IsPositive() {
			return p, true
		}
	}
	return decimal.Zero, false
}
