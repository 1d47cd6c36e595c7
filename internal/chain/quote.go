package chain

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/gw/options-chain/internal/gateway"
)

// Key identifies a quote within a snapshot. Strike holds the canonical
// decimal string so equal strikes compare equal.
type Key struct {
	Strike string
	Right  gateway.Right
}

func KeyOf(strike decimal.Decimal, right gateway.Right) Key {
	return Key{Strike: strike.String(), Right: right}
}

// String renders the wire key, "<strike>_<right>", with integral strikes
// written as "500.0".
func (k Key) String() string {
	s := k.Strike
	if d, err := decimal.NewFromString(s); err == nil && d.IsInteger() {
		s = d.StringFixed(1)
	}
	return s + "_" + string(k.Right)
}

type Quote struct {
	Strike        decimal.Decimal
	Right         gateway.Right
	Bid           Price
	Ask           Price
	DisplaySymbol string
}

func (q Quote) Key() Key {
	return KeyOf(q.Strike, q.Right)
}

func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Strike        json.Number   `json:"strike"`
		Right         gateway.Right `json:"right"`
		Bid           Price         `json:"bid"`
		Ask           Price         `json:"ask"`
		DisplaySymbol string        `json:"displaySymbol"`
	}{
		Strike:        json.Number(q.Strike.String()),
		Right:         q.Right,
		Bid:           q.Bid,
		Ask:           q.Ask,
		DisplaySymbol: q.DisplaySymbol,
	})
}

func (q *Quote) UnmarshalJSON(b []byte) error {
	var w struct {
		Strike        json.Number   `json:"strike"`
		Right         gateway.Right `json:"right"`
		Bid           Price         `json:"bid"`
		Ask           Price         `json:"ask"`
		DisplaySymbol string        `json:"displaySymbol"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	strike, err := decimal.NewFromString(w.Strike.String())
	if err != nil {
		return err
	}
	*q = Quote{Strike: strike, Right: w.Right, Bid: w.Bid, Ask: w.Ask, DisplaySymbol: w.DisplaySymbol}
	return nil
}

// QuoteFromTicks builds the normalized quote for a populated option ticker.
func QuoteFromTicks(c gateway.Contract, v gateway.TickValues) Quote {
	return Quote{
		Strike:        c.Strike,
		Right:         c.Right,
		Bid:           Normalize(v.Bid),
		Ask:           Normalize(v.Ask),
		DisplaySymbol: c.LocalSymbol,
	}
}

// SortUnique returns the strikes in ascending order without duplicates.
func SortUnique(strikes []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(strikes))
	copy(out, strikes)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })

	uniq := out[:0]
	for i, k := range out {
		if i > 0 && k.Equal(uniq[len(uniq)-1]) {
			continue
		}
		uniq = append(uniq, k)
	}
	return uniq
}

// StrikeWindow selects the at-the-money strike and n strikes either side of
// it, clamped to the list. Ties between two strikes go to the lower one.
func StrikeWindow(strikes []decimal.Decimal, price decimal.Decimal, n int) []decimal.Decimal {
	sorted := SortUnique(strikes)
	if len(sorted) == 0 {
		return nil
	}

	atm := 0
	best := sorted[0].Sub(price).Abs()
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i].Sub(price).Abs(); d.LessThan(best) {
			atm, best = i, d
		}
	}

	lo := max(atm-n, 0)
	hi := min(atm+n, len(sorted)-1)
	return append([]decimal.Decimal(nil), sorted[lo:hi+1]...)
}
