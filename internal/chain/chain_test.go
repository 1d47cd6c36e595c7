package chain

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw/options-chain/internal/gateway"
)

func strikes(lo, hi int) []decimal.Decimal {
	var out []decimal.Decimal
	for k := lo; k <= hi; k++ {
		out = append(out, decimal.NewFromInt(int64(k)))
	}
	return out
}

func ints(ds []decimal.Decimal) []int64 {
	out := make([]int64, len(ds))
	for i, d := range ds {
		out[i] = d.IntPart()
	}
	return out
}

func TestStrikeWindow(t *testing.T) {
	tests := []struct {
		name    string
		strikes []decimal.Decimal
		price   string
		n       int
		want    []int64
	}{
		{"around the money", strikes(95, 105), "100.4", 2, []int64{98, 99, 100, 101, 102}},
		{"tie goes to lower strike", strikes(95, 105), "100.5", 1, []int64{99, 100, 101}},
		{"clamped at bottom", strikes(95, 105), "90", 3, []int64{95, 96, 97, 98}},
		{"clamped at top", strikes(95, 105), "200", 2, []int64{103, 104, 105}},
		{"zero width", strikes(95, 105), "101.2", 0, []int64{101}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StrikeWindow(tt.strikes, decimal.RequireFromString(tt.price), tt.n)
			assert.Equal(t, tt.want, ints(got))
		})
	}
}

func TestStrikeWindowUnsortedWithDuplicates(t *testing.T) {
	in := []decimal.Decimal{
		decimal.NewFromInt(102), decimal.NewFromInt(99), decimal.NewFromInt(100),
		decimal.RequireFromString("100.0"), decimal.NewFromInt(101), decimal.NewFromInt(98),
	}
	got := StrikeWindow(in, decimal.NewFromInt(100), 1)
	assert.Equal(t, []int64{99, 100, 101}, ints(got))
	assert.Nil(t, StrikeWindow(nil, decimal.NewFromInt(100), 3))
}

func TestNormalize(t *testing.T) {
	assert.False(t, Normalize(math.NaN()).Available())
	assert.False(t, Normalize(-1).Available())
	assert.False(t, Normalize(math.Inf(1)).Available())

	zero := Normalize(0.0)
	require.True(t, zero.Available())
	d, _ := zero.Decimal()
	assert.True(t, d.IsZero())

	p, _ := Normalize(1.25).Decimal()
	assert.Equal(t, "1.25", p.String())
}

func TestReferencePrice(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		v    gateway.TickValues
		want string
		ok   bool
	}{
		{"market price", gateway.TickValues{MarketPrice: 500.1, Last: 499, Close: 498}, "500.1", true},
		{"falls back to last", gateway.TickValues{MarketPrice: nan, Last: 499, Close: 498}, "499", true},
		{"falls back to close", gateway.TickValues{MarketPrice: -1, Last: 0, Close: 498}, "498", true},
		{"nothing positive", gateway.TickValues{MarketPrice: nan, Last: 0, Close: nan}, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReferencePrice(tt.v)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "500.0_C", KeyOf(decimal.NewFromInt(500), gateway.Call).String())
	assert.Equal(t, "500.5_P", KeyOf(decimal.RequireFromString("500.50"), gateway.Put).String())
	assert.Equal(t, KeyOf(decimal.RequireFromString("500.0"), gateway.Call), KeyOf(decimal.NewFromInt(500), gateway.Call))
}

func TestQuoteJSON(t *testing.T) {
	q := Quote{
		Strike:        decimal.NewFromInt(500),
		Right:         gateway.Call,
		Bid:           PriceOf(decimal.Zero),
		Ask:           Unavailable(),
		DisplaySymbol: "SPY   250514C00500000",
	}
	b, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"strike":500,"right":"C","bid":0,"ask":"N/A","displaySymbol":"SPY   250514C00500000"}`, string(b))

	var back Quote
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Bid.Equal(q.Bid))
	assert.False(t, back.Ask.Available())
}

func snapshotAt(price int64, keys int) Snapshot {
	s := Snapshot{
		UnderlyingPrice: decimal.NewFromInt(price),
		Expiry:          fmt.Sprintf("cycle-%d", price),
		Quotes:          map[Key]Quote{},
		AsOf:            time.Unix(price, 0),
	}
	for i := 0; i < keys; i++ {
		q := Quote{Strike: decimal.NewFromInt(int64(i)), Right: gateway.Call, Bid: PriceOf(decimal.NewFromInt(price)), Ask: Unavailable()}
		s.Quotes[q.Key()] = q
	}
	return s
}

func TestPublishDropsQuotesWithoutPrice(t *testing.T) {
	st := NewStore()
	s := snapshotAt(0, 3)
	got := st.Publish(s)
	assert.Empty(t, got.Quotes)
	assert.Empty(t, st.Read().Quotes)

	neg := snapshotAt(5, 3)
	neg.UnderlyingPrice = decimal.NewFromInt(-5)
	assert.Empty(t, st.Publish(neg).Quotes)
}

func TestReadReturnsCopy(t *testing.T) {
	st := NewStore()
	st.Publish(snapshotAt(10, 2))

	r := st.Read()
	for k := range r.Quotes {
		delete(r.Quotes, k)
	}
	assert.Len(t, st.Read().Quotes, 2)
	assert.Equal(t, uint64(1), st.Read().Version)
}

func TestPublishReplacesWholly(t *testing.T) {
	st := NewStore()
	st.Publish(snapshotAt(10, 5))
	st.Publish(snapshotAt(11, 2))
	r := st.Read()
	assert.Len(t, r.Quotes, 2)
	assert.Equal(t, uint64(2), r.Version)
}

func TestPayloadIdempotent(t *testing.T) {
	st := NewStore()
	st.Publish(snapshotAt(500, 20))

	a, err := json.Marshal(st.Read().Payload())
	require.NoError(t, err)
	b, err := json.Marshal(st.Read().Payload())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNotConnectedPayload(t *testing.T) {
	b, err := json.Marshal(NotConnectedPayload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"underlyingPrice":0,"options":{},"error":"Not connected"}`, string(b))
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	st := NewStore()
	st.Publish(snapshotAt(1, 10))

	const publishes = 300
	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan error, 8)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s := st.Read()
				want := fmt.Sprintf("cycle-%d", s.UnderlyingPrice.IntPart())
				if s.Expiry != want {
					errs <- fmt.Errorf("expiry %s with price %s", s.Expiry, s.UnderlyingPrice)
					return
				}
				for _, q := range s.Quotes {
					bid, _ := q.Bid.Decimal()
					if !bid.Equal(s.UnderlyingPrice) {
						errs <- fmt.Errorf("quote from cycle %s under price %s", bid, s.UnderlyingPrice)
						return
					}
				}
			}
		}()
	}

	for i := int64(2); i <= publishes; i++ {
		st.Publish(snapshotAt(i, 10))
	}
	close(done)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, uint64(publishes), st.Read().Version)
}
