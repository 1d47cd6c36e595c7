package gateway

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRight(t *testing.T) {
	for _, s := range []string{"C", "call", " Call "} {
		r, err := ParseRight(s)
		require.NoError(t, err)
		assert.Equal(t, Call, r)
	}
	r, err := ParseRight("PUT")
	require.NoError(t, err)
	assert.Equal(t, Put, r)

	_, err = ParseRight("X")
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("sell")
	require.NoError(t, err)
	assert.Equal(t, Sell, a)
	_, err = ParseAction("hold")
	assert.Error(t, err)
}

func TestTickerFillsOnce(t *testing.T) {
	tk := NewTicker(Contract{Symbol: "SPY"})
	assert.True(t, math.IsNaN(tk.Values().Bid))
	assert.False(t, tk.Filled())

	tk.Fill(TickValues{Bid: 1, Ask: 2})
	tk.Fill(TickValues{Bid: 9, Ask: 9})

	<-tk.Done()
	assert.True(t, tk.Filled())
	assert.Equal(t, 1.0, tk.Values().Bid)
}

func TestContractString(t *testing.T) {
	c := OptionContract("SPY", "20250514", decimal.RequireFromString("500.5"), Call, "SMART")
	assert.Equal(t, "SPY 20250514 500.5C", c.String())
	assert.False(t, c.Qualified())
	assert.Equal(t, "SPY", StockContract("SPY", "SMART", "USD").String())
}

func TestTradeUpdate(t *testing.T) {
	tr := NewTrade(Contract{}, Order{ID: 7}, OrderState{Status: StatusSubmitted, Remaining: 2})
	tr.Update(OrderState{Status: StatusFilled, Filled: 2})
	assert.Equal(t, StatusFilled, tr.State().Status)
	assert.Equal(t, 2.0, tr.State().Filled)
}
