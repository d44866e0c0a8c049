package orderbook

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitvex/bitvex/internal/models"
)

func TestDepthRowsMergesEqualPrices(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert(newOrder(models.SideAsk, "40", 1)))
	require.NoError(t, b.Insert(newOrder(models.SideAsk, "40", 2)))
	require.NoError(t, b.Insert(newOrder(models.SideAsk, "45", 3)))

	rows := DepthRows(b.Asks(), 100)
	require.Len(t, rows, 2)
	assert.Equal(t, "40", rows[0].Price.String())
	assert.Equal(t, "2", rows[0].Amount.String())
	assert.Equal(t, "45", rows[1].Price.String())
	assert.Equal(t, "1", rows[1].Amount.String())
}

func TestDepthRowsBestFirst(t *testing.T) {
	bids := New()
	asks := New()
	for i, price := range []string{"40", "60", "45"} {
		require.NoError(t, bids.Insert(newOrder(models.SideBid, price, uint64(i))))
		require.NoError(t, asks.Insert(newOrder(models.SideAsk, price, uint64(i))))
	}

	bidRows := DepthRows(bids.Bids(), 100)
	askRows := DepthRows(asks.Asks(), 100)
	assert.Equal(t, "60", bidRows[0].Price.String())
	assert.Equal(t, "40", bidRows[2].Price.String())
	assert.Equal(t, "40", askRows[0].Price.String())
	assert.Equal(t, "60", askRows[2].Price.String())
}

func TestDepthRowsCapsLevelsNotOrders(t *testing.T) {
	b := New()
	// 150 asks spread over 120 price levels; the first 30 levels carry two
	// orders each.
	seq := uint64(0)
	for i := 0; i < 120; i++ {
		price := fmt.Sprintf("%d", 1000+i)
		seq++
		require.NoError(t, b.Insert(newOrder(models.SideAsk, price, seq)))
		if i < 30 {
			seq++
			require.NoError(t, b.Insert(newOrder(models.SideAsk, price, seq)))
		}
	}
	require.Equal(t, 150, b.Len())

	rows := DepthRows(b.Asks(), 100)
	require.Len(t, rows, 100)
	assert.Equal(t, "1000", rows[0].Price.String())
	assert.Equal(t, "2", rows[0].Amount.String())
	assert.Equal(t, "1099", rows[99].Price.String())

	// the capped levels stay in the book
	assert.Equal(t, 150, b.Len())
}

func TestDepthRowsEmptySide(t *testing.T) {
	rows := DepthRows(nil, 100)
	assert.Empty(t, rows)
}

func TestDepthRowsUsesRemainingNotQuantity(t *testing.T) {
	b := New()
	o := newOrder(models.SideBid, "50", 1)
	o.Remaining = decimal.RequireFromString("0.4")
	require.NoError(t, b.Insert(o))

	rows := DepthRows(b.Bids(), 100)
	require.Len(t, rows, 1)
	assert.Equal(t, "0.4", rows[0].Amount.String())
}
