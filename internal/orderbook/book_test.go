package orderbook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitvex/bitvex/internal/models"
)

func newOrder(side string, price string, seq uint64) *models.Order {
	o := models.NewOrder(uuid.New(), side, decimal.NewFromInt(1), decimal.RequireFromString(price))
	o.Sequence = seq
	return o
}

func prices(side []*models.Order) []string {
	out := make([]string, len(side))
	for i, o := range side {
		out[i] = o.Price.String()
	}
	return out
}

func TestInsertKeepsAsksSortedBestLast(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert(newOrder(models.SideAsk, "40", 1)))
	require.NoError(t, b.Insert(newOrder(models.SideAsk, "60", 2)))
	require.NoError(t, b.Insert(newOrder(models.SideAsk, "45", 3)))

	// worst to best: highest ask first, cheapest at the tail
	assert.Equal(t, []string{"60", "45", "40"}, prices(b.Asks()))
	assert.Equal(t, "40", b.BestAsk().Price.String())
}

func TestInsertKeepsBidsSortedBestLast(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert(newOrder(models.SideBid, "40", 1)))
	require.NoError(t, b.Insert(newOrder(models.SideBid, "60", 2)))
	require.NoError(t, b.Insert(newOrder(models.SideBid, "45", 3)))

	assert.Equal(t, []string{"40", "45", "60"}, prices(b.Bids()))
	assert.Equal(t, "60", b.BestBid().Price.String())
}

func TestEqualPricesKeepArrivalOrder(t *testing.T) {
	b := New()
	first := newOrder(models.SideBid, "50", 1)
	second := newOrder(models.SideBid, "50", 2)
	third := newOrder(models.SideBid, "50", 3)
	require.NoError(t, b.Insert(second))
	require.NoError(t, b.Insert(third))
	require.NoError(t, b.Insert(first))

	assert.Equal(t, first.ID, b.BestBid().ID)
	b.Remove(first)
	assert.Equal(t, second.ID, b.BestBid().ID)
	b.Remove(second)
	assert.Equal(t, third.ID, b.BestBid().ID)
}

func TestEqualAskPricesKeepArrivalOrder(t *testing.T) {
	b := New()
	first := newOrder(models.SideAsk, "50", 1)
	second := newOrder(models.SideAsk, "50", 2)
	require.NoError(t, b.Insert(second))
	require.NoError(t, b.Insert(first))

	assert.Equal(t, first.ID, b.BestAsk().ID)
}

func TestInsertRejectsUnknownSide(t *testing.T) {
	b := New()
	o := newOrder("SHORT", "10", 1)
	assert.ErrorIs(t, b.Insert(o), ErrUnknownSide)
	assert.Zero(t, b.Len())
}

func TestBestOnEmptyBook(t *testing.T) {
	b := New()
	assert.Nil(t, b.BestBid())
	assert.Nil(t, b.BestAsk())
}

func TestRemove(t *testing.T) {
	b := New()
	kept := newOrder(models.SideBid, "40", 1)
	removed := newOrder(models.SideBid, "50", 2)
	require.NoError(t, b.Insert(kept))
	require.NoError(t, b.Insert(removed))

	b.Remove(removed)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, kept.ID, b.BestBid().ID)

	// removing an absent order is a no-op
	b.Remove(removed)
	assert.Equal(t, 1, b.Len())
}
