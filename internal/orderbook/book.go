// Package orderbook maintains the two price-ordered sides of the live book
// and reduces them into depth rows for snapshotting.
package orderbook

import (
	"errors"
	"sort"

	"github.com/bitvex/bitvex/internal/models"
)

// ErrUnknownSide is returned when an order carries a side the book does not
// recognize; the engine drops such orders.
var ErrUnknownSide = errors.New("orderbook: unknown order side")

// Book holds the open orders of a single pair. Bids are kept ascending by
// price, asks descending, so the best order of each side is the tail element.
// Within one price level earlier sequence numbers sit closer to the tail,
// giving strict price-time priority.
//
// Book is not safe for concurrent use; the matching engine is its sole owner.
type Book struct {
	bids []*models.Order
	asks []*models.Order
}

// New returns an empty book.
func New() *Book {
	return &Book{}
}

// bidBefore reports whether a sorts before b on the bid side (worse bids
// first: lower price, then later arrival).
func bidBefore(a, b *models.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	return a.Sequence > b.Sequence
}

// askBefore is the ask-side counterpart (worse asks first: higher price,
// then later arrival).
func askBefore(a, b *models.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Sequence > b.Sequence
}

// Insert places an open order on its side via binary search.
func (b *Book) Insert(o *models.Order) error {
	switch o.Side {
	case models.SideBid:
		b.bids = insert(b.bids, o, bidBefore)
	case models.SideAsk:
		b.asks = insert(b.asks, o, askBefore)
	default:
		return ErrUnknownSide
	}
	return nil
}

func insert(side []*models.Order, o *models.Order, before func(a, b *models.Order) bool) []*models.Order {
	i := sort.Search(len(side), func(i int) bool { return before(o, side[i]) })
	side = append(side, nil)
	copy(side[i+1:], side[i:])
	side[i] = o
	return side
}

// BestBid returns the highest-priced open bid, or nil.
func (b *Book) BestBid() *models.Order {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[len(b.bids)-1]
}

// BestAsk returns the lowest-priced open ask, or nil.
func (b *Book) BestAsk() *models.Order {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[len(b.asks)-1]
}

// Remove deletes the order with the same ID from its side. Linear scan from
// the tail; removals cluster around the best price.
func (b *Book) Remove(o *models.Order) {
	switch o.Side {
	case models.SideBid:
		b.bids = remove(b.bids, o)
	case models.SideAsk:
		b.asks = remove(b.asks, o)
	}
}

func remove(side []*models.Order, o *models.Order) []*models.Order {
	for i := len(side) - 1; i >= 0; i-- {
		if side[i].ID == o.ID {
			return append(side[:i], side[i+1:]...)
		}
	}
	return side
}

// Bids returns the bid side, worst to best. Callers must not mutate it.
func (b *Book) Bids() []*models.Order { return b.bids }

// Asks returns the ask side, worst to best. Callers must not mutate it.
func (b *Book) Asks() []*models.Order { return b.asks }

// Len returns the number of open orders across both sides.
func (b *Book) Len() int { return len(b.bids) + len(b.asks) }
