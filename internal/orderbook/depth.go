package orderbook

import "github.com/bitvex/bitvex/internal/models"

// DepthRows reduces one book side into at most levels rows of
// (price, total remaining), scanning from the best price outward and merging
// consecutive orders at the same price. Orders beyond the cap are omitted
// from the result but stay in the book. Rows come back best-first.
func DepthRows(side []*models.Order, levels int) []models.DepthRow {
	rows := make([]models.DepthRow, 0, levels)
	for i := len(side) - 1; i >= 0; i-- {
		o := side[i]
		if n := len(rows); n > 0 && rows[n-1].Price.Equal(o.Price) {
			rows[n-1].Amount = rows[n-1].Amount.Add(o.Remaining)
			continue
		}
		if len(rows) == levels {
			break
		}
		rows = append(rows, models.DepthRow{Price: o.Price, Amount: o.Remaining})
	}
	return rows
}
