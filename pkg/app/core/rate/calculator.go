package rate

import (
	"math"
	"sort"

	"github.com/dexfolio/dexfolio/pkg/app/core/book"
)

// Direction of a hypothetical conversion against the base asset.
type Direction string

const (
	// Sell converts the non-base asset into base, consuming the buy side.
	Sell Direction = "sell"
	// Buy converts base into the non-base asset, consuming the sell side.
	Buy Direction = "buy"
)

// Calculator estimates achievable proceeds by walking cached book depth.
// It never mutates the book.
type Calculator struct {
	store *book.Store
}

func NewCalculator(store *book.Store) *Calculator {
	return &Calculator{store: store}
}

// CalcExchangeRate walks the relevant side of assetID's book, best price
// first, consuming orders until the requested amount is converted, and
// returns the floored proceeds.
//
// When book depth runs out before the amount is fully consumed the partial
// proceeds accumulated so far are returned; there is no distinct
// insufficient-liquidity signal. Callers that need to tell a full fill from
// a partial one must compare consumed against requested themselves. An
// unsubscribed asset or an empty side yields 0.
func (c *Calculator) CalcExchangeRate(assetID string, direction Direction, amount int64) int64 {
	side := book.SideBuy
	if direction == Buy {
		side = book.SideSell
	}

	orders := c.store.SideOrders(assetID, side)
	if len(orders) == 0 {
		return 0
	}

	// Fresh sort per call; the store keeps arrival order only.
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].SellPrice.Rate() > orders[j].SellPrice.Rate()
	})

	remaining := amount
	proceeds := 0.0
	for _, o := range orders {
		price := o.SellPrice.Rate()
		if remaining > o.ForSale {
			proceeds += float64(o.ForSale) * price
			remaining -= o.ForSale
			continue
		}
		proceeds += float64(remaining) * price
		break
	}
	return int64(math.Floor(proceeds))
}

// Rater is the read-only pricing surface consumers depend on.
type Rater interface {
	CalcExchangeRate(assetID string, direction Direction, amount int64) int64
}

var _ Rater = (*Calculator)(nil)
