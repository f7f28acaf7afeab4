package book

import "github.com/dexfolio/dexfolio/pkg/app/core"

// Event labels delivered to a book's listener, strictly after the
// corresponding mutation has completed.
type Event string

const (
	// EventBookSync fires once after a bootstrap snapshot is installed.
	EventBookSync Event = "SYNC BOOK"

	EventAddOrder    Event = "ADD ORDER"
	EventDeleteOrder Event = "DELETE ORDER"
	EventFillOrder   Event = "FILL ORDER"
)

// Callback receives book-change notifications for one subscribed asset.
type Callback func(ev Event)

// Side selects one of the two arrival-ordered order lists of a book.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// MarketBook holds the cached orders for one asset paired with the base
// asset. Buy orders represent demand for the asset funded with base; sell
// orders offer the asset for base. Both lists keep arrival order; price
// ordering is imposed freshly by readers that need it.
//
// A book starts non-live: until its bootstrap snapshot installs, the
// dispatcher drops events for it. All fields are guarded by the owning
// Store's mutex.
type MarketBook struct {
	AssetID string
	Buy     []*core.Order
	Sell    []*core.Order

	callback Callback
	live     bool

	// bootToken identifies the bootstrap allowed to install a snapshot.
	// A re-subscribe bumps it, which turns any older in-flight bootstrap
	// into a no-op.
	bootToken uint64
}

// BookView is a value snapshot of one live book, in arrival order.
type BookView struct {
	AssetID string
	Buy     []core.Order
	Sell    []core.Order
}

func (b *MarketBook) side(s Side) *[]*core.Order {
	if s == SideBuy {
		return &b.Buy
	}
	return &b.Sell
}

// findOrder returns the index of the order with the given id, or -1.
func findOrder(orders []*core.Order, id string) int {
	for i, o := range orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}
