package book

import (
	"go.uber.org/zap"

	"github.com/dexfolio/dexfolio/pkg/app/core"
)

// Kind is the feed's event discriminator.
type Kind string

const (
	KindNewOrder    Kind = "new-order"
	KindDeleteOrder Kind = "delete-order"
	KindFillOrder   Kind = "fill-order"
)

// Fill describes one matched trade against a resting order.
type Fill struct {
	OrderID  string           `json:"order_id"`
	Pays     core.AssetAmount `json:"pays"`
	Receives core.AssetAmount `json:"receives"`
}

// MarketEvent is one decoded feed notice. Exactly one payload field is set,
// according to Kind.
type MarketEvent struct {
	Kind    Kind
	Order   *core.Order // KindNewOrder
	OrderID string      // KindDeleteOrder
	Fill    *Fill       // KindFillOrder
}

// Dispatcher routes feed events into store mutations and fires the affected
// book's callback after the mutation completes. The feed delivers events one
// at a time, so no two events race on the same book.
type Dispatcher struct {
	store *Store
	log   *zap.Logger
}

func NewDispatcher(store *Store, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, log: logger}
}

// OnEvent applies one feed event. Unrecognized kinds and events for
// unsubscribed (or not yet live) markets are ignored without error.
func (d *Dispatcher) OnEvent(ev MarketEvent) {
	switch ev.Kind {
	case KindNewOrder:
		if ev.Order == nil {
			return
		}
		if cb := d.store.applyNewOrder(ev.Order); cb != nil {
			cb(EventAddOrder)
		}
	case KindDeleteOrder:
		if ev.OrderID == "" {
			return
		}
		if cb := d.store.applyDeleteOrder(ev.OrderID); cb != nil {
			cb(EventDeleteOrder)
		}
	case KindFillOrder:
		if ev.Fill == nil {
			return
		}
		if cb := d.store.applyFill(ev.Fill.OrderID, ev.Fill.Pays, ev.Fill.Receives); cb != nil {
			cb(EventFillOrder)
		}
	default:
		d.log.Debug("ignoring_unknown_event_kind", zap.String("kind", string(ev.Kind)))
	}
}
