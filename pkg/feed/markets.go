package feed

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dexfolio/dexfolio/pkg/app/core"
	"github.com/dexfolio/dexfolio/pkg/app/core/book"
)

// MarketsSubscription decodes order-book notices and hands them to the
// dispatcher. Undecodable payloads are logged and skipped; unknown kinds are
// forwarded so the dispatcher's default branch ignores them in one place.
type MarketsSubscription struct {
	dispatcher *book.Dispatcher
	log        *zap.Logger
}

func NewMarketsSubscription(dispatcher *book.Dispatcher, logger *zap.Logger) *MarketsSubscription {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketsSubscription{dispatcher: dispatcher, log: logger}
}

func (s *MarketsSubscription) Notify(kind string, payload json.RawMessage) {
	ev, ok := decodeMarketEvent(kind, payload)
	if !ok {
		s.log.Debug("market_notice_undecodable", zap.String("kind", kind))
		return
	}
	s.dispatcher.OnEvent(ev)
}

func decodeMarketEvent(kind string, payload json.RawMessage) (book.MarketEvent, bool) {
	switch book.Kind(kind) {
	case book.KindNewOrder:
		var o core.Order
		if err := json.Unmarshal(payload, &o); err != nil || o.ID == "" {
			return book.MarketEvent{}, false
		}
		return book.MarketEvent{Kind: book.KindNewOrder, Order: &o}, true

	case book.KindDeleteOrder:
		// Delete notices carry either a bare id string or an object.
		var id string
		if err := json.Unmarshal(payload, &id); err == nil && id != "" {
			return book.MarketEvent{Kind: book.KindDeleteOrder, OrderID: id}, true
		}
		var obj struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil || obj.OrderID == "" {
			return book.MarketEvent{}, false
		}
		return book.MarketEvent{Kind: book.KindDeleteOrder, OrderID: obj.OrderID}, true

	case book.KindFillOrder:
		var f book.Fill
		if err := json.Unmarshal(payload, &f); err != nil || f.OrderID == "" {
			return book.MarketEvent{}, false
		}
		return book.MarketEvent{Kind: book.KindFillOrder, Fill: &f}, true

	default:
		return book.MarketEvent{Kind: book.Kind(kind)}, true
	}
}

var _ Subscription = (*MarketsSubscription)(nil)
