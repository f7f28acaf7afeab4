package book

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dexfolio/dexfolio/pkg/app/core"
)

// Loader fetches the initial buy/sell order sequences for a market from the
// chain. Implemented by the feed client.
type Loader interface {
	LoadBook(ctx context.Context, baseAssetID, assetID string) (buy, sell []*core.Order, err error)
}

// Store is the per-asset order-book cache. Books are keyed by the non-base
// counter asset; the base asset never gets a book. Subscribe/Unsubscribe own
// the book lifecycle, the Dispatcher applies feed mutations.
type Store struct {
	mu     sync.RWMutex
	baseID string
	books  map[string]*MarketBook
	loader Loader
	log    *zap.Logger

	tokens uint64 // bootstrap token source
}

func NewStore(baseAssetID string, loader Loader, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		baseID: baseAssetID,
		books:  make(map[string]*MarketBook),
		loader: loader,
		log:    logger,
	}
}

// BaseAssetID returns the asset every book is priced against.
func (s *Store) BaseAssetID() string { return s.baseID }

// Subscribe creates (or refreshes) the book for assetID, bootstraps it via
// the loader, installs the snapshot and callback, and invokes the callback
// once with EventBookSync so the consumer can render the initial state.
//
// Subscribing to the base asset is a no-op. Re-subscribing while already
// subscribed replaces the stored callback and orders with a fresh bootstrap;
// it never merges with events applied in the meantime.
//
// The book is not live until the snapshot installs: events arriving during
// the bootstrap are dropped by the dispatcher rather than silently
// overwritten. An Unsubscribe during the bootstrap wins; the eventual load
// result is discarded instead of resurrecting the book.
func (s *Store) Subscribe(ctx context.Context, assetID string, callback Callback) error {
	if assetID == s.baseID {
		return nil
	}

	s.mu.Lock()
	b := s.books[assetID]
	created := false
	if b == nil {
		b = &MarketBook{AssetID: assetID}
		s.books[assetID] = b
		created = true
	}
	s.tokens++
	token := s.tokens
	b.bootToken = token
	s.mu.Unlock()

	buy, sell, err := s.loader.LoadBook(ctx, s.baseID, assetID)
	if err != nil {
		s.mu.Lock()
		// Drop the placeholder we created so a failed first subscribe
		// does not leave a dead non-live book behind.
		if created && s.books[assetID] == b && !b.live {
			delete(s.books, assetID)
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	cur := s.books[assetID]
	if cur != b || b.bootToken != token {
		// Unsubscribed, or superseded by a newer subscribe.
		s.mu.Unlock()
		return nil
	}
	b.Buy = buy
	b.Sell = sell
	b.callback = callback
	b.live = true
	s.mu.Unlock()

	s.log.Info("market_subscribed",
		zap.String("asset", assetID),
		zap.Int("buy_orders", len(buy)),
		zap.Int("sell_orders", len(sell)))

	if callback != nil {
		callback(EventBookSync)
	}
	return nil
}

// Unsubscribe removes the book for assetID. No-op if absent.
func (s *Store) Unsubscribe(assetID string) {
	s.mu.Lock()
	if _, ok := s.books[assetID]; ok {
		delete(s.books, assetID)
		s.mu.Unlock()
		s.log.Info("market_unsubscribed", zap.String("asset", assetID))
		return
	}
	s.mu.Unlock()
}

// IsSubscribed reports whether a book exists for assetID, live or not.
func (s *Store) IsSubscribed(assetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.books[assetID]
	return ok
}

// Assets returns the subscribed asset ids, sorted for stable output.
func (s *Store) Assets() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.books))
	for id := range s.books {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SideOrders returns value copies of one side of a book, in arrival order.
// Returns nil when the asset is not subscribed or its book is not yet live.
// Callers may sort and consume the copy freely.
func (s *Store) SideOrders(assetID string, side Side) []core.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.books[assetID]
	if b == nil || !b.live {
		return nil
	}
	return copyOrders(*b.side(side))
}

// Book returns a copied snapshot of both sides of assetID's book. ok is
// false when the asset is not subscribed or its bootstrap has not installed
// yet. The snapshot is detached; later mutations do not reach it.
func (s *Store) Book(assetID string) (view BookView, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.books[assetID]
	if b == nil || !b.live {
		return BookView{}, false
	}
	return BookView{
		AssetID: assetID,
		Buy:     copyOrders(b.Buy),
		Sell:    copyOrders(b.Sell),
	}, true
}

func copyOrders(src []*core.Order) []core.Order {
	out := make([]core.Order, len(src))
	for i, o := range src {
		out[i] = *o
	}
	return out
}

// resolve maps a (pays, receives) pair onto the book and side the order
// belongs to. For asset X against base B:
//
//	pays == B, receives == X  ->  X's buy list (demand for X funded with base)
//	pays == X, receives == B  ->  X's sell list (X offered for base)
//
// Returns ok=false when the pair does not touch the base asset or the
// non-base side has no live book.
func (s *Store) resolve(pays, receives string) (b *MarketBook, side Side, ok bool) {
	var assetID string
	switch {
	case pays == s.baseID && receives != s.baseID:
		assetID, side = receives, SideBuy
	case receives == s.baseID && pays != s.baseID:
		assetID, side = pays, SideSell
	default:
		return nil, 0, false
	}
	b = s.books[assetID]
	if b == nil || !b.live {
		return nil, 0, false
	}
	return b, side, true
}

// applyNewOrder appends the order to its book side. Returns the callback to
// notify, or nil when the event does not apply.
func (s *Store) applyNewOrder(o *core.Order) Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, side, ok := s.resolve(o.SellPrice.Base.AssetID, o.SellPrice.Quote.AssetID)
	if !ok {
		return nil
	}
	list := b.side(side)
	*list = append(*list, o)
	return b.callback
}

// applyDeleteOrder scans every live book's both sides for the order id and
// removes the first match. The notice carries no asset, only the id.
func (s *Store) applyDeleteOrder(orderID string) Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.books {
		if !b.live {
			continue
		}
		for _, side := range []Side{SideBuy, SideSell} {
			list := b.side(side)
			if i := findOrder(*list, orderID); i >= 0 {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return b.callback
			}
		}
	}
	return nil
}

// applyFill decrements the matched order's remaining amount. ForSale is
// clamped at zero: the feed can replay a fill the bootstrap snapshot already
// reflected, and a negative remainder would poison rate walks.
func (s *Store) applyFill(orderID string, pays, receives core.AssetAmount) Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, side, ok := s.resolve(pays.AssetID, receives.AssetID)
	if !ok {
		return nil
	}
	list := *b.side(side)
	i := findOrder(list, orderID)
	if i < 0 {
		// Order may already be gone; not an error.
		return nil
	}
	list[i].ForSale -= pays.Amount
	if list[i].ForSale < 0 {
		list[i].ForSale = 0
	}
	return b.callback
}
