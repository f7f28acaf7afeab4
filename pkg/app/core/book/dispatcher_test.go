package book

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/dexfolio/dexfolio/pkg/app/core"
)

// liveStore returns a store with live (already bootstrapped) books for the
// given assets, and a map collecting callback labels per asset.
func liveStore(t *testing.T, assets ...string) (*Store, *Dispatcher, map[string][]Event) {
	t.Helper()
	s := NewStore(baseID, &stubLoader{}, nil)
	events := make(map[string][]Event)
	for _, id := range assets {
		id := id
		err := s.Subscribe(context.Background(), id, func(ev Event) {
			events[id] = append(events[id], ev)
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
		events[id] = nil // drop the sync label, tests care about mutations
	}
	return s, NewDispatcher(s, nil), events
}

func TestNewOrderSideClassification(t *testing.T) {
	s, d, events := liveStore(t, btsX)

	// pays base, receives X -> X's buy list
	d.OnEvent(MarketEvent{Kind: KindNewOrder, Order: buyOrder("1.7.1", btsX, 10, 1, 1)})
	// pays X, receives base -> X's sell list
	d.OnEvent(MarketEvent{Kind: KindNewOrder, Order: sellOrder("1.7.2", btsX, 20, 1, 1)})

	if got := len(s.SideOrders(btsX, SideBuy)); got != 1 {
		t.Errorf("buy side: got %d, want 1", got)
	}
	if got := len(s.SideOrders(btsX, SideSell)); got != 1 {
		t.Errorf("sell side: got %d, want 1", got)
	}
	want := []Event{EventAddOrder, EventAddOrder}
	if fmt.Sprint(events[btsX]) != fmt.Sprint(want) {
		t.Errorf("callbacks: got %v, want %v", events[btsX], want)
	}
}

func TestNewOrderForUnsubscribedAssetIgnored(t *testing.T) {
	s, d, _ := liveStore(t, btsX)

	d.OnEvent(MarketEvent{Kind: KindNewOrder, Order: buyOrder("1.7.1", btsY, 10, 1, 1)})

	if s.IsSubscribed(btsY) {
		t.Error("event created a book implicitly")
	}
	if got := len(s.SideOrders(btsX, SideBuy)); got != 0 {
		t.Errorf("event leaked into the wrong book: %d orders", got)
	}
}

func TestNewOrderCrossPairIgnored(t *testing.T) {
	s, d, events := liveStore(t, btsX, btsY)

	// Neither side of the pair is the base asset.
	cross := &core.Order{
		ID: "1.7.1",
		SellPrice: core.Price{
			Base:  core.AssetAmount{AssetID: btsX, Amount: 1},
			Quote: core.AssetAmount{AssetID: btsY, Amount: 1},
		},
		ForSale: 10,
	}
	d.OnEvent(MarketEvent{Kind: KindNewOrder, Order: cross})

	for _, id := range []string{btsX, btsY} {
		for _, side := range []Side{SideBuy, SideSell} {
			if got := len(s.SideOrders(id, side)); got != 0 {
				t.Errorf("cross-pair order landed in %s/%s", id, side)
			}
		}
		if len(events[id]) != 0 {
			t.Errorf("callback fired for %s on a cross-pair order", id)
		}
	}
}

func TestDeleteOrderScansAllBooks(t *testing.T) {
	s, d, events := liveStore(t, btsX, btsY)

	d.OnEvent(MarketEvent{Kind: KindNewOrder, Order: buyOrder("1.7.1", btsX, 10, 1, 1)})
	d.OnEvent(MarketEvent{Kind: KindNewOrder, Order: sellOrder("1.7.2", btsY, 10, 1, 1)})
	events[btsX], events[btsY] = nil, nil

	// The delete notice carries only the order id, not its market.
	d.OnEvent(MarketEvent{Kind: KindDeleteOrder, OrderID: "1.7.2"})

	if got := len(s.SideOrders(btsY, SideSell)); got != 0 {
		t.Errorf("order not removed: %d left", got)
	}
	if got := len(s.SideOrders(btsX, SideBuy)); got != 1 {
		t.Errorf("wrong book touched: %d orders", got)
	}
	if len(events[btsY]) != 1 || events[btsY][0] != EventDeleteOrder {
		t.Errorf("expected %q on %s, got %v", EventDeleteOrder, btsY, events[btsY])
	}
	if len(events[btsX]) != 0 {
		t.Errorf("unrelated book notified: %v", events[btsX])
	}
}

func TestDeleteUnknownOrderIgnored(t *testing.T) {
	_, d, events := liveStore(t, btsX)

	d.OnEvent(MarketEvent{Kind: KindDeleteOrder, OrderID: "1.7.404"})

	if len(events[btsX]) != 0 {
		t.Errorf("callback fired for a miss: %v", events[btsX])
	}
}

func TestFillReducesForSale(t *testing.T) {
	s, d, events := liveStore(t, btsX)
	d.OnEvent(MarketEvent{Kind: KindNewOrder, Order: sellOrder("1.7.1", btsX, 100, 1, 1)})
	events[btsX] = nil

	fill := func(amount int64) {
		d.OnEvent(MarketEvent{Kind: KindFillOrder, Fill: &Fill{
			OrderID:  "1.7.1",
			Pays:     core.AssetAmount{AssetID: btsX, Amount: amount},
			Receives: core.AssetAmount{AssetID: baseID, Amount: amount},
		}})
	}

	fill(30)
	if got := s.SideOrders(btsX, SideSell)[0].ForSale; got != 70 {
		t.Errorf("after first fill: for_sale=%d, want 70", got)
	}

	// Two sequential fills accumulate additively.
	fill(25)
	if got := s.SideOrders(btsX, SideSell)[0].ForSale; got != 45 {
		t.Errorf("after second fill: for_sale=%d, want 45", got)
	}

	// Over-fill clamps at zero rather than going negative.
	fill(1000)
	if got := s.SideOrders(btsX, SideSell)[0].ForSale; got != 0 {
		t.Errorf("after over-fill: for_sale=%d, want 0", got)
	}

	want := []Event{EventFillOrder, EventFillOrder, EventFillOrder}
	if fmt.Sprint(events[btsX]) != fmt.Sprint(want) {
		t.Errorf("callbacks: got %v, want %v", events[btsX], want)
	}
}

func TestFillUnknownOrderIgnored(t *testing.T) {
	_, d, events := liveStore(t, btsX)

	d.OnEvent(MarketEvent{Kind: KindFillOrder, Fill: &Fill{
		OrderID:  "1.7.404",
		Pays:     core.AssetAmount{AssetID: btsX, Amount: 5},
		Receives: core.AssetAmount{AssetID: baseID, Amount: 5},
	}})

	if len(events[btsX]) != 0 {
		t.Errorf("callback fired for a missing order: %v", events[btsX])
	}
}

func TestUnknownEventKindIgnored(t *testing.T) {
	s, d, events := liveStore(t, btsX)

	d.OnEvent(MarketEvent{Kind: Kind("margin-call"), OrderID: "1.7.1"})
	d.OnEvent(MarketEvent{})

	if len(events[btsX]) != 0 {
		t.Errorf("unknown kind reached a callback: %v", events[btsX])
	}
	if got := len(s.SideOrders(btsX, SideBuy)); got != 0 {
		t.Errorf("unknown kind mutated the book: %d orders", got)
	}
}

// TestAddDeleteCommutes checks that the surviving order set equals
// {inserted} minus {deleted} regardless of interleaving.
func TestAddDeleteCommutes(t *testing.T) {
	ids := []string{"1.7.1", "1.7.2", "1.7.3", "1.7.4", "1.7.5"}
	deleted := map[string]bool{"1.7.2": true, "1.7.4": true}

	interleavings := [][]MarketEvent{}
	{
		// adds first, then deletes
		var seq []MarketEvent
		for _, id := range ids {
			seq = append(seq, MarketEvent{Kind: KindNewOrder, Order: buyOrder(id, btsX, 10, 1, 1)})
		}
		for id := range deleted {
			seq = append(seq, MarketEvent{Kind: KindDeleteOrder, OrderID: id})
		}
		interleavings = append(interleavings, seq)
	}
	{
		// each delete immediately after its add, remaining adds last
		var seq []MarketEvent
		for _, id := range ids {
			seq = append(seq, MarketEvent{Kind: KindNewOrder, Order: buyOrder(id, btsX, 10, 1, 1)})
			if deleted[id] {
				seq = append(seq, MarketEvent{Kind: KindDeleteOrder, OrderID: id})
			}
		}
		interleavings = append(interleavings, seq)
	}
	{
		// deletes for orders that do not exist yet are silently dropped,
		// so issue them again after the adds
		var seq []MarketEvent
		for id := range deleted {
			seq = append(seq, MarketEvent{Kind: KindDeleteOrder, OrderID: id})
		}
		for _, id := range ids {
			seq = append(seq, MarketEvent{Kind: KindNewOrder, Order: buyOrder(id, btsX, 10, 1, 1)})
		}
		for id := range deleted {
			seq = append(seq, MarketEvent{Kind: KindDeleteOrder, OrderID: id})
		}
		interleavings = append(interleavings, seq)
	}

	want := []string{"1.7.1", "1.7.3", "1.7.5"}
	for i, seq := range interleavings {
		s, d, _ := liveStore(t, btsX)
		for _, ev := range seq {
			d.OnEvent(ev)
		}
		var got []string
		for _, o := range s.SideOrders(btsX, SideBuy) {
			got = append(got, o.ID)
		}
		sort.Strings(got)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("interleaving %d: got %v, want %v", i, got, want)
		}
	}
}
