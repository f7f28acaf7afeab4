package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dexfolio/dexfolio/pkg/app/core"
	"github.com/dexfolio/dexfolio/pkg/app/core/asset"
	"github.com/dexfolio/dexfolio/pkg/app/core/book"
	"github.com/dexfolio/dexfolio/pkg/app/core/rate"
	"github.com/dexfolio/dexfolio/pkg/app/core/rebalance"
	"github.com/dexfolio/dexfolio/pkg/feed"
)

const (
	baseID  = "1.3.0"
	assetID = "1.3.5"
)

type fixedLoader struct {
	buy, sell []*core.Order
}

func (l *fixedLoader) LoadBook(ctx context.Context, base, asset string) ([]*core.Order, []*core.Order, error) {
	return l.buy, l.sell, nil
}

// testServer wires a store with one subscribed market
// (buy side 50@1.2 and 100@0.5, sell side 1000@1.5) and warm registries.
func testServer(t *testing.T) *Server {
	t.Helper()
	assets := asset.NewRegistry()
	assets.Put(&core.Asset{ID: baseID, Symbol: "BASE"})
	assets.Put(&core.Asset{ID: assetID, Symbol: "ALPHA"})

	balances := asset.NewBalances()
	balances.Set(assetID, core.Balance{Balance: 1000})

	return newTestServer(t, assets, balances)
}

func newTestServer(t *testing.T, assets *asset.Registry, balances *asset.Balances) *Server {
	t.Helper()
	loader := &fixedLoader{
		buy: []*core.Order{
			{ID: "1.7.1", SellPrice: core.Price{
				Base:  core.AssetAmount{AssetID: baseID, Amount: 6},
				Quote: core.AssetAmount{AssetID: assetID, Amount: 5},
			}, ForSale: 50},
			{ID: "1.7.2", SellPrice: core.Price{
				Base:  core.AssetAmount{AssetID: baseID, Amount: 1},
				Quote: core.AssetAmount{AssetID: assetID, Amount: 2},
			}, ForSale: 100},
		},
		sell: []*core.Order{
			{ID: "1.7.3", SellPrice: core.Price{
				Base:  core.AssetAmount{AssetID: assetID, Amount: 3},
				Quote: core.AssetAmount{AssetID: baseID, Amount: 2},
			}, ForSale: 1000},
		},
	}

	store := book.NewStore(baseID, loader, nil)
	if err := store.Subscribe(context.Background(), assetID, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	calc := rate.NewCalculator(store)
	generator := rebalance.NewGenerator(
		rebalance.NewMarketSellBuilder(calc),
		rebalance.NewMarketDistributionBuilder(calc),
		nil,
	)
	return NewServer(store, calc, generator, assets, balances, "acct-1", nil)
}

func TestRateEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/markets/" + assetID + "/rate?direction=sell&amount=120")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var got RateResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	// 50*1.2 + 70*0.5 = 95
	if got.Proceeds != 95 {
		t.Errorf("proceeds: got %d, want 95", got.Proceeds)
	}
}

func TestRateEndpointRejectsBadInput(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	for _, url := range []string{
		"/api/v1/markets/" + assetID + "/rate?direction=sideways&amount=10",
		"/api/v1/markets/" + assetID + "/rate?direction=sell&amount=-1",
		"/api/v1/markets/" + assetID + "/rate?direction=sell&amount=abc",
	} {
		resp, err := http.Get(srv.URL + url)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", url, resp.StatusCode)
		}
	}
}

func TestOrderbookEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/markets/" + assetID + "/orderbook")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap BookSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Buy) != 2 || len(snap.Sell) != 1 {
		t.Errorf("sides: buy=%d sell=%d", len(snap.Buy), len(snap.Sell))
	}

	resp2, err := http.Get(srv.URL + "/api/v1/markets/1.3.9/orderbook")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unsubscribed market: status %d, want 404", resp2.StatusCode)
	}
}

func TestRebalancePreviewEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	body, _ := json.Marshal(RebalanceRequest{
		Update: core.Update{
			Sell: map[string]float64{assetID: 0.5},
			Buy:  map[string]float64{assetID: 1.0},
		},
	})
	resp, err := http.Post(srv.URL+"/api/v1/rebalance/preview", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var result rebalance.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.SellOrders) != 1 {
		t.Fatalf("sell orders: %+v", result.SellOrders)
	}
	// Selling 500: full depth 50*1.2 + 100*0.5 = 110
	if got := result.SellOrders[0].MinToReceive.Amount; got != 110 {
		t.Errorf("sell min_to_receive: got %d, want 110", got)
	}
	if result.SellOrders[0].Seller != "acct-1" {
		t.Errorf("seller defaulted to %q", result.SellOrders[0].Seller)
	}
	if len(result.BuyOrders) != 1 {
		t.Fatalf("buy orders: %+v", result.BuyOrders)
	}
	// Spending 110 base against the 1.5 sell side: floor(110*1.5) = 165
	if got := result.BuyOrders[0].MinToReceive.Amount; got != 165 {
		t.Errorf("buy min_to_receive: got %d, want 165", got)
	}
}

type cannedCaller struct {
	responses map[string]json.RawMessage
}

func (c *cannedCaller) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return c.responses[method], nil
}

// A freshly booted node has empty registries until the feed sync lands; the
// preview must fail cleanly before and succeed after.
func TestPreviewColdStartThenRegistrySync(t *testing.T) {
	assets := asset.NewRegistry()
	balances := asset.NewBalances()
	srv := httptest.NewServer(newTestServer(t, assets, balances).Handler())
	defer srv.Close()

	preview := func() *http.Response {
		t.Helper()
		body, _ := json.Marshal(RebalanceRequest{
			Update: core.Update{
				Sell: map[string]float64{assetID: 0.5},
				Buy:  map[string]float64{assetID: 1.0},
			},
		})
		resp, err := http.Post(srv.URL+"/api/v1/rebalance/preview", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := preview()
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("cold preview: status %d, want 422", resp.StatusCode)
	}

	sync := feed.NewRegistrySync(&cannedCaller{responses: map[string]json.RawMessage{
		"get_assets": json.RawMessage(`[
			{"id":"` + baseID + `","symbol":"BASE"},
			{"id":"` + assetID + `","symbol":"ALPHA"}
		]`),
		"get_account_balances": json.RawMessage(`[{"asset_id":"` + assetID + `","amount":1000}]`),
	}}, assets, balances, nil)
	if err := sync.Sync(context.Background(), "1.2.42", []string{baseID, assetID}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	resp = preview()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("warm preview: status %d, want 200", resp.StatusCode)
	}
	var result rebalance.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.SellOrders) != 1 || result.SellOrders[0].MinToReceive.Amount != 110 {
		t.Errorf("sell orders after sync: %+v", result.SellOrders)
	}
}

func TestHubBroadcastRespectsSubscriptions(t *testing.T) {
	hub := NewHub(nil)

	subscribed := &wsClient{send: make(chan []byte, 1), subscriptions: map[string]bool{"book:" + assetID: true}}
	other := &wsClient{send: make(chan []byte, 1), subscriptions: map[string]bool{"book:1.3.9": true}}
	hub.clients[subscribed] = struct{}{}
	hub.clients[other] = struct{}{}

	hub.BroadcastToChannel("book:"+assetID, BookUpdate{Type: "book", AssetID: assetID})

	select {
	case msg := <-subscribed.send:
		var upd BookUpdate
		if err := json.Unmarshal(msg, &upd); err != nil || upd.AssetID != assetID {
			t.Errorf("bad update: %s", msg)
		}
	default:
		t.Error("subscribed client got nothing")
	}
	select {
	case <-other.send:
		t.Error("unsubscribed client got an update")
	default:
	}
}
