package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dexfolio/dexfolio/params"
	"github.com/dexfolio/dexfolio/pkg/app/core"
	"github.com/dexfolio/dexfolio/pkg/app/core/book"
	"github.com/dexfolio/dexfolio/pkg/app/core/rate"
	"github.com/dexfolio/dexfolio/pkg/app/core/rebalance"
	"github.com/dexfolio/dexfolio/pkg/feed"
	"github.com/dexfolio/dexfolio/pkg/util"
)

// request is the CLI input: the target diff plus the portfolio context the
// node would otherwise hold in its registries.
type request struct {
	Update   core.Update             `json:"update"`
	Balances map[string]core.Balance `json:"balances"`
	Assets   map[string]*core.Asset  `json:"assets"`
	UserID   string                  `json:"userId"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <request.json>\n", os.Args[0])
		os.Exit(1)
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read request: %v\n", err)
		os.Exit(1)
	}
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		fmt.Fprintf(os.Stderr, "parse request: %v\n", err)
		os.Exit(1)
	}

	cfg := params.LoadFromEnv("")
	logger, err := util.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := feed.NewClient(cfg.Feed.NodeURL, feed.Options{
		DialTimeout: cfg.Feed.DialTimeout,
		CallTimeout: cfg.Feed.CallTimeout,
		DepthLimit:  cfg.Market.BookDepthLimit,
		Logger:      logger,
	})
	go client.Run(ctx)

	// Bootstrap a book for every market the diff touches so the pricing
	// walk sees real depth.
	store := book.NewStore(cfg.Market.BaseAssetID, client, logger)
	for _, id := range marketsOf(req.Update, cfg.Market.BaseAssetID) {
		if err := subscribeWithRetry(ctx, store, id); err != nil {
			fmt.Fprintf(os.Stderr, "bootstrap %s: %v\n", id, err)
			os.Exit(1)
		}
	}

	calc := rate.NewCalculator(store)
	generator := rebalance.NewGenerator(
		rebalance.NewMarketSellBuilder(calc),
		rebalance.NewMarketDistributionBuilder(calc),
		logger,
	)

	baseBalances := make(map[string]int64, len(req.Balances))
	for id, bal := range req.Balances {
		baseBalances[id] = bal.Balance
	}

	userID := req.UserID
	if userID == "" {
		userID = cfg.Node.UserID
	}

	result, err := generator.GenerateOrders(ctx, rebalance.Request{
		Update:       req.Update,
		Balances:     req.Balances,
		Assets:       req.Assets,
		UserID:       userID,
		BaseID:       cfg.Market.BaseAssetID,
		BaseBalances: baseBalances,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate orders: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// marketsOf returns the sorted set of non-base assets the diff touches.
func marketsOf(update core.Update, baseID string) []string {
	set := make(map[string]struct{})
	for id := range update.Sell {
		set[id] = struct{}{}
	}
	for id := range update.Buy {
		set[id] = struct{}{}
	}
	delete(set, baseID)

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// subscribeWithRetry retries the bootstrap while the ws client is still
// dialing the node.
func subscribeWithRetry(ctx context.Context, store *book.Store, assetID string) error {
	var err error
	for attempt := 0; attempt < 20; attempt++ {
		if err = store.Subscribe(ctx, assetID, nil); err == nil {
			return nil
		}
		if serr := util.Sleep(ctx, 250*time.Millisecond); serr != nil {
			return serr
		}
	}
	return err
}
