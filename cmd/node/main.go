package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dexfolio/dexfolio/params"
	"github.com/dexfolio/dexfolio/pkg/api"
	"github.com/dexfolio/dexfolio/pkg/app/core/asset"
	"github.com/dexfolio/dexfolio/pkg/app/core/book"
	"github.com/dexfolio/dexfolio/pkg/app/core/rate"
	"github.com/dexfolio/dexfolio/pkg/app/core/rebalance"
	"github.com/dexfolio/dexfolio/pkg/feed"
	"github.com/dexfolio/dexfolio/pkg/storage"
	"github.com/dexfolio/dexfolio/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Snapshot store: warm asset/balance registries from disk ----
	snap, err := storage.NewSnapshotStore(filepath.Join(cfg.Node.DataDir, "snapshots"))
	if err != nil {
		sugar.Fatalw("snapshot_store_open_failed", "err", err)
	}
	defer snap.Close()

	assets := asset.NewRegistry()
	balances := asset.NewBalances()

	if loaded, err := snap.LoadAllAssets(); err != nil {
		sugar.Warnw("asset_snapshot_load_failed", "err", err)
	} else {
		for _, a := range loaded {
			assets.Put(a)
		}
		sugar.Infow("assets_loaded", "count", len(loaded))
	}
	if loaded, err := snap.LoadAllBalances(); err != nil {
		sugar.Warnw("balance_snapshot_load_failed", "err", err)
	} else {
		for id, bal := range loaded {
			balances.Set(id, bal)
		}
	}

	// ---- Feed: ws connection to the DEX node ----
	client := feed.NewClient(cfg.Feed.NodeURL, feed.Options{
		DialTimeout: cfg.Feed.DialTimeout,
		CallTimeout: cfg.Feed.CallTimeout,
		DepthLimit:  cfg.Market.BookDepthLimit,
		Logger:      logger,
	})

	// ---- Book cache + market-update dispatch ----
	store := book.NewStore(cfg.Market.BaseAssetID, client, logger)
	dispatcher := book.NewDispatcher(store, logger)

	listener := feed.NewListener(client, logger)
	listener.AddSubscription(feed.NewMarketsSubscription(dispatcher, logger))
	listener.Enable(ctx)

	// ---- Rates + rebalance ----
	calc := rate.NewCalculator(store)
	generator := rebalance.NewGenerator(
		rebalance.NewMarketSellBuilder(calc),
		rebalance.NewMarketDistributionBuilder(calc),
		logger,
	)

	// ---- API ----
	server := api.NewServer(store, calc, generator, assets, balances, cfg.Node.UserID, logger)

	// The registries start cold unless a previous run left a snapshot. Fetch
	// current asset metadata and account balances before serving; the feed
	// may still be dialing, so retry briefly.
	watched := splitAssets(os.Getenv("SUBSCRIBE_ASSETS"))
	regSync := feed.NewRegistrySync(client, assets, balances, logger)
	syncIDs := append([]string{cfg.Market.BaseAssetID}, watched...)
	if err := syncRegistries(ctx, regSync, cfg.Node.UserID, syncIDs); err != nil {
		sugar.Warnw("registry_sync_failed", "err", err)
	}

	// Pre-subscribe markets listed in SUBSCRIBE_ASSETS (comma separated).
	// Failures are retried implicitly: the UI can re-subscribe over REST.
	for _, id := range watched {
		if err := store.Subscribe(ctx, id, server.BookCallback(id)); err != nil {
			sugar.Warnw("market_subscribe_failed", "asset", id, "err", err)
			continue
		}
		sugar.Infow("market_subscribed", "asset", id)
	}

	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()
	sugar.Infow("node_started", "api", cfg.Node.APIAddr, "feed", cfg.Feed.NodeURL)

	<-ctx.Done()
	sugar.Infow("shutting_down")

	// Persist registries so the next boot starts warm.
	for _, a := range assets.List() {
		if err := snap.SaveAsset(a); err != nil {
			sugar.Warnw("asset_snapshot_save_failed", "asset", a.ID, "err", err)
		}
	}
	for id, bal := range balances.Map() {
		if err := snap.SaveBalance(id, bal); err != nil {
			sugar.Warnw("balance_snapshot_save_failed", "asset", id, "err", err)
		}
	}
}

func syncRegistries(ctx context.Context, s *feed.RegistrySync, accountID string, ids []string) error {
	var err error
	for attempt := 0; attempt < 40; attempt++ {
		if err = s.Sync(ctx, accountID, ids); err == nil {
			return nil
		}
		if serr := util.Sleep(ctx, 250*time.Millisecond); serr != nil {
			return err
		}
	}
	return err
}

func splitAssets(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}
