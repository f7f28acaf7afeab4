package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/dexfolio/dexfolio/pkg/app/core"
)

// ErrMalformedOrderParams is returned when a delegate builder hands back an
// order missing or misreferencing min_to_receive. It is the one fatal
// collaborator condition; everything else degrades to empty results.
var ErrMalformedOrderParams = errors.New("malformed order params from builder")

// SellSpec asks a builder to sell Amount of Asset into the base asset.
type SellSpec struct {
	Asset  *core.Asset
	Amount int64
}

// BuySpec asks a builder to spend Share of the base proceeds on Asset.
type BuySpec struct {
	Asset *core.Asset
	Share float64
}

// MinToReceive is the floor leg of generated order params.
//
// AltAssetID is a differently cased spelling of asset_id that one consumer
// reads while every producer populates asset_id; the builders here never set
// it. ExchangeResult stays keyed by it, bug-compatible with the v1 service
// (see DESIGN.md). Do not change the keying without updating the pinned
// test.
type MinToReceive struct {
	AssetID    string `json:"asset_id"`
	AltAssetID string `json:"assetId,omitempty"`
	Amount     int64  `json:"amount"`
}

// OrderParams is a submittable limit-order parameter set. Submission itself
// is an external concern.
type OrderParams struct {
	Seller       string           `json:"seller"`
	AmountToSell core.AssetAmount `json:"amount_to_sell"`
	MinToReceive MinToReceive     `json:"min_to_receive"`
	FillOrKill   bool             `json:"fill_or_kill"`
}

// SellOrderBuilder turns sell specs into "sell into base" order params.
type SellOrderBuilder interface {
	BuildSellOrders(ctx context.Context, specs []SellSpec, baseAsset *core.Asset, userID string) ([]OrderParams, error)
}

// DistributionOrderBuilder turns buy specs plus a base total into "spend
// share of base" order params.
type DistributionOrderBuilder interface {
	BuildDistributionOrders(ctx context.Context, baseAsset *core.Asset, totalBase int64, specs []BuySpec, userID string) ([]OrderParams, error)
}

// Request carries everything GenerateOrders needs: the target diff, current
// balances, the asset registry snapshot, and the acting user.
type Request struct {
	Update       core.Update
	Balances     map[string]core.Balance
	Assets       map[string]*core.Asset
	UserID       string
	BaseID       string
	BaseBalances map[string]int64
}

// Result is the two-phase order batch: sells first, then distribution buys.
// ExchangeResult maps expected fee-adjusted proceeds per buy order.
type Result struct {
	SellOrders     []OrderParams    `json:"sellOrders"`
	BuyOrders      []OrderParams    `json:"buyOrders"`
	ExchangeResult map[string]int64 `json:"exchangeResult"`
}

// Generator synthesizes rebalancing order batches from a target-allocation
// diff. It owns no pricing itself; the delegate builders do.
type Generator struct {
	sells SellOrderBuilder
	buys  DistributionOrderBuilder
	log   *zap.Logger
}

func NewGenerator(sells SellOrderBuilder, buys DistributionOrderBuilder, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{sells: sells, buys: buys, log: logger}
}

// GenerateOrders builds the sell batch, aggregates expected fee-adjusted
// base proceeds, and builds the buy batch against that total. Empty sell/buy
// maps produce empty batches, not errors. Zero-balance assets produce
// zero-amount sell orders; filtering those is the builder's business.
func (g *Generator) GenerateOrders(ctx context.Context, req Request) (*Result, error) {
	baseAsset := req.Assets[req.BaseID]
	if baseAsset == nil {
		return nil, fmt.Errorf("base asset %s missing from registry", req.BaseID)
	}

	sellSpecs := make([]SellSpec, 0, len(req.Update.Sell))
	for assetID, frac := range req.Update.Sell {
		if assetID == req.BaseID {
			// The base fraction is liquid already; no market order.
			continue
		}
		asset := req.Assets[assetID]
		if asset == nil {
			return nil, fmt.Errorf("sell target %s missing from registry", assetID)
		}
		sellSpecs = append(sellSpecs, SellSpec{
			Asset:  asset,
			Amount: int64(math.Floor(frac * float64(req.Balances[assetID].Balance))),
		})
	}

	sellOrders, err := g.sells.BuildSellOrders(ctx, sellSpecs, baseAsset, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("build sell orders: %w", err)
	}

	var baseTotal int64
	for _, o := range sellOrders {
		net, err := g.netProceeds(req.Assets, o)
		if err != nil {
			return nil, err
		}
		baseTotal += net
	}
	if frac, ok := req.Update.Sell[req.BaseID]; ok && frac != 0 {
		baseTotal += int64(math.Floor(float64(req.BaseBalances[req.BaseID]) * frac))
	}

	g.log.Info("rebalance_sell_phase",
		zap.Int("orders", len(sellOrders)),
		zap.Int64("base_total", baseTotal))

	buySpecs := make([]BuySpec, 0, len(req.Update.Buy))
	for assetID, share := range req.Update.Buy {
		asset := req.Assets[assetID]
		if asset == nil {
			return nil, fmt.Errorf("buy target %s missing from registry", assetID)
		}
		buySpecs = append(buySpecs, BuySpec{Asset: asset, Share: share})
	}

	buyOrders, err := g.buys.BuildDistributionOrders(ctx, baseAsset, baseTotal, buySpecs, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("build distribution orders: %w", err)
	}

	exchangeResult := make(map[string]int64, len(buyOrders))
	for _, o := range buyOrders {
		net, err := g.netProceeds(req.Assets, o)
		if err != nil {
			return nil, err
		}
		// Keyed by the alias field, which stays empty. Preserved quirk;
		// see MinToReceive.
		exchangeResult[o.MinToReceive.AltAssetID] = net
	}

	g.log.Info("rebalance_buy_phase", zap.Int("orders", len(buyOrders)))

	return &Result{
		SellOrders:     sellOrders,
		BuyOrders:      buyOrders,
		ExchangeResult: exchangeResult,
	}, nil
}

// netProceeds applies the receiving asset's market fee (basis points out of
// 10000) to an order's min_to_receive.
func (g *Generator) netProceeds(assets map[string]*core.Asset, o OrderParams) (int64, error) {
	if o.MinToReceive.AssetID == "" {
		return 0, fmt.Errorf("%w: missing min_to_receive", ErrMalformedOrderParams)
	}
	asset := assets[o.MinToReceive.AssetID]
	if asset == nil {
		return 0, fmt.Errorf("%w: unknown asset %s", ErrMalformedOrderParams, o.MinToReceive.AssetID)
	}
	return int64(math.Floor(float64(o.MinToReceive.Amount) * asset.FeeFactor())), nil
}
