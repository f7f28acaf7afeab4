package rebalance

import (
	"context"
	"fmt"
	"math"

	"github.com/dexfolio/dexfolio/pkg/app/core"
	"github.com/dexfolio/dexfolio/pkg/app/core/rate"
)

// MarketSellBuilder prices "sell into base" orders off the local book: the
// min_to_receive floor is what a depth walk says the amount can fetch right
// now. A remote builder could replace this without touching the generator.
type MarketSellBuilder struct {
	rates rate.Rater
}

func NewMarketSellBuilder(rates rate.Rater) *MarketSellBuilder {
	return &MarketSellBuilder{rates: rates}
}

func (b *MarketSellBuilder) BuildSellOrders(ctx context.Context, specs []SellSpec, baseAsset *core.Asset, userID string) ([]OrderParams, error) {
	if baseAsset == nil {
		return nil, fmt.Errorf("sell builder: nil base asset")
	}
	out := make([]OrderParams, 0, len(specs))
	for _, sp := range specs {
		if sp.Asset == nil {
			return nil, fmt.Errorf("sell builder: spec without asset")
		}
		proceeds := b.rates.CalcExchangeRate(sp.Asset.ID, rate.Sell, sp.Amount)
		out = append(out, OrderParams{
			Seller:       userID,
			AmountToSell: core.AssetAmount{AssetID: sp.Asset.ID, Amount: sp.Amount},
			MinToReceive: MinToReceive{AssetID: baseAsset.ID, Amount: proceeds},
		})
	}
	return out, nil
}

// MarketDistributionBuilder splits a base total across buy targets by share
// and prices each leg off the local book.
type MarketDistributionBuilder struct {
	rates rate.Rater
}

func NewMarketDistributionBuilder(rates rate.Rater) *MarketDistributionBuilder {
	return &MarketDistributionBuilder{rates: rates}
}

func (b *MarketDistributionBuilder) BuildDistributionOrders(ctx context.Context, baseAsset *core.Asset, totalBase int64, specs []BuySpec, userID string) ([]OrderParams, error) {
	if baseAsset == nil {
		return nil, fmt.Errorf("distribution builder: nil base asset")
	}
	out := make([]OrderParams, 0, len(specs))
	for _, sp := range specs {
		if sp.Asset == nil {
			return nil, fmt.Errorf("distribution builder: spec without asset")
		}
		spend := int64(math.Floor(sp.Share * float64(totalBase)))
		receive := b.rates.CalcExchangeRate(sp.Asset.ID, rate.Buy, spend)
		out = append(out, OrderParams{
			Seller:       userID,
			AmountToSell: core.AssetAmount{AssetID: baseAsset.ID, Amount: spend},
			MinToReceive: MinToReceive{AssetID: sp.Asset.ID, Amount: receive},
		})
	}
	return out, nil
}

var (
	_ SellOrderBuilder         = (*MarketSellBuilder)(nil)
	_ DistributionOrderBuilder = (*MarketDistributionBuilder)(nil)
)
