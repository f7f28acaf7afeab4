package core

// Asset identifiers are opaque chain object ids (e.g. "1.3.0"). Amounts are
// integer quantities in the asset's smallest unit.

// AssetOptions carries the subset of on-chain asset options the cache needs.
type AssetOptions struct {
	// MarketFeePercent is a basis-point fee (out of 10000) deducted from
	// matched-order proceeds.
	MarketFeePercent int64 `json:"market_fee_percent"`
}

type Asset struct {
	ID      string       `json:"id"`
	Symbol  string       `json:"symbol"`
	Options AssetOptions `json:"options"`
}

// FeeFactor returns the multiplier that remains after the market fee.
func (a *Asset) FeeFactor() float64 {
	if a == nil {
		return 1
	}
	return 1 - float64(a.Options.MarketFeePercent)/10000
}

type AssetAmount struct {
	AssetID string `json:"asset_id"`
	Amount  int64  `json:"amount"`
}

// Price is a ratio of two asset amounts. For a limit order, Base is what the
// maker pays out and Quote is what the maker receives.
type Price struct {
	Base  AssetAmount `json:"base"`
	Quote AssetAmount `json:"quote"`
}

// Rate returns base.amount / quote.amount. A zero quote amount yields 0
// rather than Inf so a malformed order sorts to the bottom of a walk.
func (p Price) Rate() float64 {
	if p.Quote.Amount == 0 {
		return 0
	}
	return float64(p.Base.Amount) / float64(p.Quote.Amount)
}

// Order is one resting limit order as observed on the feed.
type Order struct {
	ID        string `json:"id"`
	SellPrice Price  `json:"sell_price"`
	// ForSale is the remaining unfilled amount. Only fill events mutate it.
	ForSale int64 `json:"for_sale"`
}

type Balance struct {
	Balance int64 `json:"balance"`
}

// Update is a rebalance target diff: per-asset sell fractions of the current
// holding, and per-asset shares of the resulting base proceeds to spend.
type Update struct {
	Sell map[string]float64 `json:"sell"`
	Buy  map[string]float64 `json:"buy"`
}
