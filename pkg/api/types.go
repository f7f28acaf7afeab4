package api

import "github.com/dexfolio/dexfolio/pkg/app/core"

// MarketInfo summarizes one subscribed market.
type MarketInfo struct {
	AssetID    string `json:"assetId"`
	Symbol     string `json:"symbol,omitempty"`
	BuyOrders  int    `json:"buyOrders"`
	SellOrders int    `json:"sellOrders"`
}

// OrderView is one resting order in a snapshot response.
type OrderView struct {
	ID      string  `json:"id"`
	Price   float64 `json:"price"`
	ForSale int64   `json:"forSale"`
}

// BookSnapshot is the current cached state of one market.
type BookSnapshot struct {
	AssetID   string      `json:"assetId"`
	Buy       []OrderView `json:"buy"`
	Sell      []OrderView `json:"sell"`
	Timestamp int64       `json:"timestamp"`
}

// RateResponse answers a hypothetical conversion query.
type RateResponse struct {
	AssetID   string `json:"assetId"`
	Direction string `json:"direction"`
	Amount    int64  `json:"amount"`
	Proceeds  int64  `json:"proceeds"`
}

// RebalanceRequest is the POST body for a rebalance preview.
type RebalanceRequest struct {
	Update core.Update `json:"update"`
	UserID string      `json:"userId,omitempty"`
}

// BookUpdate is pushed to ws clients subscribed to a market channel.
type BookUpdate struct {
	Type      string `json:"type"`
	AssetID   string `json:"assetId"`
	Label     string `json:"label"`
	Timestamp int64  `json:"timestamp"`
}

// WSSubscribeRequest is the client->server ws control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
