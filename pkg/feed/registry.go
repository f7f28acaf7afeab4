package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dexfolio/dexfolio/pkg/app/core"
	"github.com/dexfolio/dexfolio/pkg/app/core/asset"
)

// Caller is the RPC slice of Client that registry sync depends on.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// RegistrySync fetches asset metadata and account balances from the node and
// lands them in the in-process registries. The snapshot store only replays
// what a previous run fetched, so a cold boot needs this fetch leg before the
// rebalance surface can work.
type RegistrySync struct {
	conn     Caller
	assets   *asset.Registry
	balances *asset.Balances
	log      *zap.Logger
}

func NewRegistrySync(conn Caller, assets *asset.Registry, balances *asset.Balances, logger *zap.Logger) *RegistrySync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrySync{conn: conn, assets: assets, balances: balances, log: logger}
}

// Sync fetches metadata for assetIDs and, when accountID is set, the
// account's balances in those assets. Assets the node does not know are
// returned as nulls and skipped.
func (s *RegistrySync) Sync(ctx context.Context, accountID string, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	result, err := s.conn.Call(ctx, "get_assets", []any{assetIDs})
	if err != nil {
		return fmt.Errorf("fetch assets: %w", err)
	}
	var fetched []*core.Asset
	if err := json.Unmarshal(result, &fetched); err != nil {
		return fmt.Errorf("fetch assets: decode: %w", err)
	}
	known := 0
	for _, a := range fetched {
		if a == nil || a.ID == "" {
			continue
		}
		s.assets.Put(a)
		known++
	}
	s.log.Info("assets_synced", zap.Int("requested", len(assetIDs)), zap.Int("known", known))

	if accountID == "" {
		return nil
	}

	result, err = s.conn.Call(ctx, "get_account_balances", []any{accountID, assetIDs})
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}
	var amounts []core.AssetAmount
	if err := json.Unmarshal(result, &amounts); err != nil {
		return fmt.Errorf("fetch balances: decode: %w", err)
	}
	for _, amt := range amounts {
		if amt.AssetID == "" {
			continue
		}
		s.balances.Set(amt.AssetID, core.Balance{Balance: amt.Amount})
	}
	s.log.Info("balances_synced", zap.String("account", accountID), zap.Int("count", len(amounts)))
	return nil
}

var _ Caller = (*Client)(nil)
