package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/dexfolio/dexfolio/pkg/app/core"
)

// SnapshotStore persists asset metadata and last-seen balances so the node
// can warm its registries without refetching the chain on every start. Book
// state is deliberately not persisted; books are rebuilt from bootstrap on
// each subscribe.
type SnapshotStore struct {
	db *pebble.DB
}

func NewSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error { return s.db.Close() }

// keys: a:<asset-id>, bal:<asset-id>
func kAsset(id string) []byte   { return append([]byte("a:"), id...) }
func kBalance(id string) []byte { return append([]byte("bal:"), id...) }

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}

// SaveAsset persists one asset's metadata.
func (s *SnapshotStore) SaveAsset(a *core.Asset) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("cannot save asset without id")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal asset: %w", err)
	}
	if err := s.db.Set(kAsset(a.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

// LoadAsset loads one asset. Returns nil if absent.
func (s *SnapshotStore) LoadAsset(assetID string) (*core.Asset, error) {
	data, closer, err := s.db.Get(kAsset(assetID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	defer closer.Close()

	var a core.Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset: %w", err)
	}
	return &a, nil
}

// LoadAllAssets loads every persisted asset.
func (s *SnapshotStore) LoadAllAssets() ([]*core.Asset, error) {
	prefix := []byte("a:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var assets []*core.Asset
	for iter.First(); iter.Valid(); iter.Next() {
		var a core.Asset
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			continue // Skip invalid entries
		}
		assets = append(assets, &a)
	}
	return assets, nil
}

// SaveBalance persists the last-seen balance for one asset.
func (s *SnapshotStore) SaveBalance(assetID string, bal core.Balance) error {
	data, err := json.Marshal(bal)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := s.db.Set(kBalance(assetID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadAllBalances loads every persisted balance, keyed by asset id.
func (s *SnapshotStore) LoadAllBalances() (map[string]core.Balance, error) {
	prefix := []byte("bal:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	balances := make(map[string]core.Balance)
	for iter.First(); iter.Valid(); iter.Next() {
		var bal core.Balance
		if err := json.Unmarshal(iter.Value(), &bal); err != nil {
			continue
		}
		balances[string(iter.Key()[len(prefix):])] = bal
	}
	return balances, nil
}
