package asset

import (
	"sort"
	"sync"

	"github.com/dexfolio/dexfolio/pkg/app/core"
)

// Registry is a thread-safe asset-id keyed view of chain asset metadata.
// Entries are upserted as the node learns about assets; the snapshot store
// warms it across restarts.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]*core.Asset
}

func NewRegistry() *Registry {
	return &Registry{assets: make(map[string]*core.Asset)}
}

// Put inserts or replaces an asset. Nil assets and assets without an id are
// silently dropped.
func (r *Registry) Put(a *core.Asset) {
	if a == nil || a.ID == "" {
		return
	}
	r.mu.Lock()
	r.assets[a.ID] = a
	r.mu.Unlock()
}

func (r *Registry) Get(assetID string) (*core.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[assetID]
	return a, ok
}

func (r *Registry) Exists(assetID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assets[assetID]
	return ok
}

func (r *Registry) Remove(assetID string) {
	r.mu.Lock()
	delete(r.assets, assetID)
	r.mu.Unlock()
}

// List returns the registered assets sorted by id.
func (r *Registry) List() []*core.Asset {
	r.mu.RLock()
	out := make([]*core.Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Map returns a copied id-keyed view suitable for handing to the rebalance
// generator.
func (r *Registry) Map() map[string]*core.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*core.Asset, len(r.assets))
	for id, a := range r.assets {
		out[id] = a
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// Balances tracks last-seen per-asset account balances.
type Balances struct {
	mu       sync.RWMutex
	balances map[string]core.Balance
}

func NewBalances() *Balances {
	return &Balances{balances: make(map[string]core.Balance)}
}

func (b *Balances) Set(assetID string, bal core.Balance) {
	if assetID == "" {
		return
	}
	b.mu.Lock()
	b.balances[assetID] = bal
	b.mu.Unlock()
}

func (b *Balances) Get(assetID string) (core.Balance, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bal, ok := b.balances[assetID]
	return bal, ok
}

// Map returns a copied id-keyed view.
func (b *Balances) Map() map[string]core.Balance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]core.Balance, len(b.balances))
	for id, bal := range b.balances {
		out[id] = bal
	}
	return out
}

// Amounts returns plain per-asset amounts, the shape the rebalance request
// wants for base balances.
func (b *Balances) Amounts() map[string]int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int64, len(b.balances))
	for id, bal := range b.balances {
		out[id] = bal.Balance
	}
	return out
}
