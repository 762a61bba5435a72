package state

import (
	"errors"
	"fmt"

	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
)

var ErrConfigurationMismatch = errors.New("collateral assets and price feeds must be parallel lists of equal length")

// Registry is the immutable set of accepted collateral assets and their feeds,
// kept in registration order.
type Registry struct {
	assets []ledger.AssetID
	feeds  map[ledger.AssetID]oracle.FeedID
}

func NewRegistry(assets []ledger.AssetID, feeds []oracle.FeedID) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrConfigurationMismatch, len(assets), len(feeds))
	}

	r := &Registry{
		assets: make([]ledger.AssetID, 0, len(assets)),
		feeds:  make(map[ledger.AssetID]oracle.FeedID, len(assets)),
	}
	for i, asset := range assets {
		if asset == "" || feeds[i] == "" {
			return nil, fmt.Errorf("%w: empty entry at index %d", ErrConfigurationMismatch, i)
		}
		if _, dup := r.feeds[asset]; dup {
			return nil, fmt.Errorf("%w: asset %s listed twice", ErrConfigurationMismatch, asset)
		}
		r.assets = append(r.assets, asset)
		r.feeds[asset] = feeds[i]
	}
	return r, nil
}

func (r *Registry) IsAllowed(asset ledger.AssetID) bool {
	_, ok := r.feeds[asset]
	return ok
}

func (r *Registry) FeedOf(asset ledger.AssetID) (oracle.FeedID, bool) {
	feed, ok := r.feeds[asset]
	return feed, ok
}

// Assets returns the accepted assets in registration order
func (r *Registry) Assets() []ledger.AssetID {
	out := make([]ledger.AssetID, len(r.assets))
	copy(out, r.assets)
	return out
}

func (r *Registry) Len() int {
	return len(r.assets)
}
