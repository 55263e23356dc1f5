package adapter

import (
	"github.com/confluence-watch/internal/types"
)

// Registry holds the per-chain adapter fan-out lists. It is built once at
// startup and never mutated afterward (spec §9 "Global state") — readers
// do not need to hold a lock.
type Registry struct {
	trending map[types.ChainID][]TrendingSource
	transfer map[types.ChainID][]TransferSource
	price    []PriceSource // declared fallback order, chain-agnostic
	safety   map[types.ChainID]SafetySource
}

// NewRegistry builds an empty registry; call the Add* methods during
// startup wiring, then treat the Registry as read-only.
func NewRegistry() *Registry {
	return &Registry{
		trending: make(map[types.ChainID][]TrendingSource),
		transfer: make(map[types.ChainID][]TransferSource),
		safety:   make(map[types.ChainID]SafetySource),
	}
}

func (r *Registry) AddTrending(chain types.ChainID, src TrendingSource) {
	r.trending[chain] = append(r.trending[chain], src)
}

func (r *Registry) AddTransfer(chain types.ChainID, src TransferSource) {
	r.transfer[chain] = append(r.transfer[chain], src)
}

// AddPrice appends src to the declared price fallback order. Order is
// explicit configuration, never implicit type lookup (spec §9).
func (r *Registry) AddPrice(src PriceSource) {
	r.price = append(r.price, src)
}

func (r *Registry) AddSafety(chain types.ChainID, src SafetySource) {
	r.safety[chain] = src
}

func (r *Registry) TrendingSources(chain types.ChainID) []TrendingSource {
	return r.trending[chain]
}

func (r *Registry) TransferSources(chain types.ChainID) []TransferSource {
	return r.transfer[chain]
}

func (r *Registry) PriceSources() []PriceSource {
	return r.price
}

func (r *Registry) SafetySource(chain types.ChainID) (SafetySource, bool) {
	s, ok := r.safety[chain]
	return s, ok
}

// EnabledChains returns the union of chains with at least one transfer or
// trending source registered.
func (r *Registry) EnabledChains() []types.ChainID {
	seen := make(map[types.ChainID]bool)
	var chains []types.ChainID
	for c := range r.trending {
		if !seen[c] {
			seen[c] = true
			chains = append(chains, c)
		}
	}
	for c := range r.transfer {
		if !seen[c] {
			seen[c] = true
			chains = append(chains, c)
		}
	}
	return chains
}
