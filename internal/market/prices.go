// Package market keeps the latest top-of-book per symbol.
package market

import (
	"sort"
	"sync"

	"signal-trader/pkg/exchanges/common"
)

// PriceCache is the per-exchange bid/ask cache fed by the stream and read by
// the PnL path and the HTTP API.
type PriceCache struct {
	mu     sync.RWMutex
	quotes map[string]common.Quote
}

// NewPriceCache returns an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]common.Quote)}
}

// Update merges q into the cached quote of q.Symbol. Zero sides are treated as
// not carried by the update and keep the previous value. The merged quote is returned.
func (p *PriceCache) Update(q common.Quote) common.Quote {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.quotes[q.Symbol]
	cur.Symbol = q.Symbol
	if q.Bid > 0 {
		cur.Bid = q.Bid
	}
	if q.Ask > 0 {
		cur.Ask = q.Ask
	}
	p.quotes[q.Symbol] = cur
	return cur
}

// Get returns the cached quote of symbol.
func (p *PriceCache) Get(symbol string) (common.Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	return q, ok
}

// Snapshot returns every cached quote ordered by symbol.
func (p *PriceCache) Snapshot() []common.Quote {
	p.mu.RLock()
	out := make([]common.Quote, 0, len(p.quotes))
	for _, q := range p.quotes {
		out = append(out, q)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
