package stream

import (
	"sync"

	"signal-trader/pkg/exchanges/common"
)

// Topic is one subscription. Symbol is empty for channels that stream every
// instrument (BitMEX tables).
type Topic struct {
	Channel common.Channel
	Symbol  string
}

// Subscriptions is the ordered record of everything subscribed so far. It never
// holds duplicates and survives reconnects.
type Subscriptions struct {
	mu    sync.RWMutex
	order []Topic
	set   map[Topic]struct{}
}

// NewSubscriptions creates an empty record.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{set: make(map[Topic]struct{})}
}

// Add records t and reports whether it was new.
func (s *Subscriptions) Add(t Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[t]; ok {
		return false
	}
	s.set[t] = struct{}{}
	s.order = append(s.order, t)
	return true
}

// Has reports whether t is recorded.
func (s *Subscriptions) Has(t Topic) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[t]
	return ok
}

// All returns a copy of the record in subscription order.
func (s *Subscriptions) All() []Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Topic, len(s.order))
	copy(out, s.order)
	return out
}

// Symbols lists the recorded symbols of one channel.
func (s *Subscriptions) Symbols(ch common.Channel) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, t := range s.order {
		if t.Channel == ch {
			out = append(out, t.Symbol)
		}
	}
	return out
}
