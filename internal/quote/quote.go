// Package quote keeps the latest streamed market price per symbol in
// memory. It is the price oracle consulted by smart orders and backs
// the current-prices accessor of the cache directory.
package quote

import "sync"

// Board holds the last observed price per symbol. It is written by the
// market stream handler and read by any number of pollers.
type Board struct {
	mu   sync.RWMutex
	last map[string]float64
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{last: make(map[string]float64)}
}

// Update records the latest price for a symbol.
func (b *Board) Update(symbol string, price float64) {
	b.mu.Lock()
	b.last[symbol] = price
	b.mu.Unlock()
}

// Last returns the latest price for a symbol, or false when no price
// has been observed yet.
func (b *Board) Last(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.last[symbol]
	return price, ok
}

// Snapshot returns a copy of every symbol's latest price.
func (b *Board) Snapshot() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.last))
	for symbol, price := range b.last {
		out[symbol] = price
	}
	return out
}
