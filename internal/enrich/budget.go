package enrich

import "sync"

// Budget is the per-run cap on external search calls. It is the single
// authority on whether another call may be made; callers consume through
// TryConsume and never track spend themselves.
type Budget struct {
	mu   sync.Mutex
	cap  int
	used int
}

// NewBudget creates a budget allowing cap calls. A non-positive cap allows
// nothing.
func NewBudget(cap int) *Budget {
	return &Budget{cap: cap}
}

// TryConsume reserves one call. It returns false once the cap is reached and
// never blocks.
func (b *Budget) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.cap {
		return false
	}
	b.used++
	return true
}

// Used returns how many calls have been consumed.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns how many calls are left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.cap {
		return 0
	}
	return b.cap - b.used
}
