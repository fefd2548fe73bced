package mining

import (
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultScratchLimit is the size of a Budget created without a limit.
	DefaultScratchLimit = 1 << 20

	// MaxScratch is the largest scratch buffer a Miner without a Budget
	// allocates for one call.
	MaxScratch = 1 << 30
)

// Budget caps the scratch memory held by concurrent searches.
//
// Acquire never blocks: a request that does not fit fails with ErrOutOfMemory.
type Budget struct {
	limit int64
	sem   *semaphore.Weighted
}

// NewBudget returns a budget of limit bytes. A non-positive limit falls back
// to DefaultScratchLimit.
func NewBudget(limit int64) *Budget {
	if limit <= 0 {
		limit = DefaultScratchLimit
	}
	return &Budget{limit: limit, sem: semaphore.NewWeighted(limit)}
}

// Limit returns the total number of bytes the budget can hand out.
func (b *Budget) Limit() int64 {
	return b.limit
}

// Acquire reserves and allocates a zeroed buffer of n bytes. The returned
// release func must be called once the buffer is no longer used; extra calls
// are no-ops.
func (b *Budget) Acquire(n uint64) ([]byte, func(), error) {
	if n > uint64(b.limit) {
		return nil, nil, fmt.Errorf("%w: scratch of %d bytes exceeds budget of %d", ErrOutOfMemory, n, b.limit)
	}
	w := int64(n)
	if !b.sem.TryAcquire(w) {
		return nil, nil, fmt.Errorf("%w: scratch budget of %d bytes in use", ErrOutOfMemory, b.limit)
	}
	var once sync.Once
	release := func() {
		once.Do(func() { b.sem.Release(w) })
	}
	return make([]byte, n), release, nil
}

// acquireScratch takes n bytes from b, or allocates them for this call alone
// when b is nil.
func acquireScratch(b *Budget, n uint64) ([]byte, func(), error) {
	if b != nil {
		return b.Acquire(n)
	}
	if n > MaxScratch {
		return nil, nil, fmt.Errorf("%w: scratch of %d bytes exceeds %d", ErrOutOfMemory, n, MaxScratch)
	}
	return make([]byte, n), func() {}, nil
}
