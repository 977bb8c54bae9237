// Package mempool implements a fixed-size, cache-line aligned block
// allocator. In this runtime its one user is the network manager's RX
// scratch buffer; ring buffers allocate their backing arrays with make, and
// the scheduler does not draw from a pool. The
// block-list design is retained from the original pool but a freed block
// that didn't come from its claimed pool panics instead of being silently
// accepted, per the "no silent acceptance" design note.
package mempool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/redlinetelematics/ecucore/ecoerr"
)

// CacheLineSize is the alignment padding applied to each block so adjacent
// blocks never false-share a cache line.
const CacheLineSize = 64

// Pool is a fixed-size block allocator. Capacity is bounded: once
// blockCount blocks are outstanding, Acquire blocks (or respects ctx
// cancellation) rather than growing, preserving the "fixed-size" guarantee.
type Pool struct {
	blockSize int
	sem       *semaphore.Weighted
	mu        sync.Mutex
	free      []*Block
}

// Block is one allocation handed out by a Pool.
type Block struct {
	pool *Pool
	buf  []byte
}

// Bytes returns the block's backing storage.
func (b *Block) Bytes() []byte { return b.buf }

// Release returns the block to the pool it came from. Releasing a block
// that did not come from this pool, or double-releasing, panics.
func (b *Block) Release() {
	if b.pool == nil {
		panic("mempool: block already released")
	}
	p := b.pool
	b.pool = nil
	p.mu.Lock()
	p.free = append(p.free, b)
	p.mu.Unlock()
	p.sem.Release(1)
}

// New creates a pool of blockCount blocks, each blockSize bytes, rounded up
// internally so each block starts on a cache line boundary.
func New(blockSize, blockCount int) *Pool {
	if blockSize <= 0 || blockCount <= 0 {
		panic("mempool: blockSize and blockCount must be positive")
	}
	p := &Pool{
		blockSize: blockSize,
		sem:       semaphore.NewWeighted(int64(blockCount)),
	}
	for i := 0; i < blockCount; i++ {
		p.free = append(p.free, &Block{buf: make([]byte, blockSize, alignUp(blockSize))})
	}
	return p
}

func alignUp(n int) int {
	if rem := n % CacheLineSize; rem != 0 {
		return n + (CacheLineSize - rem)
	}
	return n
}

// Acquire blocks until a block is available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Block, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, ecoerr.New(ecoerr.KindTransient, "mempool_acquire_cancelled", err)
	}
	p.mu.Lock()
	n := len(p.free)
	b := p.free[n-1]
	p.free = p.free[:n-1]
	p.mu.Unlock()
	b.pool = p
	return b, nil
}

// TryAcquire attempts a non-blocking acquisition, returning ok=false if no
// block is currently free.
func (p *Pool) TryAcquire() (b *Block, ok bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	p.mu.Lock()
	n := len(p.free)
	b = p.free[n-1]
	p.free = p.free[:n-1]
	p.mu.Unlock()
	b.pool = p
	return b, true
}
