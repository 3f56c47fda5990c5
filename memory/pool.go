package memory

import (
	"github.com/pkg/errors"
)

// Block is one backend memory allocation carved up by an Allocator.
type Block[M any] struct {
	Memory M
	alloc  *Allocator
}

func (b *Block[M]) Size() uint64 { return b.alloc.Size() }
func (b *Block[M]) Used() uint64 { return b.alloc.Used() }

// Suballocation is a range inside a block.
type Suballocation[M any] struct {
	Block *Block[M]
	Range
}

// Stats summarizes a pool.
type Stats struct {
	Blocks      int
	Reserved    uint64
	Used        uint64
	Allocations int
}

// Pool grows a list of blocks of at least BlockSize bytes. Requests larger
// than BlockSize get a dedicated block.
type Pool[M any] struct {
	BlockSize uint64

	newBlock  func(size uint64) (M, error)
	freeBlock func(M)
	blocks    []*Block[M]
}

// NewPool creates a pool. alloc creates backend memory; release frees it.
func NewPool[M any](blockSize uint64, alloc func(size uint64) (M, error), release func(M)) *Pool[M] {
	return &Pool[M]{BlockSize: blockSize, newBlock: alloc, freeBlock: release}
}

// Allocate finds room in an existing block or creates a new one. Errors
// from the backend are returned wrapped so callers can match them.
func (p *Pool[M]) Allocate(size, align uint64) (Suballocation[M], error) {
	if size == 0 {
		return Suballocation[M]{}, errors.New("zero-size suballocation")
	}
	for _, b := range p.blocks {
		if r, ok := b.alloc.Allocate(size, align); ok {
			return Suballocation[M]{Block: b, Range: r}, nil
		}
	}
	blockSize := p.BlockSize
	if need := AlignUp(size, align); need > blockSize {
		blockSize = need
	}
	mem, err := p.newBlock(blockSize)
	if err != nil {
		return Suballocation[M]{}, errors.Wrapf(err, "allocate %d byte block", blockSize)
	}
	b := &Block[M]{Memory: mem, alloc: NewAllocator(blockSize)}
	p.blocks = append(p.blocks, b)
	r, ok := b.alloc.Allocate(size, align)
	if !ok {
		return Suballocation[M]{}, errors.Errorf("fresh %d byte block cannot fit %d bytes", blockSize, size)
	}
	return Suballocation[M]{Block: b, Range: r}, nil
}

// Free returns s to its block. Empty blocks are released, except the last
// remaining one.
func (p *Pool[M]) Free(s Suballocation[M]) bool {
	if s.Block == nil || !s.Block.alloc.Free(s.Range) {
		return false
	}
	if s.Block.alloc.Empty() && len(p.blocks) > 1 {
		for i, b := range p.blocks {
			if b == s.Block {
				p.blocks = append(p.blocks[:i], p.blocks[i+1:]...)
				break
			}
		}
		p.freeBlock(s.Block.Memory)
	}
	return true
}

func (p *Pool[M]) Stats() Stats {
	var st Stats
	for _, b := range p.blocks {
		st.Blocks++
		st.Reserved += b.alloc.Size()
		st.Used += b.alloc.Used()
		st.Allocations += b.alloc.Len()
	}
	return st
}

// Destroy releases every block regardless of live suballocations.
func (p *Pool[M]) Destroy() {
	for _, b := range p.blocks {
		p.freeBlock(b.Memory)
	}
	p.blocks = nil
}
