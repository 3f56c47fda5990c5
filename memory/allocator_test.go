package memory

import (
	"testing"

	"github.com/pkg/errors"
)

func TestAlignUp(t *testing.T) {
	if AlignUp(12, 3) != 12 {
		t.Fail()
	}
	if AlignUp(10, 3) != 12 {
		t.Fail()
	}
	if AlignUp(10, 0) != 10 || AlignUp(10, 1) != 10 {
		t.Fail()
	}
}

func TestAllocator(t *testing.T) {
	a := NewAllocator(1024)

	if _, ok := a.Allocate(2048, 1); ok {
		t.Error("allocation larger than the block succeeded")
	}
	first, ok := a.Allocate(512, 1)
	if !ok || first.Offset != 0 {
		t.Fatalf("first allocation = %v, %v", first, ok)
	}
	if _, ok := a.Allocate(768, 1); ok {
		t.Error("768 bytes fit in 512 free")
	}
	second, ok := a.Allocate(500, 1)
	if !ok || second.Offset != 512 {
		t.Fatalf("second allocation = %v, %v", second, ok)
	}
	if _, ok := a.Allocate(50, 1); ok {
		t.Error("50 bytes fit in 12 free")
	}
	if _, ok := a.Allocate(5, 1); !ok {
		t.Error("5 bytes did not fit in 12 free")
	}
	if a.Used() != 1017 || a.Len() != 3 {
		t.Errorf("used = %d, len = %d", a.Used(), a.Len())
	}

	if !a.Free(first) {
		t.Fatal("free of live range failed")
	}
	if a.Free(first) {
		t.Error("double free succeeded")
	}
	// the hole at the head is reused first
	r, ok := a.Allocate(256, 1)
	if !ok || r.Offset != 0 {
		t.Errorf("head reuse = %v, %v", r, ok)
	}
	if a.Largest() != 256 {
		t.Errorf("largest gap = %d, want 256", a.Largest())
	}
}

func TestAllocatorAlignment(t *testing.T) {
	a := NewAllocator(1024)
	if _, ok := a.Allocate(3, 1); !ok {
		t.Fatal()
	}
	r, ok := a.Allocate(64, 256)
	if !ok || r.Offset != 256 {
		t.Fatalf("aligned allocation = %v, %v", r, ok)
	}
	// the gap [3, 256) is used by a later small request
	g, ok := a.Allocate(100, 4)
	if !ok || g.Offset != 4 {
		t.Fatalf("gap allocation = %v, %v", g, ok)
	}
	if _, ok := a.Allocate(700, 256); ok {
		t.Error("700 bytes at 512 fit in a 1024 block")
	}
	if r, ok := a.Allocate(512, 256); !ok || r.Offset != 512 {
		t.Errorf("tail allocation = %v, %v", r, ok)
	}
}

func TestAllocatorReusesCoalescedGap(t *testing.T) {
	a := NewAllocator(300)
	r1, _ := a.Allocate(100, 1)
	r2, _ := a.Allocate(100, 1)
	r3, _ := a.Allocate(100, 1)
	if _, ok := a.Allocate(1, 1); ok {
		t.Fatal("full allocator accepted a request")
	}
	a.Free(r1)
	a.Free(r2)
	r, ok := a.Allocate(200, 1)
	if !ok || r.Offset != 0 {
		t.Errorf("coalesced gap = %v, %v", r, ok)
	}
	a.Free(r3)
	a.Free(r)
	if !a.Empty() || a.Used() != 0 {
		t.Errorf("allocator not empty: %v", a)
	}
}

type fakeMemory struct {
	id   int
	size uint64
}

func TestPoolGrowsAndReleasesBlocks(t *testing.T) {
	var created, released []fakeMemory
	p := NewPool(1024,
		func(size uint64) (fakeMemory, error) {
			m := fakeMemory{id: len(created), size: size}
			created = append(created, m)
			return m, nil
		},
		func(m fakeMemory) { released = append(released, m) },
	)

	a, err := p.Allocate(600, 16)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Allocate(600, 16)
	if err != nil {
		t.Fatal(err)
	}
	if a.Block == b.Block || len(created) != 2 {
		t.Fatalf("second request did not open a new block: %d blocks", len(created))
	}
	big, err := p.Allocate(4000, 256)
	if err != nil {
		t.Fatal(err)
	}
	if big.Block.Size() != 4096 {
		t.Errorf("dedicated block size = %d, want 4096", big.Block.Size())
	}
	st := p.Stats()
	if st.Blocks != 3 || st.Used != 5200 || st.Reserved != 1024+1024+4096 || st.Allocations != 3 {
		t.Errorf("stats = %+v", st)
	}

	p.Free(b)
	if len(released) != 1 || released[0].id != 1 {
		t.Errorf("released = %v, want block 1", released)
	}
	p.Free(big)
	p.Free(a)
	if p.Stats().Blocks != 1 {
		t.Errorf("last block released, %d left", p.Stats().Blocks)
	}
	if p.Free(a) {
		t.Error("double free succeeded")
	}
	p.Destroy()
	if len(released) != 3 {
		t.Errorf("released %d blocks after Destroy, want 3", len(released))
	}
}

var errExhausted = errors.New("exhausted")

func TestPoolPropagatesBackendError(t *testing.T) {
	p := NewPool(64,
		func(uint64) (fakeMemory, error) { return fakeMemory{}, errExhausted },
		func(fakeMemory) {},
	)
	if _, err := p.Allocate(1, 1); !errors.Is(err, errExhausted) {
		t.Errorf("err = %v, want wrapped errExhausted", err)
	}
	if _, err := p.Allocate(0, 1); err == nil {
		t.Error("zero-size request succeeded")
	}
}
