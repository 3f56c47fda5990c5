package compressor_test

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/internal/fakegpu"
)

func newPool(t *testing.T, drv *fakegpu.Driver, frames int) (*compressor.DeviceContext, *compressor.ResourcePool) {
	t.Helper()
	dc, err := compressor.NewDeviceContext(drv, compressor.Requirements{AppName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	return dc, compressor.NewResourcePool(dc, frames)
}

func TestRegisterAllocatesSharedOnceAndTransientPerSlot(t *testing.T) {
	tests := []struct {
		frames int
		want   uint64
	}{
		{1, sharedSize + transientSize},
		{2, sharedSize + 2*transientSize},
		{3, sharedSize + 3*transientSize},
	}
	for _, tt := range tests {
		drv := fakegpu.New()
		dc, pool := newPool(t, drv, tt.frames)
		set, err := pool.Register(newTestWorkload(drv).Descriptor())
		if err != nil {
			t.Fatal(err)
		}
		if len(set) != 2 {
			t.Errorf("N=%d: %d handles, want 2", tt.frames, len(set))
		}
		st := pool.Stats()
		if st.AllocatedBytes != tt.want {
			t.Errorf("N=%d: allocated %d bytes, want %d", tt.frames, st.AllocatedBytes, tt.want)
		}
		if st.Allocations != 1+tt.frames {
			t.Errorf("N=%d: %d allocations, want %d", tt.frames, st.Allocations, 1+tt.frames)
		}
		if dc.AllocatedBytes() != tt.want {
			t.Errorf("N=%d: device reports %d bytes", tt.frames, dc.AllocatedBytes())
		}
	}
}

func TestRegisterScenarioOneMegabytePlusEightKilobytes(t *testing.T) {
	drv := fakegpu.New()
	_, pool := newPool(t, drv, 2)
	if _, err := pool.Register(newTestWorkload(drv).Descriptor()); err != nil {
		t.Fatal(err)
	}
	if got := pool.Stats().AllocatedBytes; got != 1<<20+8<<10 {
		t.Errorf("allocated %d bytes, want %d", got, 1<<20+8<<10)
	}
}

func TestRegisterOutOfDeviceMemoryRollsBack(t *testing.T) {
	drv := fakegpu.New()
	drv.Budget = sharedSize - 1
	dc, pool := newPool(t, drv, 2)
	_, err := pool.Register(newTestWorkload(drv).Descriptor())
	var oom *compressor.OutOfMemoryError
	if !errors.As(err, &oom) {
		t.Fatalf("err = %v, want *OutOfMemoryError", err)
	}
	if oom.Host {
		t.Error("device exhaustion reported as host")
	}
	if !errors.Is(err, compressor.ErrOutOfDeviceMemory) {
		t.Error("err does not match ErrOutOfDeviceMemory")
	}
	if drv.Live() != 0 || dc.AllocatedBytes() != 0 || pool.Stats().Allocations != 0 {
		t.Errorf("partial registration left %d allocations", drv.Live())
	}
}

func TestRegisterOutOfHostMemory(t *testing.T) {
	drv := fakegpu.New()
	drv.HostBudget = transientSize
	_, pool := newPool(t, drv, 2)
	_, err := pool.Register(newTestWorkload(drv).Descriptor())
	var oom *compressor.OutOfMemoryError
	if !errors.As(err, &oom) || !oom.Host {
		t.Fatalf("err = %v, want host *OutOfMemoryError", err)
	}
	if oom.Name != "test/scratch[1]" {
		t.Errorf("failed allocation %q", oom.Name)
	}
	if drv.Live() != 0 {
		t.Errorf("%d allocations left after failure", drv.Live())
	}
}

func TestResourcesForSelectsSlotCopies(t *testing.T) {
	drv := fakegpu.New()
	_, pool := newPool(t, drv, 2)
	set, err := pool.Register(newTestWorkload(drv).Descriptor())
	if err != nil {
		t.Fatal(err)
	}
	f0, err := pool.ResourcesFor(0)
	if err != nil {
		t.Fatal(err)
	}
	f1, err := pool.ResourcesFor(1)
	if err != nil {
		t.Fatal(err)
	}
	if f0.Get(set["geometry"]) != f1.Get(set["geometry"]) {
		t.Error("shared resource differs between frames")
	}
	s0, s1 := f0.Get(set["scratch"]), f1.Get(set["scratch"])
	if s0 == s1 {
		t.Error("transient resource shared between slots")
	}
	if s0.Slot != 0 || s1.Slot != 1 {
		t.Errorf("slots = %d, %d", s0.Slot, s1.Slot)
	}
	if s1.LastUsed() != 1 || f1.Get(set["geometry"]).LastUsed() != 1 {
		t.Error("last used frame not tracked")
	}

	pool.Retire(0)
	f2, err := pool.ResourcesFor(2)
	if err != nil {
		t.Fatal(err)
	}
	if f2.Get(set["scratch"]) != s0 {
		t.Error("frame 2 did not reuse slot 0 copy")
	}
}

func TestResourcesForRefusesUnretiredSlot(t *testing.T) {
	drv := fakegpu.New()
	_, pool := newPool(t, drv, 2)
	if _, err := pool.Register(newTestWorkload(drv).Descriptor()); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.ResourcesFor(0); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.ResourcesFor(2); !errors.Is(err, compressor.ErrResourceInFlight) {
		t.Fatalf("err = %v, want ErrResourceInFlight", err)
	}
	if _, err := pool.ResourcesFor(0); err != nil {
		t.Errorf("same frame twice: %v", err)
	}
	if err := pool.Destroy(); !errors.Is(err, compressor.ErrResourceInFlight) {
		t.Errorf("Destroy with frame in flight = %v", err)
	}
	pool.Retire(0)
	if err := pool.Destroy(); err != nil {
		t.Fatal(err)
	}
	if drv.Live() != 0 {
		t.Errorf("%d allocations alive after Destroy", drv.Live())
	}
}

func TestRegisterFrozenOnceFramesBegin(t *testing.T) {
	drv := fakegpu.New()
	_, pool := newPool(t, drv, 2)
	if _, err := pool.Register(compressor.WorkloadDescriptor{Name: "a", Resources: []compressor.ResourceSpec{{Name: "x", Size: 16}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.ResourcesFor(0); err != nil {
		t.Fatal(err)
	}
	_, err := pool.Register(compressor.WorkloadDescriptor{Name: "b", Resources: []compressor.ResourceSpec{{Name: "y", Size: 16}}})
	if !errors.Is(err, compressor.ErrPoolFrozen) {
		t.Errorf("err = %v, want ErrPoolFrozen", err)
	}
}

func TestReleaseDefersFreeUntilRetired(t *testing.T) {
	drv := fakegpu.New()
	_, pool := newPool(t, drv, 2)
	set, err := pool.Register(newTestWorkload(drv).Descriptor())
	if err != nil {
		t.Fatal(err)
	}
	for f := uint64(0); f < 2; f++ {
		if _, err := pool.ResourcesFor(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := pool.Release(set["geometry"]); err != nil {
		t.Fatal(err)
	}
	if drv.Count("free") != 0 {
		t.Fatal("released resource freed while frames in flight")
	}
	if st := pool.Stats(); st.PendingFrees != 1 || st.Resources != 1 {
		t.Errorf("stats = %+v", st)
	}
	pool.Retire(0)
	if drv.Count("free") != 0 {
		t.Fatal("freed before its last frame retired")
	}
	pool.Retire(1)
	if drv.Count("free") != 1 {
		t.Fatalf("frees = %d after last use retired, want 1", drv.Count("free"))
	}
	f2, err := pool.ResourcesFor(2)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f2.Lookup("geometry"); ok {
		t.Error("released resource still visible")
	}
	if err := pool.Release(set["geometry"]); !errors.Is(err, compressor.ErrUnknownResource) {
		t.Errorf("double release = %v", err)
	}
}

func TestDescriptorValidate(t *testing.T) {
	bad := []compressor.WorkloadDescriptor{
		{Name: "noname", Resources: []compressor.ResourceSpec{{Size: 1}}},
		{Name: "dup", Resources: []compressor.ResourceSpec{{Name: "a", Size: 1}, {Name: "a", Size: 1}}},
		{Name: "zero", Resources: []compressor.ResourceSpec{{Name: "a"}}},
		{Name: "zeroimage", Resources: []compressor.ResourceSpec{{Name: "a", Kind: compressor.KindImage, Format: compressor.FormatRGBA8Unorm}}},
	}
	for _, d := range bad {
		if err := d.Validate(); err == nil {
			t.Errorf("%s: expected error", d.Name)
		}
	}
	ok := compressor.WorkloadDescriptor{Name: "ok", Resources: []compressor.ResourceSpec{
		{Name: "img", Kind: compressor.KindImage, Format: compressor.FormatBC7Unorm, Extent: compressor.Extent{Width: 5, Height: 4}},
	}}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid descriptor: %v", err)
	}
}

func TestFormatSizes(t *testing.T) {
	e := compressor.Extent{Width: 6, Height: 5}
	tests := []struct {
		f    compressor.Format
		want uint64
	}{
		{compressor.FormatRGBA8Unorm, 6 * 5 * 4},
		{compressor.FormatRGBA16Float, 6 * 5 * 8},
		{compressor.FormatBC1RGBAUnorm, 2 * 2 * 8},
		{compressor.FormatBC7Unorm, 2 * 2 * 16},
		{compressor.FormatUndefined, 0},
	}
	for _, tt := range tests {
		if got := tt.f.SizeOf(e); got != tt.want {
			t.Errorf("%v.SizeOf(%v) = %d, want %d", tt.f, e, got, tt.want)
		}
	}
}

func TestDeviceDestroyReportsLeaks(t *testing.T) {
	drv := fakegpu.New()
	dc, pool := newPool(t, drv, 2)
	if _, err := pool.Register(newTestWorkload(drv).Descriptor()); err != nil {
		t.Fatal(err)
	}
	if got := dc.Live(); len(got) != 3 || got[0] != "test/geometry" {
		t.Errorf("live = %v", got)
	}
	if n := dc.Destroy(); n != 3 {
		t.Errorf("leaks = %d, want 3", n)
	}
	if _, err := dc.Allocate(compressor.AllocationDesc{Name: "late", Size: 1}); !errors.Is(err, compressor.ErrClosed) {
		t.Errorf("allocate after destroy = %v", err)
	}
}
