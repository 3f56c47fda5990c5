package compressor

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// Lifetime says whether a resource is shared by all frames or duplicated
// per frame slot.
type Lifetime int

const (
	// Shared resources have one copy and are read-only while frames run.
	Shared Lifetime = iota
	// PerFrame resources are rewritten each frame and get one copy per slot.
	PerFrame
)

func (l Lifetime) String() string {
	if l == PerFrame {
		return "per-frame"
	}
	return "shared"
}

// ResourceSpec declares one logical resource of a workload.
type ResourceSpec struct {
	Name     string
	Kind     ResourceKind
	Size     uint64
	Extent   Extent
	Format   Format
	Usage    Usage
	Hint     MemoryHint
	Lifetime Lifetime
}

func (s ResourceSpec) desc(name string) AllocationDesc {
	return AllocationDesc{
		Name:   name,
		Kind:   s.Kind,
		Size:   s.Size,
		Extent: s.Extent,
		Format: s.Format,
		Usage:  s.Usage,
		Hint:   s.Hint,
	}
}

// WorkloadDescriptor is what a workload needs from the pool. It is passed
// once at setup.
type WorkloadDescriptor struct {
	Name      string
	Resources []ResourceSpec
}

// Validate checks names and sizes.
func (d WorkloadDescriptor) Validate() error {
	seen := make(map[string]bool, len(d.Resources))
	for i, r := range d.Resources {
		if r.Name == "" {
			return errors.Errorf("workload %q: resource %d has no name", d.Name, i)
		}
		if seen[r.Name] {
			return errors.Errorf("workload %q: duplicate resource %q", d.Name, r.Name)
		}
		seen[r.Name] = true
		if r.desc(r.Name).ByteSize() == 0 {
			return errors.Errorf("workload %q: resource %q has zero size", d.Name, r.Name)
		}
	}
	return nil
}

// ResourceID is a stable logical handle returned by Register.
type ResourceID int

// ResourceSet maps resource names of one descriptor to their handles.
type ResourceSet map[string]ResourceID

// GpuResource is one allocated copy of a logical resource. It is owned by
// the ResourcePool; workloads only borrow it for the duration of a frame.
type GpuResource struct {
	ID         ResourceID
	Name       string
	Spec       ResourceSpec
	Slot       int // -1 for shared resources
	Allocation Allocation

	lastUsed int64
}

// Bytes returns the mapped memory of host visible resources.
func (r *GpuResource) Bytes() []byte { return r.Allocation.Mapped() }

// Size is the byte size of the resource.
func (r *GpuResource) Size() uint64 { return r.Allocation.Size() }

// LastUsed is the last frame index that referenced r, or -1.
func (r *GpuResource) LastUsed() int64 { return r.lastUsed }

// FrameResources is the working set of one frame. Workloads must not keep
// it past Record.
type FrameResources struct {
	Frame  uint64
	Slot   int
	Target *SwapchainImage

	byID   []*GpuResource
	byName map[string]ResourceID
}

// Get returns the copy of id valid for this frame.
func (f FrameResources) Get(id ResourceID) *GpuResource {
	if int(id) < 0 || int(id) >= len(f.byID) {
		return nil
	}
	return f.byID[id]
}

// Lookup finds a resource by name.
func (f FrameResources) Lookup(name string) (*GpuResource, bool) {
	id, ok := f.byName[name]
	if !ok {
		return nil, false
	}
	r := f.Get(id)
	return r, r != nil
}

type poolEntry struct {
	spec     ResourceSpec
	copies   []*GpuResource
	released bool
}

type pendingFree struct {
	res      *GpuResource
	lastUsed int64
}

// PoolStats is a snapshot of pool accounting.
type PoolStats struct {
	Resources      int
	Allocations    int
	AllocatedBytes uint64
	PendingFrees   int
}

// ResourcePool owns every GpuResource and defers their destruction until no
// in-flight frame can reference them.
type ResourcePool struct {
	dc     *DeviceContext
	frames int
	log    *slog.Logger

	entries []*poolEntry
	byName  map[string]ResourceID
	frozen  bool

	// slotFrame holds the unretired frame occupying each slot, or -1.
	slotFrame []int64
	// completed is the highest frame known to have finished on the GPU.
	completed int64
	pending   []pendingFree

	allocations int
	bytes       uint64
}

// NewResourcePool creates a pool for frames in-flight slots.
func NewResourcePool(dc *DeviceContext, frames int) *ResourcePool {
	if frames < 1 {
		frames = 1
	}
	p := &ResourcePool{
		dc:        dc,
		frames:    frames,
		log:       Logger().With("component", "pool"),
		byName:    make(map[string]ResourceID),
		slotFrame: make([]int64, frames),
		completed: -1,
	}
	for i := range p.slotFrame {
		p.slotFrame[i] = -1
	}
	return p
}

// Frames is the number of in-flight slots.
func (p *ResourcePool) Frames() int { return p.frames }

// Register allocates everything desc needs: one copy of each shared
// resource and one copy per slot of each per-frame resource. On failure
// nothing from desc stays allocated.
func (p *ResourcePool) Register(desc WorkloadDescriptor) (ResourceSet, error) {
	if p.frozen {
		return nil, ErrPoolFrozen
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	for _, spec := range desc.Resources {
		if _, dup := p.byName[spec.Name]; dup {
			return nil, errors.Errorf("resource %q already registered", spec.Name)
		}
	}

	set := make(ResourceSet, len(desc.Resources))
	var added []*poolEntry
	rollback := func() {
		for _, e := range added {
			for _, c := range e.copies {
				p.freeNow(c)
			}
		}
	}
	for _, spec := range desc.Resources {
		id := ResourceID(len(p.entries) + len(added))
		entry := &poolEntry{spec: spec}
		n := 1
		if spec.Lifetime == PerFrame {
			n = p.frames
		}
		for slot := 0; slot < n; slot++ {
			name := desc.Name + "/" + spec.Name
			s := -1
			if spec.Lifetime == PerFrame {
				name = fmt.Sprintf("%s[%d]", name, slot)
				s = slot
			}
			a, err := p.dc.Allocate(spec.desc(name))
			if err != nil {
				added = append(added, entry)
				rollback()
				return nil, err
			}
			entry.copies = append(entry.copies, &GpuResource{
				ID: id, Name: name, Spec: spec, Slot: s, Allocation: a, lastUsed: -1,
			})
			p.allocations++
			p.bytes += a.Size()
		}
		added = append(added, entry)
		set[spec.Name] = id
	}
	for name, id := range set {
		p.byName[name] = id
	}
	p.entries = append(p.entries, added...)
	p.log.Info("registered workload resources", "workload", desc.Name,
		"resources", len(desc.Resources), "bytes", p.bytes)
	return set, nil
}

// ResourcesFor returns the working set of frame. It freezes the pool and
// claims the frame's slot until Retire(frame).
func (p *ResourcePool) ResourcesFor(frame uint64) (FrameResources, error) {
	slot := int(frame % uint64(p.frames))
	if owner := p.slotFrame[slot]; owner >= 0 && owner != int64(frame) {
		return FrameResources{}, errors.Wrapf(ErrResourceInFlight,
			"slot %d still owned by frame %d", slot, owner)
	}
	p.frozen = true
	p.slotFrame[slot] = int64(frame)

	fr := FrameResources{
		Frame:  frame,
		Slot:   slot,
		byID:   make([]*GpuResource, len(p.entries)),
		byName: p.byName,
	}
	for id, e := range p.entries {
		if e.released {
			continue
		}
		r := e.copies[0]
		if e.spec.Lifetime == PerFrame {
			r = e.copies[slot]
		}
		r.lastUsed = int64(frame)
		fr.byID[id] = r
	}
	return fr, nil
}

// Retire marks frame complete on the GPU. Its slot's per-frame copies become
// writable by a later frame and deferred frees whose last use is at or
// before frame are executed. Frames complete in submission order, so a
// retired frame implies all earlier frames finished too.
func (p *ResourcePool) Retire(frame uint64) {
	slot := int(frame % uint64(p.frames))
	if p.slotFrame[slot] == int64(frame) {
		p.slotFrame[slot] = -1
	}
	if int64(frame) > p.completed {
		p.completed = int64(frame)
	}
	p.collect()
}

// Release queues the logical resource id for destruction once every frame
// that used it is retired.
func (p *ResourcePool) Release(id ResourceID) error {
	if int(id) < 0 || int(id) >= len(p.entries) || p.entries[id].released {
		return errors.Wrapf(ErrUnknownResource, "id %d", id)
	}
	e := p.entries[id]
	e.released = true
	delete(p.byName, e.spec.Name)
	for _, c := range e.copies {
		p.pending = append(p.pending, pendingFree{res: c, lastUsed: c.lastUsed})
	}
	p.collect()
	return nil
}

// collect frees pending resources in reverse release order.
func (p *ResourcePool) collect() {
	kept := p.pending[:0]
	var ready []*GpuResource
	for _, pf := range p.pending {
		if pf.lastUsed <= p.completed {
			ready = append(ready, pf.res)
			continue
		}
		kept = append(kept, pf)
	}
	p.pending = kept
	for i := len(ready) - 1; i >= 0; i-- {
		p.freeNow(ready[i])
	}
}

func (p *ResourcePool) freeNow(r *GpuResource) {
	p.dc.free(r.Allocation)
	p.allocations--
	p.bytes -= r.Allocation.Size()
	p.log.Debug("freed", "name", r.Name)
}

// Stats returns current accounting.
func (p *ResourcePool) Stats() PoolStats {
	n := 0
	for _, e := range p.entries {
		if !e.released {
			n++
		}
	}
	return PoolStats{
		Resources:      n,
		Allocations:    p.allocations,
		AllocatedBytes: p.bytes,
		PendingFrees:   len(p.pending),
	}
}

// InFlight reports whether any slot is still owned by an unretired frame.
func (p *ResourcePool) InFlight() bool {
	for _, f := range p.slotFrame {
		if f >= 0 {
			return true
		}
	}
	return false
}

// Destroy frees every resource. It refuses while frames are in flight.
func (p *ResourcePool) Destroy() error {
	if p.InFlight() {
		return ErrResourceInFlight
	}
	p.completed = maxInt64
	p.collect()
	for i := len(p.entries) - 1; i >= 0; i-- {
		e := p.entries[i]
		if e.released {
			continue
		}
		e.released = true
		for j := len(e.copies) - 1; j >= 0; j-- {
			p.freeNow(e.copies[j])
		}
	}
	p.byName = map[string]ResourceID{}
	return nil
}

const maxInt64 = int64(^uint64(0) >> 1)
