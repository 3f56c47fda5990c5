// Package fakegpu is an in-memory Driver and Presenter for tests. Submitted
// work completes when the host waits on its fence, so tests observe exactly
// what the host proved complete.
package fakegpu

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/compressor"
)

// Event is one call observed by the fake.
type Event struct {
	Kind string
	Name string
}

func (e Event) String() string { return e.Kind + " " + e.Name }

// Driver implements compressor.Driver.
type Driver struct {
	Info compressor.DeviceInfo
	// OpenErr fails Open when set.
	OpenErr error
	// Budget limits device memory in bytes; zero is unlimited.
	Budget uint64
	// HostBudget limits host visible memory in bytes; zero is unlimited.
	HostBudget uint64
	// SubmitErrAt fails the n-th submission (1-based) with SubmitErr, or
	// with compressor.ErrDeviceLost when SubmitErr is nil. After a device
	// lost error every fence wait and acquire fails.
	SubmitErrAt int
	SubmitErr   error

	Events []Event

	used, hostUsed uint64
	live           map[*Allocation]bool
	submits        int
	completed      int
	lost           bool
	closed         bool
	nextID         int
}

// New returns a driver reporting a single aliased graphics/compute/transfer
// queue family.
func New() *Driver {
	return &Driver{
		Info: compressor.DeviceInfo{
			Name: "fake",
			Type: "virtual",
			Families: map[compressor.QueueKind]uint32{
				compressor.QueueGraphics: 0,
				compressor.QueueCompute:  0,
				compressor.QueueTransfer: 0,
			},
		},
		live: make(map[*Allocation]bool),
	}
}

func (d *Driver) record(kind, name string) {
	d.Events = append(d.Events, Event{Kind: kind, Name: name})
}

// Count returns how many events of kind were recorded.
func (d *Driver) Count(kind string) int {
	n := 0
	for _, e := range d.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Submits is the number of accepted submissions.
func (d *Driver) Submits() int { return d.submits }

// Completed is the sequence number of the last submission proven complete
// by a fence wait. Submissions complete in order.
func (d *Driver) Completed() int { return d.completed }

// Live is the number of allocations not yet freed.
func (d *Driver) Live() int { return len(d.live) }

// Lost reports whether a device loss was simulated.
func (d *Driver) Lost() bool { return d.lost }

// Closed reports whether Close was called.
func (d *Driver) Closed() bool { return d.closed }

func (d *Driver) Open(req compressor.Requirements) (compressor.DeviceInfo, error) {
	d.record("open", req.AppName)
	if d.OpenErr != nil {
		return compressor.DeviceInfo{}, d.OpenErr
	}
	return d.Info, nil
}

// Allocation is a fake resource. Host visible allocations carry real bytes.
type Allocation struct {
	ID   int
	Name string
	Desc compressor.AllocationDesc

	size   uint64
	mapped []byte
	freed  bool
}

func (a *Allocation) Size() uint64   { return a.size }
func (a *Allocation) Mapped() []byte { return a.mapped }

// Freed reports whether the driver released a.
func (a *Allocation) Freed() bool { return a.freed }

func (d *Driver) Allocate(desc compressor.AllocationDesc) (compressor.Allocation, error) {
	size := desc.ByteSize()
	if desc.Hint.HostVisible() {
		if d.HostBudget > 0 && d.hostUsed+size > d.HostBudget {
			return nil, errors.Wrapf(compressor.ErrOutOfHostMemory, "fake allocate %d bytes", size)
		}
	} else if d.Budget > 0 && d.used+size > d.Budget {
		return nil, errors.Wrapf(compressor.ErrOutOfDeviceMemory, "fake allocate %d bytes", size)
	}
	d.nextID++
	a := &Allocation{ID: d.nextID, Name: desc.Name, Desc: desc, size: size}
	if desc.Hint.HostVisible() {
		a.mapped = make([]byte, size)
		d.hostUsed += size
	} else {
		d.used += size
	}
	d.live[a] = true
	d.record("alloc", desc.Name)
	return a, nil
}

func (d *Driver) Free(ca compressor.Allocation) {
	a := ca.(*Allocation)
	if a.freed {
		panic(fmt.Sprintf("fakegpu: double free of %q", a.Name))
	}
	a.freed = true
	delete(d.live, a)
	if a.Desc.Hint.HostVisible() {
		d.hostUsed -= a.size
	} else {
		d.used -= a.size
	}
	d.record("free", a.Name)
}

// Fence signals when waited on after its submission, completing every
// earlier submission too.
type Fence struct {
	d        *Driver
	Name     string
	signaled bool
	seq      int // pending submission, 0 when none
	Waits    int
}

func (f *Fence) Signaled() bool { return f.signaled }

func (f *Fence) Wait(time.Duration) (bool, error) {
	f.d.record("wait", f.Name)
	f.Waits++
	if f.d.lost {
		return false, compressor.ErrDeviceLost
	}
	if f.seq > 0 {
		if f.seq > f.d.completed {
			f.d.completed = f.seq
		}
		f.seq = 0
		f.signaled = true
	}
	return f.signaled, nil
}

func (f *Fence) Reset() error {
	f.d.record("reset", f.Name)
	f.signaled = false
	return nil
}

func (f *Fence) Destroy() { f.d.record("destroy-fence", f.Name) }

func (d *Driver) NewFence(signaled bool, name string) (compressor.Fence, error) {
	return &Fence{d: d, Name: name, signaled: signaled}, nil
}

// Semaphore is a named no-op.
type Semaphore struct{ Name string }

func (s *Semaphore) Destroy() {}

func (d *Driver) NewSemaphore(name string) (compressor.Semaphore, error) {
	return &Semaphore{Name: name}, nil
}

func (d *Driver) NewCommandBuffer(q compressor.QueueKind, name string) (compressor.CommandBuffer, error) {
	return &CommandBuffer{Name: name, Queue: q}, nil
}

// Submission is one accepted Submit call.
type Submission struct {
	Seq    int
	Cmd    *CommandBuffer
	Ops    []Op
	Wait   compressor.Semaphore
	Signal compressor.Semaphore
}

func (d *Driver) Submit(q compressor.QueueKind, cmd compressor.CommandBuffer, wait, signal compressor.Semaphore, fence compressor.Fence) error {
	if d.lost {
		return compressor.ErrDeviceLost
	}
	if d.SubmitErrAt > 0 && d.submits+1 == d.SubmitErrAt {
		d.SubmitErrAt = 0
		err := d.SubmitErr
		if err == nil {
			err = compressor.ErrDeviceLost
		}
		if errors.Is(err, compressor.ErrDeviceLost) {
			d.lost = true
		}
		d.record("submit-failed", cmd.(*CommandBuffer).Name)
		return err
	}
	d.submits++
	c := cmd.(*CommandBuffer)
	c.Submitted = append(c.Submitted, Submission{
		Seq: d.submits, Cmd: c, Ops: append([]Op(nil), c.Ops...), Wait: wait, Signal: signal,
	})
	if f, ok := fence.(*Fence); ok && f != nil {
		f.seq = d.submits
	}
	d.record("submit", c.Name)
	return nil
}

func (d *Driver) WaitIdle() error {
	d.record("wait-idle", "")
	if d.lost {
		return compressor.ErrDeviceLost
	}
	d.completed = d.submits
	return nil
}

func (d *Driver) Close() {
	d.closed = true
	d.record("close", "")
}
