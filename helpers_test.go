package compressor_test

import (
	"testing"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/internal/fakegpu"
)

const (
	sharedSize    = 1 << 20
	transientSize = 4 << 10
)

// testWorkload has one shared 1MB buffer and one 4KB per-frame buffer.
type testWorkload struct {
	drv    *fakegpu.Driver
	frames []uint64
	// lastWriter maps a transient copy to the submission that last wrote it.
	lastWriter map[string]int
	hazards    []string
	onRecord   func(compressor.FrameResources)
}

func newTestWorkload(drv *fakegpu.Driver) *testWorkload {
	return &testWorkload{drv: drv, lastWriter: map[string]int{}}
}

func (w *testWorkload) Name() string { return "test" }

func (w *testWorkload) Descriptor() compressor.WorkloadDescriptor {
	return compressor.WorkloadDescriptor{
		Name: "test",
		Resources: []compressor.ResourceSpec{
			{Name: "geometry", Size: sharedSize, Usage: compressor.UsageTransferSrc, Lifetime: compressor.Shared},
			{Name: "scratch", Size: transientSize, Usage: compressor.UsageTransferDst, Hint: compressor.MemoryUpload, Lifetime: compressor.PerFrame},
		},
	}
}

func (w *testWorkload) Record(rec compressor.CommandRecorder, res compressor.FrameResources) {
	w.frames = append(w.frames, res.Frame)
	geometry, _ := res.Lookup("geometry")
	scratch, _ := res.Lookup("scratch")

	// the previous writer of this copy must have completed on the GPU
	if last, ok := w.lastWriter[scratch.Name]; ok && last > w.drv.Completed() {
		w.hazards = append(w.hazards, scratch.Name)
	}
	w.lastWriter[scratch.Name] = w.drv.Submits() + 1

	scratch.Bytes()[0] = byte(res.Frame)
	rec.CopyBuffer(geometry, scratch, transientSize)
	rec.ClearColor(res.Target, [4]float32{0, 0, 0, 1})
	if w.onRecord != nil {
		w.onRecord(res)
	}
}

type harness struct {
	drv  *fakegpu.Driver
	pres *fakegpu.Presenter
	core *compressor.Core
}

func newHarness(t *testing.T, frames int, w func(*fakegpu.Driver) compressor.Workload) *harness {
	t.Helper()
	h := &harness{drv: fakegpu.New()}
	h.pres = fakegpu.NewPresenter(h.drv)
	cfg := compressor.DefaultConfig()
	cfg.Frames.InFlight = frames
	cfg.Overlay.StatsEvery = 0
	b := compressor.Backend{
		Driver: h.drv,
		Presenter: func(*compressor.DeviceContext) (compressor.Presenter, error) {
			return h.pres, nil
		},
		Extent: compressor.Extent{Width: 640, Height: 480},
	}
	var err error
	h.core, err = compressor.NewCore(b, w(h.drv), cfg)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	return h
}

func testWorkloadFor(drv *fakegpu.Driver) compressor.Workload { return newTestWorkload(drv) }

// index returns the position of the n-th (1-based) event of kind, or -1.
func index(events []fakegpu.Event, kind string, n int) int {
	seen := 0
	for i, e := range events {
		if e.Kind == kind {
			seen++
			if seen == n {
				return i
			}
		}
	}
	return -1
}
