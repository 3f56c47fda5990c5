package workload

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/internal/fakegpu"
)

func newCore(t *testing.T, w compressor.Workload, extent compressor.Extent) (*compressor.Core, *fakegpu.Driver, *fakegpu.Presenter) {
	t.Helper()
	drv := fakegpu.New()
	pres := fakegpu.NewPresenter(drv)
	cfg := compressor.DefaultConfig()
	cfg.Overlay.StatsEvery = 0
	core, err := compressor.NewCore(compressor.Backend{
		Driver: drv,
		Presenter: func(*compressor.DeviceContext) (compressor.Presenter, error) {
			return pres, nil
		},
		Extent: extent,
	}, w, cfg)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	return core, drv, pres
}

func recorder(t *testing.T) *fakegpu.CommandBuffer {
	t.Helper()
	cb := &fakegpu.CommandBuffer{Name: "test"}
	if err := cb.Begin(); err != nil {
		t.Fatal(err)
	}
	return cb
}

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-4 }

func TestNew(t *testing.T) {
	if _, err := New("sharpen", nil); err == nil || !strings.Contains(err.Error(), "passthrough") {
		t.Errorf("unknown workload error = %v", err)
	}
	w, err := New("clear", map[string]any{"color": []any{1, 0, 0.5}, "cycle": true})
	if err != nil {
		t.Fatal(err)
	}
	c := w.(*Clear)
	if c.Color != [4]float32{1, 0, 0.5, 1} || !c.Cycle {
		t.Errorf("clear = %+v", c)
	}

	bad := []struct {
		name   string
		params map[string]any
	}{
		{"clear", map[string]any{"color": []any{1, 0}}},
		{"clear", map[string]any{"color": []any{2, 0, 0}}},
		{"clear", map[string]any{"cycle": "yes"}},
		{"passthrough", map[string]any{"width": 0}},
		{"passthrough", map[string]any{"height": -4}},
		{"passthrough", map[string]any{"width": 10.5}},
		{"passthrough", map[string]any{"fov": 180}},
		{"passthrough", map[string]any{"fill": "red"}},
	}
	for _, tt := range bad {
		if _, err := New(tt.name, tt.params); err == nil {
			t.Errorf("New(%q, %v) succeeded", tt.name, tt.params)
		}
	}
	if got := Names(); len(got) != 2 || got[0] != "clear" {
		t.Errorf("Names = %v", got)
	}
}

func TestClearCyclesHue(t *testing.T) {
	c := &Clear{Color: [4]float32{1, 0, 0, 1}, Cycle: true}
	target := &compressor.SwapchainImage{Index: 1, Extent: compressor.Extent{Width: 4, Height: 4}}
	cb := recorder(t)
	c.Record(cb, compressor.FrameResources{Frame: 360 + 120, Target: target})
	c.Record(cb, compressor.FrameResources{Frame: 0, Target: target})

	if len(cb.Ops) != 2 || cb.Ops[0].Kind != "clear" || cb.Ops[0].Image != 1 {
		t.Fatalf("ops = %+v", cb.Ops)
	}
	green := cb.Ops[0].Color
	if !near(green[0], 0) || !near(green[1], 1) || !near(green[2], 0) || green[3] != 1 {
		t.Errorf("red rotated 120 degrees = %v", green)
	}
	if cb.Ops[1].Color != c.Color {
		t.Errorf("frame 0 color = %v", cb.Ops[1].Color)
	}
}

func TestVulkanProjection(t *testing.T) {
	proj := VulkanProjection(90, 1, 0.1, 100)
	ndc := func(v mgl32.Vec4) mgl32.Vec3 {
		c := proj.Mul4x1(v)
		return c.Vec3().Mul(1 / c.W())
	}
	if z := ndc(mgl32.Vec4{0, 0, -0.1, 1}).Z(); !near(z, 0) {
		t.Errorf("near plane depth = %v, want 0", z)
	}
	if z := ndc(mgl32.Vec4{0, 0, -100, 1}).Z(); !near(z, 1) {
		t.Errorf("far plane depth = %v, want 1", z)
	}
	if y := ndc(mgl32.Vec4{0, 0.5, -1, 1}).Y(); y >= 0 {
		t.Errorf("up maps to y = %v, want negative", y)
	}
}

func TestPassthroughRecord(t *testing.T) {
	w, err := New("passthrough", map[string]any{"width": 64, "height": 32, "marker": 7})
	if err != nil {
		t.Fatal(err)
	}
	p := w.(*Passthrough)
	core, drv, _ := newCore(t, w, compressor.Extent{Width: 64, Height: 32})

	res, err := core.Pool.ResourcesFor(30)
	if err != nil {
		t.Fatal(err)
	}
	res.Target = &compressor.SwapchainImage{
		Index:  2,
		Extent: compressor.Extent{Width: 64, Height: 32},
		Format: compressor.FormatBGRA8Unorm,
	}
	cb := recorder(t)
	p.Record(cb, res)

	frame, _ := res.Lookup("frame")
	want := []fakegpu.Op{
		{Kind: "copy", Src: "passthrough/source", Dst: frame.Name, Size: 64 * 32 * 4},
		// the band is clipped at the bottom row
		{Kind: "fill", Dst: frame.Name, Size: 2 * 64 * 4, Value: 7},
		{Kind: "copy-image", Src: frame.Name, Image: 2},
	}
	if len(cb.Ops) != len(want) {
		t.Fatalf("ops = %+v", cb.Ops)
	}
	for i := range want {
		if cb.Ops[i] != want[i] {
			t.Errorf("op %d = %+v, want %+v", i, cb.Ops[i], want[i])
		}
	}

	uni, _ := res.Lookup("uniforms")
	b := uni.Bytes()
	at := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])) }
	mvp := p.MVP(30, res.Target.Extent)
	for i := 0; i < 16; i++ {
		if at(i) != mvp[i] {
			t.Fatalf("uniform %d = %v, want %v", i, at(i), mvp[i])
		}
	}
	if at(16) != 30 || at(17) != 64 || at(18) != 32 {
		t.Errorf("frame params = %v %v %v", at(16), at(17), at(18))
	}

	// a target larger than the working copy is cleared instead
	res.Target.Extent = compressor.Extent{Width: 128, Height: 32}
	cb = recorder(t)
	p.Record(cb, res)
	if last := cb.Ops[len(cb.Ops)-1]; last.Kind != "clear" {
		t.Errorf("last op for oversized target = %+v", last)
	}

	core.Pool.Retire(30)
	if err := core.Close(); err != nil {
		t.Fatal(err)
	}
	if drv.Live() != 0 {
		t.Errorf("%d allocations leaked", drv.Live())
	}
}

func TestPassthroughRuns(t *testing.T) {
	w, err := New("passthrough", map[string]any{"width": 64, "height": 32})
	if err != nil {
		t.Fatal(err)
	}
	core, drv, pres := newCore(t, w, compressor.Extent{Width: 64, Height: 32})
	if err := core.Run(context.Background(), 6); err != nil {
		t.Fatal(err)
	}
	if pres.Presents != 6 {
		t.Errorf("presents = %d, want 6", pres.Presents)
	}
	// one initialization submit, then one per frame
	if n := drv.Count("submit"); n != 7 {
		t.Errorf("submits = %d, want 7", n)
	}
	if err := core.Close(); err != nil {
		t.Fatal(err)
	}
	if drv.Live() != 0 {
		t.Errorf("%d allocations leaked", drv.Live())
	}
}

func TestUnpackColor(t *testing.T) {
	c := unpackColor(0xff0000ff)
	if c != [4]float32{0, 0, 1, 1} {
		t.Errorf("unpackColor = %v", c)
	}
}

func TestExampleConfig(t *testing.T) {
	cfg, err := compressor.LoadConfig("../configs/compressor.yaml")
	if err != nil {
		t.Fatal(err)
	}
	w, err := New(cfg.Workload.Name, cfg.Workload.Params)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := w.(*Passthrough)
	if !ok {
		t.Fatalf("workload = %T", w)
	}
	if p.Width != 1280 || p.Fill != 0xff402010 {
		t.Errorf("passthrough = %+v", p)
	}
}
