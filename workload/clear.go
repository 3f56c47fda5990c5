package workload

import (
	"math"

	"github.com/andewx/compressor"
)

// Clear fills the swapchain image with a solid color. It owns no
// resources, which makes it the smallest workload that still exercises
// acquire, submit and present.
type Clear struct {
	Color [4]float32
	// Cycle rotates the hue of Color by one degree per frame.
	Cycle bool
}

func newClear(params map[string]any) (compressor.Workload, error) {
	color, err := colorParam(params, "color", [4]float32{0.05, 0.05, 0.08, 1})
	if err != nil {
		return nil, err
	}
	cycle, err := boolParam(params, "cycle", false)
	if err != nil {
		return nil, err
	}
	return &Clear{Color: color, Cycle: cycle}, nil
}

func (c *Clear) Name() string { return "clear" }

func (c *Clear) Descriptor() compressor.WorkloadDescriptor {
	return compressor.WorkloadDescriptor{Name: "clear"}
}

func (c *Clear) Record(rec compressor.CommandRecorder, res compressor.FrameResources) {
	color := c.Color
	if c.Cycle {
		color = rotateHue(color, float64(res.Frame%360))
	}
	rec.ClearColor(res.Target, color)
}

// rotateHue rotates rgb around the grey axis by deg degrees.
func rotateHue(c [4]float32, deg float64) [4]float32 {
	sin, cos := math.Sincos(deg * math.Pi / 180)
	k := (1 - cos) / 3
	s := math.Sqrt(1.0/3) * sin
	r, g, b := float64(c[0]), float64(c[1]), float64(c[2])
	clamp := func(v float64) float32 {
		return float32(math.Min(1, math.Max(0, v)))
	}
	return [4]float32{
		clamp(r*(cos+k) + g*(k-s) + b*(k+s)),
		clamp(r*(k+s) + g*(cos+k) + b*(k-s)),
		clamp(r*(k-s) + g*(k+s) + b*(cos+k)),
		c[3],
	}
}
