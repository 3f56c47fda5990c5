package workload

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/andewx/compressor"
)

// uniformSize is one column-major mat4 followed by a vec4 of
// frame, width, height and time in seconds.
const uniformSize = 16*4 + 4*4

// markerRows is the height of the band rewritten into each frame's copy.
const markerRows = 8

// Passthrough streams a shared source image through a per-frame working
// copy onto the swapchain. Each frame it also writes a fresh
// view-projection matrix into its per-frame uniform buffer, which is only
// safe because the slot's previous frame has retired.
type Passthrough struct {
	Width, Height uint32
	// Fill is the 32-bit texel the source is initialized with.
	Fill uint32
	// Marker is written over a band of rows that moves down each frame.
	Marker uint32
	// FOV is the vertical field of view in degrees.
	FOV float32
	// Spin is the model rotation in degrees per frame.
	Spin float32
}

func newPassthrough(params map[string]any) (compressor.Workload, error) {
	p := &Passthrough{}
	var err error
	if p.Width, err = uintParam(params, "width", 1280); err != nil {
		return nil, err
	}
	if p.Height, err = uintParam(params, "height", 720); err != nil {
		return nil, err
	}
	if p.Width == 0 || p.Height == 0 {
		return nil, errors.Errorf("source extent %dx%d is empty", p.Width, p.Height)
	}
	if p.Fill, err = uintParam(params, "fill", 0xff402010); err != nil {
		return nil, err
	}
	if p.Marker, err = uintParam(params, "marker", 0xffffffff); err != nil {
		return nil, err
	}
	if p.FOV, err = floatParam(params, "fov", 45); err != nil {
		return nil, err
	}
	if p.FOV <= 0 || p.FOV >= 180 {
		return nil, errors.Errorf("fov %v out of (0, 180)", p.FOV)
	}
	if p.Spin, err = floatParam(params, "spin", 1); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Passthrough) Name() string { return "passthrough" }

func (p *Passthrough) imageBytes() uint64 { return uint64(p.Width) * uint64(p.Height) * 4 }

func (p *Passthrough) Descriptor() compressor.WorkloadDescriptor {
	transfer := compressor.UsageTransferSrc | compressor.UsageTransferDst
	return compressor.WorkloadDescriptor{
		Name: "passthrough",
		Resources: []compressor.ResourceSpec{
			{Name: "source", Size: p.imageBytes(), Usage: transfer, Lifetime: compressor.Shared},
			{Name: "frame", Size: p.imageBytes(), Usage: transfer, Lifetime: compressor.PerFrame},
			{
				Name:     "uniforms",
				Size:     uniformSize,
				Usage:    compressor.UsageUniform,
				Hint:     compressor.MemoryUpload,
				Lifetime: compressor.PerFrame,
			},
		},
	}
}

// Initialize fills the shared source once.
func (p *Passthrough) Initialize(rec compressor.CommandRecorder, res compressor.FrameResources) {
	if src, ok := res.Lookup("source"); ok {
		rec.FillBuffer(src, 0, p.imageBytes(), p.Fill)
	}
}

func (p *Passthrough) Record(rec compressor.CommandRecorder, res compressor.FrameResources) {
	src, ok1 := res.Lookup("source")
	frame, ok2 := res.Lookup("frame")
	uni, ok3 := res.Lookup("uniforms")
	if !ok1 || !ok2 || !ok3 {
		compressor.Logger().Error("passthrough resources missing", "frame", res.Frame)
		return
	}
	target := res.Target

	p.writeUniforms(uni.Bytes(), res.Frame, target.Extent)

	rec.CopyBuffer(src, frame, p.imageBytes())
	row := uint32(res.Frame % uint64(p.Height))
	rows := uint32(markerRows)
	if row+rows > p.Height {
		rows = p.Height - row
	}
	stride := uint64(p.Width) * 4
	rec.FillBuffer(frame, uint64(row)*stride, uint64(rows)*stride, p.Marker)

	// The copy reads target-width rows, so any 32-bit target that fits
	// in the working copy can take it directly.
	need := target.Format.SizeOf(target.Extent)
	if target.Format.BlockSize() == 4 && !target.Format.Compressed() && need > 0 && need <= frame.Size() {
		rec.CopyBufferToImage(frame, target)
		return
	}
	rec.ClearColor(target, unpackColor(p.Fill))
}

// clipCorrection maps OpenGL clip space to Vulkan clip space: Y points
// down and depth is [0, 1] instead of [-1, 1].
var clipCorrection = mgl32.Translate3D(0, 0, 0.5).Mul4(mgl32.Scale3D(1, -1, 0.5))

// VulkanProjection returns a perspective projection in Vulkan clip space.
func VulkanProjection(fovy, aspect, near, far float32) mgl32.Mat4 {
	return clipCorrection.Mul4(mgl32.Perspective(mgl32.DegToRad(fovy), aspect, near, far))
}

// MVP is the view-projection of frame for a target of extent e.
func (p *Passthrough) MVP(frame uint64, e compressor.Extent) mgl32.Mat4 {
	aspect := float32(1)
	if !e.Empty() {
		aspect = float32(e.Width) / float32(e.Height)
	}
	proj := VulkanProjection(p.FOV, aspect, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	angle := float32(math.Mod(float64(p.Spin)*float64(frame), 360))
	model := mgl32.HomogRotate3DY(mgl32.DegToRad(angle))
	return proj.Mul4(view).Mul4(model)
}

func (p *Passthrough) writeUniforms(dst []byte, frame uint64, e compressor.Extent) {
	if len(dst) < uniformSize {
		return
	}
	mvp := p.MVP(frame, e)
	for i, f := range mvp {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	extra := [4]float32{float32(frame), float32(e.Width), float32(e.Height), float32(frame) / 60}
	for i, f := range extra {
		binary.LittleEndian.PutUint32(dst[64+i*4:], math.Float32bits(f))
	}
}

// unpackColor reads a little endian BGRA texel as normalized RGBA.
func unpackColor(texel uint32) [4]float32 {
	b := float32(texel&0xff) / 255
	g := float32(texel>>8&0xff) / 255
	r := float32(texel>>16&0xff) / 255
	a := float32(texel>>24&0xff) / 255
	return [4]float32{r, g, b, a}
}
