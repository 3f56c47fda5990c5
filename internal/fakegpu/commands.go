package fakegpu

import (
	"time"

	"github.com/pkg/errors"

	"github.com/andewx/compressor"
)

// Op is one recorded command.
type Op struct {
	Kind  string
	Src   string
	Dst   string
	Size  uint64
	Value uint32
	Color [4]float32
	Image uint32
}

// CommandBuffer records ops between Begin and End.
type CommandBuffer struct {
	Name      string
	Queue     compressor.QueueKind
	Ops       []Op
	Recording bool
	Submitted []Submission
	// OnRecord, when set, observes every op as it is recorded.
	OnRecord func(Op)
}

func (c *CommandBuffer) add(op Op) {
	if !c.Recording {
		panic("fakegpu: command recorded outside Begin/End on " + c.Name)
	}
	c.Ops = append(c.Ops, op)
	if c.OnRecord != nil {
		c.OnRecord(op)
	}
}

func (c *CommandBuffer) Begin() error {
	if c.Recording {
		return errors.Errorf("fakegpu: %s already recording", c.Name)
	}
	c.Ops = c.Ops[:0]
	c.Recording = true
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.Recording {
		return errors.Errorf("fakegpu: %s not recording", c.Name)
	}
	c.Recording = false
	return nil
}

func (c *CommandBuffer) Destroy() {}

func (c *CommandBuffer) ClearColor(target *compressor.SwapchainImage, rgba [4]float32) {
	c.add(Op{Kind: "clear", Image: target.Index, Color: rgba})
}

func (c *CommandBuffer) FillBuffer(dst *compressor.GpuResource, offset, size uint64, value uint32) {
	c.add(Op{Kind: "fill", Dst: dst.Name, Size: size, Value: value})
}

func (c *CommandBuffer) CopyBuffer(src, dst *compressor.GpuResource, size uint64) {
	c.add(Op{Kind: "copy", Src: src.Name, Dst: dst.Name, Size: size})
}

func (c *CommandBuffer) CopyBufferToImage(src *compressor.GpuResource, target *compressor.SwapchainImage) {
	c.add(Op{Kind: "copy-image", Src: src.Name, Image: target.Index})
}

func (c *CommandBuffer) PresentBarrier(target *compressor.SwapchainImage) {
	c.add(Op{Kind: "present-barrier", Image: target.Index})
}

// Presenter implements compressor.Presenter over the same event log.
type Presenter struct {
	d *Driver
	// AcquireOutOfDateAt and PresentOutOfDateAt fail the given 1-based
	// calls with compressor.ErrSwapchainOutOfDate.
	AcquireOutOfDateAt map[int]bool
	PresentOutOfDateAt map[int]bool
	// Format of the created images.
	Format compressor.Format

	Configs   []compressor.SwapchainConfig
	Acquires  int
	Presents  int
	Presented []uint32
	Destroyed bool

	images []compressor.SwapchainImage
	next   uint32
}

// NewPresenter returns a presenter logging into d.
func NewPresenter(d *Driver) *Presenter {
	return &Presenter{
		d:                  d,
		AcquireOutOfDateAt: map[int]bool{},
		PresentOutOfDateAt: map[int]bool{},
		Format:             compressor.FormatBGRA8Unorm,
	}
}

// Configures is the number of swapchain builds, including the first.
func (p *Presenter) Configures() int { return len(p.Configs) }

func (p *Presenter) Configure(cfg compressor.SwapchainConfig) ([]compressor.SwapchainImage, error) {
	p.d.record("configure", "")
	if cfg.Extent.Empty() {
		return nil, errors.New("fakegpu: empty extent")
	}
	p.Configs = append(p.Configs, cfg)
	n := cfg.ImageCount
	if n < 2 {
		n = 2
	}
	gen := len(p.Configs)
	p.images = make([]compressor.SwapchainImage, n)
	for i := range p.images {
		p.images[i] = compressor.SwapchainImage{
			Index:  uint32(i),
			Image:  [2]int{gen, i},
			View:   [2]int{gen, i},
			Extent: cfg.Extent,
			Format: p.Format,
		}
	}
	p.next = 0
	return p.images, nil
}

func (p *Presenter) Acquire(signal compressor.Semaphore, timeout time.Duration) (uint32, error) {
	p.Acquires++
	p.d.record("acquire", "")
	if p.d.lost {
		return 0, compressor.ErrDeviceLost
	}
	if p.AcquireOutOfDateAt[p.Acquires] {
		return 0, compressor.ErrSwapchainOutOfDate
	}
	idx := p.next
	p.next = (p.next + 1) % uint32(len(p.images))
	return idx, nil
}

func (p *Presenter) Present(index uint32, wait compressor.Semaphore) error {
	p.Presents++
	p.d.record("present", "")
	if p.d.lost {
		return compressor.ErrDeviceLost
	}
	if p.PresentOutOfDateAt[p.Presents] {
		return compressor.ErrSwapchainOutOfDate
	}
	p.Presented = append(p.Presented, index)
	return nil
}

func (p *Presenter) Destroy() {
	p.Destroyed = true
	p.d.record("destroy-swapchain", "")
}
