package compressor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SwapchainImage is a presentable image. It is invalidated by recreation.
type SwapchainImage struct {
	Index  uint32
	Image  any // backend image handle
	View   any // backend view handle
	Extent Extent
	Format Format
}

// SwapchainState is the recreation state machine.
type SwapchainState int

const (
	SwapchainValid SwapchainState = iota
	SwapchainOutOfDate
	SwapchainRecreating
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainValid:
		return "valid"
	case SwapchainOutOfDate:
		return "out-of-date"
	case SwapchainRecreating:
		return "recreating"
	}
	return "unknown"
}

// DrainFunc waits for every in-flight frame to finish.
type DrainFunc func(ctx context.Context) error

// SwapchainManager owns the presentable images and drives
// Valid -> OutOfDate -> Recreating -> Valid.
type SwapchainManager struct {
	presenter      Presenter
	cfg            SwapchainConfig
	acquireTimeout time.Duration
	drain          DrainFunc
	log            *slog.Logger

	mu      sync.Mutex
	state   SwapchainState
	pending Extent // latest size reported by the window

	images      []SwapchainImage
	recreations int
	configured  bool
}

// NewSwapchainManager builds the initial swapchain.
func NewSwapchainManager(p Presenter, cfg SwapchainConfig, acquireTimeout time.Duration) (*SwapchainManager, error) {
	if acquireTimeout <= 0 {
		acquireTimeout = defaultFenceTimeout
	}
	m := &SwapchainManager{
		presenter:      p,
		cfg:            cfg,
		acquireTimeout: acquireTimeout,
		log:            Logger().With("component", "swapchain"),
		pending:        cfg.Extent,
	}
	images, err := p.Configure(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}
	m.images = images
	m.configured = true
	m.log.Info("swapchain created", "images", len(images), "extent", cfg.Extent)
	return m, nil
}

// SetDrain installs the hook run before the old images are torn down.
func (m *SwapchainManager) SetDrain(fn DrainFunc) { m.drain = fn }

// State returns the current state.
func (m *SwapchainManager) State() SwapchainState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Recreations counts completed recreation cycles.
func (m *SwapchainManager) Recreations() int { return m.recreations }

// Images returns the current images.
func (m *SwapchainManager) Images() []SwapchainImage { return m.images }

// Extent is the extent of the current images.
func (m *SwapchainManager) Extent() Extent { return m.cfg.Extent }

// NotifyResized is the windowing backend's resize callback. It may be
// called from event polling.
func (m *SwapchainManager) NotifyResized(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = Extent{Width: uint32(width), Height: uint32(height)}
	if m.state == SwapchainValid {
		m.state = SwapchainOutOfDate
	}
}

func (m *SwapchainManager) markOutOfDate() {
	m.mu.Lock()
	if m.state == SwapchainValid {
		m.state = SwapchainOutOfDate
	}
	m.mu.Unlock()
}

// AcquireNext returns the next image, signalling signal when it is ready.
// An out-of-date surface yields ErrRetry; the following call recreates the
// swapchain first.
func (m *SwapchainManager) AcquireNext(ctx context.Context, signal Semaphore) (*SwapchainImage, error) {
	if m.State() != SwapchainValid {
		if err := m.Recreate(ctx); err != nil {
			return nil, err
		}
	}
	idx, err := m.presenter.Acquire(signal, m.acquireTimeout)
	switch {
	case err == nil:
	case errors.Is(err, ErrSwapchainOutOfDate):
		m.markOutOfDate()
		return nil, ErrRetry
	default:
		return nil, err
	}
	if int(idx) >= len(m.images) {
		return nil, errors.Errorf("acquired image %d of %d", idx, len(m.images))
	}
	return &m.images[idx], nil
}

// Present queues img for display after wait. An out-of-date surface moves
// the manager to OutOfDate and is not an error.
func (m *SwapchainManager) Present(img *SwapchainImage, wait Semaphore) error {
	err := m.presenter.Present(img.Index, wait)
	if errors.Is(err, ErrSwapchainOutOfDate) {
		m.log.Debug("present reported out-of-date surface", "image", img.Index)
		m.markOutOfDate()
		return nil
	}
	return err
}

// Recreate drains in-flight frames and rebuilds every image. It is a no-op
// when the swapchain is valid. A zero-area surface leaves the state
// OutOfDate and returns ErrRetry.
func (m *SwapchainManager) Recreate(ctx context.Context) error {
	m.mu.Lock()
	if m.state == SwapchainValid {
		m.mu.Unlock()
		return nil
	}
	extent := m.pending
	if extent.Empty() {
		m.mu.Unlock()
		return ErrRetry
	}
	m.state = SwapchainRecreating
	m.mu.Unlock()

	if m.drain != nil {
		if err := m.drain(ctx); err != nil {
			m.setState(SwapchainOutOfDate)
			return errors.Wrap(err, "drain before swapchain recreation")
		}
	}

	cfg := m.cfg
	cfg.Extent = extent
	images, err := m.presenter.Configure(cfg)
	if err != nil {
		m.setState(SwapchainOutOfDate)
		return errors.Wrap(err, "recreate swapchain")
	}
	m.cfg = cfg
	m.images = images
	m.recreations++

	m.mu.Lock()
	// a resize that raced with recreation keeps the state out-of-date
	if m.pending == extent {
		m.state = SwapchainValid
	} else {
		m.state = SwapchainOutOfDate
	}
	m.mu.Unlock()
	m.log.Info("swapchain recreated", "extent", extent, "images", len(images), "cycle", m.recreations)
	return nil
}

func (m *SwapchainManager) setState(s SwapchainState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Destroy releases the swapchain and its surface.
func (m *SwapchainManager) Destroy() {
	if !m.configured {
		return
	}
	m.configured = false
	m.images = nil
	m.presenter.Destroy()
}
