package compressor_test

import (
	"context"
	"testing"
	"time"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/internal/fakegpu"
)

// resizingPresenter reports a new window size from inside the next
// Configure, the way a resize event lands while a swapchain is rebuilt.
type resizingPresenter struct {
	*fakegpu.Presenter
	mgr    *compressor.SwapchainManager
	resize *compressor.Extent
}

func (p *resizingPresenter) Configure(cfg compressor.SwapchainConfig) ([]compressor.SwapchainImage, error) {
	if p.resize != nil && p.mgr != nil {
		e := *p.resize
		p.resize = nil
		p.mgr.NotifyResized(int(e.Width), int(e.Height))
	}
	return p.Presenter.Configure(cfg)
}

func TestResizeDuringRecreationStaysOutOfDate(t *testing.T) {
	ctx := context.Background()
	pres := &resizingPresenter{Presenter: fakegpu.NewPresenter(fakegpu.New())}
	mgr, err := compressor.NewSwapchainManager(pres, compressor.SwapchainConfig{
		Extent:     compressor.Extent{Width: 640, Height: 480},
		ImageCount: 2,
	}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	pres.mgr = mgr

	mgr.NotifyResized(800, 600)
	pres.resize = &compressor.Extent{Width: 1024, Height: 768}
	if err := mgr.Recreate(ctx); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if mgr.State() != compressor.SwapchainOutOfDate {
		t.Fatalf("state after racing resize = %v, want out-of-date", mgr.State())
	}
	if mgr.Recreations() != 1 || mgr.Extent() != (compressor.Extent{Width: 800, Height: 600}) {
		t.Errorf("recreations = %d, extent = %v", mgr.Recreations(), mgr.Extent())
	}

	// the next acquire rebuilds at the size reported during recreation
	if _, err := mgr.AcquireNext(ctx, nil); err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	if mgr.Recreations() != 2 || mgr.State() != compressor.SwapchainValid {
		t.Errorf("recreations = %d, state = %v", mgr.Recreations(), mgr.State())
	}
	want := compressor.Extent{Width: 1024, Height: 768}
	if got := pres.Configs[len(pres.Configs)-1].Extent; got != want {
		t.Errorf("rebuilt extent = %v, want %v", got, want)
	}
	if pres.Configures() != 3 {
		t.Errorf("configures = %d, want 3", pres.Configures())
	}
}
