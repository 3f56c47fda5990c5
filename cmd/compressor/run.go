package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/xlab/closer"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/window"
	"github.com/andewx/compressor/workload"
)

// minimizedPoll is how long the loop sleeps while the window has no area.
const minimizedPoll = 20 * time.Millisecond

func run(ctx context.Context, cfg *compressor.Config, frames int) error {
	log := compressor.Logger()

	wl, err := workload.New(cfg.Workload.Name, cfg.Workload.Params)
	if err != nil {
		return err
	}

	// A signal cancels the loop and waits for it to tear down before
	// closer exits the process.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	closer.Bind(func() {
		cancel()
		<-done
	})

	win, err := window.Open(cfg.Window)
	if err != nil {
		return err
	}
	defer win.Destroy()

	backend, _ := window.Backend(win, cfg.Memory.BlockSize)
	core, err := compressor.NewCore(backend, wl, cfg)
	if err != nil {
		return errors.Wrap(err, "start")
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Error("shutdown", "err", err)
		}
	}()
	win.OnResize(core.Resized)

	info := core.Device.Info()
	log.Info("running", "workload", wl.Name(), "device", info.Name, "type", info.Type,
		"frames_in_flight", cfg.Frames.InFlight)

	for n := 0; frames <= 0 || n < frames; {
		if ctx.Err() != nil || win.ShouldClose() {
			break
		}
		win.PollEvents()
		if w, h := win.FramebufferSize(); w <= 0 || h <= 0 {
			time.Sleep(minimizedPoll)
			continue
		}
		if err := core.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		n++
	}

	st := core.Scheduler.Stats()
	log.Info("stopped", "frames", st.Frame, "avg_frame_time", st.AverageFrameTime,
		"fps", st.FPS, "recreations", st.Recreations)
	return nil
}
