package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nvr-ai/go-detect/live"
	"github.com/nvr-ai/go-detect/live/webcam"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var device string

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Detect objects in frames from a capture device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()
		if cmd.Flags().Changed("device") {
			rt.cfg.Live.Device = device
		}
		return runLive(cmd.Context(), rt, cmd.OutOrStdout())
	},
}

func init() {
	liveCmd.Flags().StringVar(&device, "device", "0", "capture device index or stream URL")
}

// captureDevice turns a numeric device into an index and leaves URLs alone.
func captureDevice(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}

func runLive(ctx context.Context, rt *runtime, out io.Writer) error {
	cfg := rt.cfg
	src, err := webcam.Open(webcam.Config{
		Device: captureDevice(cfg.Live.Device),
		Width:  cfg.Live.Width,
		Height: cfg.Live.Height,
	}, rt.logger)
	if err != nil {
		return err
	}
	defer src.Close()

	session := live.NewSession(rt.dispatcher,
		live.WithLogger(rt.logger),
		live.WithMinInterval(cfg.Live.MinInterval.Std()),
		live.WithMeterWindow(cfg.Live.MeterWindow.Std()),
		live.WithOverlay(cfg.Live.Overlay),
	)
	defer session.Close()

	rt.profiler.AddMetricsCollector(profiler.CollectorFunc(func() map[string]float64 {
		st := session.Gate().Stats()
		return map[string]float64{
			"gate_accepted":  float64(st.Accepted),
			"gate_throttled": float64(st.Throttled),
			"gate_busy":      float64(st.Busy),
		}
	}))

	if err := session.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Frames are dropped until the model is warm.
		return session.Prepare(gctx)
	})
	g.Go(func() error {
		return src.Run(gctx, session.OfferFrame)
	})
	g.Go(func() error {
		return report(gctx, session, out)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func report(ctx context.Context, session *live.Session, out io.Writer) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		st, err := session.State(ctx)
		if err != nil {
			return err
		}
		if !st.ModelReady {
			fmt.Fprintln(out, "warming up")
			continue
		}
		captions := make([]string, len(st.Detections))
		for i, d := range st.Detections {
			captions[i] = d.Caption()
		}
		fmt.Fprintf(out, "%dx%d camera %.1f fps inference %.1f fps busy %d: %s\n",
			st.FrameSize.Width, st.FrameSize.Height,
			st.CameraFPS, st.InferenceFPS, st.Gate.Busy,
			strings.Join(captions, ", "))
	}
}
