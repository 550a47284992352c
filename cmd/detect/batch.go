package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-detect/batch"
	"github.com/nvr-ai/go-detect/cache"
	"github.com/nvr-ai/go-detect/coordinator"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/util"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Detect objects in every image of a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()
		return runBatch(cmd.Context(), rt, args[0], cmd.OutOrStdout())
	},
}

func runBatch(ctx context.Context, rt *runtime, dir string, out io.Writer) error {
	cfg := rt.cfg
	files, err := util.ListDirectoryImageFiles(dir, cfg.Batch.MaxItems)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no images in %s", dir)
	}

	loop := coordinator.New()
	defer loop.Close()

	store := cache.New(util.FileLoader{},
		cache.WithLogger(rt.logger),
		cache.WithLoop(loop),
		cache.WithSizes(cfg.Cache.ThumbnailSize, cfg.Cache.PreviewSize),
		cache.WithMaxItems(cfg.Batch.MaxItems),
		cache.WithConcurrency(cfg.Cache.Concurrency),
	)
	defer store.Close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("detecting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	sched := batch.New(store, rt.dispatcher,
		batch.WithLogger(rt.logger),
		batch.WithLoop(loop),
		batch.WithPrefetchRadius(cfg.Batch.PrefetchRadius),
		batch.WithObserver(func(s batch.Snapshot) { _ = bar.Set(s.Progress.Completed) }),
	)
	defer sched.Close()

	rt.profiler.AddMetricsCollector(profiler.CollectorFunc(func() map[string]float64 {
		st := store.Stats()
		return map[string]float64{
			"cache_preview_loads": float64(st.PreviewLoads),
			"cache_evictions":     float64(st.Evictions),
		}
	}))

	if _, err := sched.Select(ctx, util.Paths(files)); err != nil {
		return err
	}
	done := rt.profiler.StartOperation("batch_run")
	if err := sched.Start(ctx); err != nil {
		return err
	}

	if err := sched.Wait(ctx); err != nil {
		// Interrupted: the item in flight finishes, nothing after it starts.
		rt.logger.Info("batch interrupted", zap.Error(err))
		if err := sched.Cancel(context.Background()); err != nil {
			return err
		}
	}
	done()
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	progress, err := sched.Progress(context.Background())
	if err != nil {
		return err
	}
	items, err := sched.Items(context.Background())
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Fprintf(out, "%s: %s\n", filepath.Base(item.Ref), item.Status)
		for _, d := range item.Detections {
			fmt.Fprintf(out, "  %s\n", d)
		}
	}
	fmt.Fprintf(out, "%s %d/%d\n", progress.State, progress.Completed, progress.Total)

	st := store.Stats()
	rt.logger.Debug("cache stats",
		zap.Uint64("thumbnail_loads", st.ThumbnailLoads),
		zap.Uint64("preview_loads", st.PreviewLoads),
		zap.Uint64("evictions", st.Evictions))
	return nil
}
