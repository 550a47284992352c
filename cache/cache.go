// Package cache holds the decoded images of a batch selection.
//
// Every item has a small thumbnail, kept for the lifetime of the selection,
// and a larger preview used as the detection source. Previews are kept only
// inside a sliding window around the item being viewed so memory stays
// bounded however long the selection is.
//
// All bookkeeping runs on a coordinator loop. Loads run on background
// goroutines and publish their results back to the loop, where they are
// discarded if the selection they were issued for has since been replaced.
package cache

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-detect/coordinator"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultThumbnailSize bounds the longest side of a thumbnail.
	DefaultThumbnailSize = 256
	// DefaultPreviewSize bounds the longest side of a preview.
	DefaultPreviewSize = 2048
	// DefaultMaxItems is the largest selection accepted.
	DefaultMaxItems = 30
	// DefaultConcurrency is the number of loads allowed to run at once.
	DefaultConcurrency = 4
)

var (
	// ErrLoadFailure is returned when an item's bytes cannot be loaded or decoded.
	ErrLoadFailure = errors.New("load failure")
	// ErrStale is returned when the item an operation refers to is no longer
	// part of the current selection.
	ErrStale = errors.New("stale item")
	// ErrTooManyItems is returned by Replace for selections over the limit.
	ErrTooManyItems = errors.New("too many items")
)

// Loader fetches the encoded bytes behind an item reference.
type Loader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref string) ([]byte, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, ref string) ([]byte, error) { return f(ctx, ref) }

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithLoop runs the cache's bookkeeping on a shared coordinator loop.
func WithLoop(loop *coordinator.Loop) Option {
	return func(c *Cache) { c.loop = loop }
}

// WithSizes sets the thumbnail and preview size bounds.
func WithSizes(thumbnail, preview int) Option {
	return func(c *Cache) {
		c.thumbnailSize = thumbnail
		c.previewSize = preview
	}
}

// WithMaxItems sets the selection size limit.
func WithMaxItems(n int) Option {
	return func(c *Cache) { c.maxItems = n }
}

// WithConcurrency sets how many loads may run at once.
func WithConcurrency(n int) Option {
	return func(c *Cache) { c.concurrency = n }
}

// Stats counts cache activity since creation.
type Stats struct {
	ThumbnailLoads uint64
	PreviewLoads   uint64
	Evictions      uint64
	StaleResults   uint64
}

type kind int

const (
	kindThumbnail kind = iota
	kindPreview
)

func (k kind) String() string {
	if k == kindThumbnail {
		return "thumbnail"
	}
	return "preview"
}

type previewResult struct {
	img image.Image
	err error
}

type slot struct {
	id    uuid.UUID
	ref   string
	index int

	thumbnail      image.Image
	thumbnailErr   error
	thumbnailAwait bool

	preview        image.Image
	previewErr     error
	previewAwait   bool
	previewWaiters []chan previewResult

	plans map[int]geometry.LetterboxPlan
}

type window struct {
	center, radius int
}

func (w *window) contains(index int) bool {
	if w == nil {
		return true
	}
	d := index - w.center
	return d >= -w.radius && d <= w.radius
}

// Cache is the resource cache of one selection at a time.
type Cache struct {
	loader        Loader
	logger        *zap.Logger
	thumbnailSize int
	previewSize   int
	maxItems      int
	concurrency   int

	loop     *coordinator.Loop
	ownsLoop bool
	sem      *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	thumbnailLoads atomic.Uint64
	previewLoads   atomic.Uint64
	evictions      atomic.Uint64
	stale          atomic.Uint64

	// Owned by the loop.
	generation uuid.UUID
	order      []*slot
	slots      map[uuid.UUID]*slot
	window     *window
}

// New returns an empty cache loading items through loader.
func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader:        loader,
		logger:        zap.NewNop(),
		thumbnailSize: DefaultThumbnailSize,
		previewSize:   DefaultPreviewSize,
		maxItems:      DefaultMaxItems,
		concurrency:   DefaultConcurrency,
		slots:         map[uuid.UUID]*slot{},
		generation:    uuid.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	c.logger = c.logger.With(zap.String("component", "cache"))
	if c.loop == nil {
		c.loop = coordinator.New()
		c.ownsLoop = true
	}
	c.sem = semaphore.NewWeighted(int64(c.concurrency))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Replace discards the current selection and commits refs as the new one.
//
// Arguments:
//   - ctx: Bounds the wait for the coordinator loop.
//   - refs: Loader references in selection order.
//
// Returns:
//   - []uuid.UUID: One fresh item id per ref, in the same order.
//   - error: ErrTooManyItems, or the context error.
func (c *Cache) Replace(ctx context.Context, refs []string) ([]uuid.UUID, error) {
	if c.maxItems > 0 && len(refs) > c.maxItems {
		return nil, errors.Wrapf(ErrTooManyItems, "%d items, limit %d", len(refs), c.maxItems)
	}
	ids := make([]uuid.UUID, len(refs))
	for i := range refs {
		ids[i] = uuid.New()
	}
	err := c.loop.Do(ctx, func() {
		c.reset()
		for i, ref := range refs {
			s := &slot{id: ids[i], ref: ref, index: i, plans: map[int]geometry.LetterboxPlan{}}
			c.order = append(c.order, s)
			c.slots[s.id] = s
		}
		c.logger.Info("selection replaced",
			zap.Int("items", len(refs)), zap.Stringer("generation", c.generation))
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Clear discards the current selection.
func (c *Cache) Clear(ctx context.Context) error {
	return c.loop.Do(ctx, c.reset)
}

// reset runs on the loop.
func (c *Cache) reset() {
	for _, s := range c.order {
		s.failWaiters(ErrStale)
	}
	c.generation = uuid.New()
	c.order = nil
	c.slots = map[uuid.UUID]*slot{}
	c.window = nil
}

// EnsureThumbnail starts loading the thumbnail of id unless it is present or
// already loading. It does not wait.
func (c *Cache) EnsureThumbnail(id uuid.UUID) {
	c.loop.Post(func() {
		if s := c.slots[id]; s != nil {
			c.ensureThumbnail(s, true)
		}
	})
}

// EnsurePreview starts loading the preview of id unless it is present or
// already loading. It does not wait.
func (c *Cache) EnsurePreview(id uuid.UUID) {
	c.loop.Post(func() {
		if s := c.slots[id]; s != nil {
			c.ensurePreview(s, true)
		}
	})
}

// PrefetchWindow makes sure every item within radius positions of center has
// its thumbnail and preview, and releases the previews of all other items.
// Thumbnails are never released. Representations whose last load failed are
// left failed; only EnsureThumbnail, EnsurePreview or AwaitPreview retry them.
func (c *Cache) PrefetchWindow(center uuid.UUID, radius int) {
	c.loop.Post(func() {
		s := c.slots[center]
		if s == nil {
			return
		}
		if radius < 0 {
			radius = 0
		}
		c.window = &window{center: s.index, radius: radius}
		for _, other := range c.order {
			if c.window.contains(other.index) {
				c.ensureThumbnail(other, false)
				c.ensurePreview(other, false)
				continue
			}
			if other.preview != nil {
				other.preview = nil
				c.evictions.Add(1)
				c.logger.Debug("preview evicted", zap.Int("index", other.index))
			}
		}
	})
}

// AwaitPreview returns the preview of id, loading it if needed.
//
// A preview that arrives while its item is outside the prefetch window is
// handed to waiters but not retained.
func (c *Cache) AwaitPreview(ctx context.Context, id uuid.UUID) (image.Image, error) {
	ch := make(chan previewResult, 1)
	err := c.loop.Do(ctx, func() {
		s := c.slots[id]
		switch {
		case s == nil:
			ch <- previewResult{err: errors.Wrapf(ErrStale, "item %s", id)}
		case s.preview != nil:
			ch <- previewResult{img: s.preview}
		default:
			s.previewWaiters = append(s.previewWaiters, ch)
			c.ensurePreview(s, true)
		}
	})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prepare loads the preview of id and renders it into a model input of the
// given side. The letterbox plan is cached per item and side.
func (c *Cache) Prepare(ctx context.Context, id uuid.UUID, side int) (*inference.Buffer, geometry.LetterboxPlan, error) {
	img, err := c.AwaitPreview(ctx, id)
	if err != nil {
		return nil, geometry.LetterboxPlan{}, err
	}
	plan, err := c.PreparedPlan(ctx, id, img.Bounds().Dx(), img.Bounds().Dy(), side)
	if err != nil {
		return nil, geometry.LetterboxPlan{}, err
	}
	buf, err := inference.Letterbox(img, plan)
	if err != nil {
		return nil, geometry.LetterboxPlan{}, err
	}
	return buf, plan, nil
}

// PreparedPlan returns the letterbox plan of id for a source of the given size,
// computing it on first use.
func (c *Cache) PreparedPlan(ctx context.Context, id uuid.UUID, width, height, side int) (geometry.LetterboxPlan, error) {
	var (
		plan    geometry.LetterboxPlan
		planErr error
	)
	err := c.loop.Do(ctx, func() {
		s := c.slots[id]
		if s == nil {
			planErr = errors.Wrapf(ErrStale, "item %s", id)
			return
		}
		if p, ok := s.plans[side]; ok && p.SourceWidth == width && p.SourceHeight == height {
			plan = p
			return
		}
		plan, planErr = geometry.ComputeLetterboxPlan(width, height, side)
		if planErr == nil {
			s.plans[side] = plan
		}
	})
	if err != nil {
		return geometry.LetterboxPlan{}, err
	}
	return plan, planErr
}

// Close cancels outstanding loads and waits for them to finish.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
	_ = c.Clear(context.Background())
	if c.ownsLoop {
		c.loop.Close()
	}
}

// Stats returns the activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		ThumbnailLoads: c.thumbnailLoads.Load(),
		PreviewLoads:   c.previewLoads.Load(),
		Evictions:      c.evictions.Load(),
		StaleResults:   c.stale.Load(),
	}
}

// ensureThumbnail starts a thumbnail load. A failed load is only repeated
// when retry is set.
func (c *Cache) ensureThumbnail(s *slot, retry bool) {
	if s.thumbnail != nil || s.thumbnailAwait || (s.thumbnailErr != nil && !retry) {
		return
	}
	s.thumbnailAwait = true
	c.thumbnailLoads.Add(1)
	c.load(c.generation, s, kindThumbnail, c.thumbnailSize)
}

func (c *Cache) ensurePreview(s *slot, retry bool) {
	if s.preview != nil || s.previewAwait || (s.previewErr != nil && !retry) {
		return
	}
	s.previewAwait = true
	c.previewLoads.Add(1)
	c.load(c.generation, s, kindPreview, c.previewSize)
}

// load runs on the loop and starts the background half of a load.
func (c *Cache) load(generation uuid.UUID, s *slot, k kind, maxDim int) {
	id, ref := s.id, s.ref
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		img, err := c.fetch(ref, maxDim)
		if err != nil && c.ctx.Err() != nil {
			return
		}
		c.loop.Post(func() { c.publish(generation, id, k, img, err) })
	}()
}

func (c *Cache) fetch(ref string, maxDim int) (image.Image, error) {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	data, err := c.loader.Load(c.ctx, ref)
	if err != nil {
		return nil, errors.Wrapf(ErrLoadFailure, "%s: %v", ref, err)
	}
	img, err := images.DecodeBounded(data, maxDim)
	if err != nil {
		return nil, errors.Wrapf(ErrLoadFailure, "%s: %v", ref, err)
	}
	return img, nil
}

// publish runs on the loop.
func (c *Cache) publish(generation, id uuid.UUID, k kind, img image.Image, err error) {
	s := c.slots[id]
	if generation != c.generation || s == nil {
		c.stale.Add(1)
		c.logger.Debug("dropping stale load", zap.Stringer("kind", k), zap.Stringer("item", id))
		return
	}
	if err != nil {
		c.logger.Warn("load failed", zap.Stringer("kind", k), zap.Int("index", s.index), zap.Error(err))
	}

	switch k {
	case kindThumbnail:
		s.thumbnailAwait = false
		s.thumbnailErr = err
		if err == nil {
			s.thumbnail = img
		}
	case kindPreview:
		s.previewAwait = false
		s.previewErr = err
		if err == nil && c.window.contains(s.index) {
			s.preview = img
		}
		for _, ch := range s.previewWaiters {
			ch <- previewResult{img: img, err: err}
		}
		s.previewWaiters = nil
	}
}

func (s *slot) failWaiters(err error) {
	for _, ch := range s.previewWaiters {
		ch <- previewResult{err: errors.Wrapf(err, "item %s", s.id)}
	}
	s.previewWaiters = nil
}
