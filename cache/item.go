package cache

import (
	"context"
	"image"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-detect/geometry"
)

// Item is a point-in-time copy of one cache slot. Images are immutable and
// shared with the cache.
type Item struct {
	ID    uuid.UUID
	Ref   string
	Index int

	Thumbnail    image.Image
	ThumbnailErr error
	Preview      image.Image
	PreviewErr   error
	// Loading reports a thumbnail or preview load in flight.
	Loading bool
	// Plans holds the prepared letterbox plans, keyed by model side.
	Plans map[int]geometry.LetterboxPlan
}

func (s *slot) view() Item {
	plans := make(map[int]geometry.LetterboxPlan, len(s.plans))
	for k, v := range s.plans {
		plans[k] = v
	}
	return Item{
		ID:           s.id,
		Ref:          s.ref,
		Index:        s.index,
		Thumbnail:    s.thumbnail,
		ThumbnailErr: s.thumbnailErr,
		Preview:      s.preview,
		PreviewErr:   s.previewErr,
		Loading:      s.thumbnailAwait || s.previewAwait,
		Plans:        plans,
	}
}

// Items returns the current selection in order.
func (c *Cache) Items(ctx context.Context) ([]Item, error) {
	var items []Item
	err := c.loop.Do(ctx, func() {
		items = make([]Item, len(c.order))
		for i, s := range c.order {
			items[i] = s.view()
		}
	})
	return items, err
}

// Item returns one item. ok is false when id is not in the selection.
func (c *Cache) Item(ctx context.Context, id uuid.UUID) (item Item, ok bool, err error) {
	err = c.loop.Do(ctx, func() {
		if s := c.slots[id]; s != nil {
			item, ok = s.view(), true
		}
	})
	return item, ok, err
}

// Generation returns the token of the current selection.
func (c *Cache) Generation(ctx context.Context) (uuid.UUID, error) {
	var g uuid.UUID
	err := c.loop.Do(ctx, func() { g = c.generation })
	return g, err
}
