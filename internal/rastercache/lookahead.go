package rastercache

import (
	"context"
	"slices"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// Partition is the result of a LookAhead: Available blocks are in the
// cache, Missing blocks were requested from the source.
type Partition struct {
	Available []raster.BlockID
	Missing   []raster.BlockID
}

type waitKey struct {
	page int
	id   raster.BlockID
}

// SetBlockReadyFunc sets the function called when a block requested by
// LookAhead is available.
func (c *Cache) SetBlockReadyFunc(fn raster.BlockReadyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onReady = fn
}

// LookAhead announces that consumer is going to read the blocks ids of
// page. Blocks already in the cache are reported as ready immediately,
// missing blocks are requested from the source and reported once they have
// arrived.
//
// Asynchronous requests are tracked until the block arrives. Requesting a
// block which is still pending asynchronously adds the consumer to the ones
// notified on arrival, the source is not asked again. A synchronous request
// is always forwarded. There is no way to cancel a request.
//
// Sources without LookAhead support only serve synchronous requests, the
// missing blocks are then fetched into the cache before LookAhead returns.
func (c *Cache) LookAhead(ctx context.Context, page int, ids []raster.BlockID, consumer raster.ConsumerID, async bool) (Partition, error) {
	var part Partition
	var forward []raster.BlockID

	for _, id := range ids {
		if id.Resolution < 0 || id.Resolution >= len(c.orig.Page(page).Resolutions) {
			return Partition{}, errors.Errorf("page %d has no resolution %d", page, id.Resolution)
		}
	}

	sp := c.storePage(page)
	p := c.store.Page(sp)

	c.mu.Lock()
	for _, id := range ids {
		if id.Resolution < len(p.Resolutions) {
			r := p.Resolutions[id.Resolution]
			if id.Index >= r.Flags.Len() {
				c.mu.Unlock()
				return Partition{}, errors.Errorf("block %d out of range (%d blocks)", id.Index, r.Flags.Len())
			}

			if r.Flags.Get(id.Index) != raster.Empty {
				part.Available = append(part.Available, id)
				continue
			}
		}

		part.Missing = append(part.Missing, id)

		k := waitKey{page: page, id: id}
		if !slices.Contains(c.waiters[k], consumer) {
			c.waiters[k] = append(c.waiters[k], consumer)
		}

		if async {
			bm := c.pendingSet(page, id.Resolution)
			if bm.Contains(id.Index) {
				continue
			}
			bm.Add(id.Index)
		}
		forward = append(forward, id)
	}
	ready := c.onReady
	c.mu.Unlock()

	debug.Log("LookAhead page %d consumer %d: %d available, %d missing, %d forwarded",
		page, consumer, len(part.Available), len(part.Missing), len(forward))

	if ready != nil {
		for _, id := range part.Available {
			ready(consumer, page, id)
		}
	}

	if len(forward) == 0 {
		return part, nil
	}

	la, ok := c.src.(raster.LookAheader)
	if !ok || !c.orig.Capabilities().LookAhead {
		if async {
			c.abandon(page, forward, consumer)
			return part, errors.Wrap(raster.ErrNotSupported, "asynchronous LookAhead")
		}
		return part, c.prefetch(ctx, page, forward)
	}

	if err := la.LookAhead(ctx, page, forward, consumer, async); err != nil {
		c.abandon(page, forward, consumer)
		return part, err
	}

	if !async {
		// the source may have reported the blocks already
		for _, id := range forward {
			c.arrived(page, id, false)
		}
	}

	return part, nil
}

// LookAheadRegion snaps rect to the block grid of resolution res and
// requests every block touching it.
func (c *Cache) LookAheadRegion(ctx context.Context, page, res int, rect raster.Rect, consumer raster.ConsumerID, async bool) (Partition, error) {
	r := c.cached(page, res)
	if r == nil {
		r = c.src.Page(page).Resolution(res)
	}

	indices := r.BlocksIn(rect)
	ids := make([]raster.BlockID, 0, len(indices))
	for _, idx := range indices {
		ids = append(ids, raster.BlockID{Resolution: res, Index: idx})
	}

	return c.LookAhead(ctx, page, ids, consumer, async)
}

// pendingSet returns the set of pending blocks of a resolution. c.mu must
// be held.
func (c *Cache) pendingSet(page, res int) *roaring64.Bitmap {
	k := pageRes{page, res}
	bm, ok := c.pending[k]
	if !ok {
		bm = roaring64.New()
		c.pending[k] = bm
	}
	return bm
}

// abandon forgets a failed request, so that it is forwarded again next time.
func (c *Cache) abandon(page int, ids []raster.BlockID, consumer raster.ConsumerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		c.pendingSet(page, id.Resolution).Remove(id.Index)

		k := waitKey{page: page, id: id}
		c.waiters[k] = slices.DeleteFunc(c.waiters[k], func(o raster.ConsumerID) bool { return o == consumer })
		if len(c.waiters[k]) == 0 {
			delete(c.waiters, k)
		}
	}
}

// prefetch loads blocks through cache editors.
func (c *Cache) prefetch(ctx context.Context, page int, ids []raster.BlockID) error {
	editors := make(map[int]raster.Editor)
	defer func() {
		for _, ed := range editors {
			_ = ed.Close()
		}
	}()

	for _, id := range ids {
		ed, ok := editors[id.Resolution]
		if !ok {
			var err error
			ed, err = c.NewEditor(page, id.Resolution, raster.ReadOnly)
			if err != nil {
				return err
			}
			editors[id.Resolution] = ed
		}

		buf := make([]byte, ed.Resolution().BlockSize())
		if err := ed.ReadBlock(ctx, id.Index, buf); err != nil {
			return err
		}

		c.arrived(page, id, false)
	}

	return nil
}

// TileArrived is called by the source when a block has arrived. The cached
// copy is discarded, so that the next read fetches the new data, and the
// consumers waiting for the block are notified.
func (c *Cache) TileArrived(page int, id raster.BlockID) {
	if !c.manages(page) {
		return
	}

	c.arrived(page, id, true)
}

func (c *Cache) arrived(page int, id raster.BlockID, reset bool) {
	p := c.store.Page(c.storePage(page))

	c.mu.Lock()
	if reset && id.Resolution >= 0 && id.Resolution < len(p.Resolutions) {
		r := p.Resolutions[id.Resolution]
		if id.Index < r.Flags.Len() {
			r.Flags.Set(id.Index, raster.Empty)
		}
	}

	c.pendingSet(page, id.Resolution).Remove(id.Index)

	k := waitKey{page: page, id: id}
	consumers := c.waiters[k]
	delete(c.waiters, k)
	ready := c.onReady
	c.mu.Unlock()

	if ready == nil {
		return
	}

	for _, consumer := range consumers {
		ready(consumer, page, id)
	}
}

// Pending returns the number of blocks requested asynchronously which have
// not arrived yet.
func (c *Cache) Pending() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n uint64
	for _, bm := range c.pending {
		n += bm.GetCardinality()
	}
	return n
}
