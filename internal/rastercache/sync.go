package rastercache

import (
	"context"

	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// SynchronizeFiles reconciles every cached resolution with the source:
// Overwritten blocks are written back and become Loaded, changed page
// attributes are written to the source or the store. If invalidation was
// requested, every block is reset to Empty instead and nothing is written
// back. The source itself is not saved, see Save.
func (c *Cache) SynchronizeFiles(ctx context.Context) error {
	_, err := c.synchronize(ctx)
	return err
}

// synchronize reports whether anything was written to the source.
func (c *Cache) synchronize(ctx context.Context) (written bool, err error) {
	c.mu.Lock()
	invalidate := c.invalidate
	c.invalidate = false
	c.mu.Unlock()

	creating := c.orig.Creating()

	for _, page := range c.pages() {
		sp := c.storePage(page)
		p := c.store.Page(sp)

		for res, r := range p.Resolutions {
			if invalidate {
				c.mu.Lock()
				r.Flags.Reset()
				c.mu.Unlock()
				debug.Log("page %d resolution %d: invalidated", page, res)
				continue
			}

			w, err := c.syncResolution(ctx, page, res, r, creating)
			written = written || w
			if err != nil {
				return written, errors.Wrapf(err, "page %d resolution %d", page, res)
			}
		}

		w, err := c.syncAttributes(page, p)
		written = written || w
		if err != nil {
			return written, err
		}
	}

	return written, c.store.Flush()
}

func (c *Cache) syncResolution(ctx context.Context, page, res int, r *raster.Resolution, creating bool) (bool, error) {
	if !creating && c.count(r, raster.Overwritten) == 0 {
		return false, nil
	}

	// A sequential writer cannot seek, every block is written in raster
	// order. The same holds for a new source, which must be complete.
	all := creating || c.orig.Page(page).Resolution(res).WriterAccess == raster.Sequential
	if all {
		if err := c.seed(ctx, page, res, r, creating); err != nil {
			return false, err
		}
	}

	return true, c.writeBack(ctx, page, res, r, all, creating)
}

// seed streams every Empty block from the source into the cache in raster
// order. Blocks of a source being created are seeded with zeroes.
func (c *Cache) seed(ctx context.Context, page, res int, r *raster.Resolution, creating bool) error {
	missing := c.count(r, raster.Empty)
	if missing == 0 {
		return nil
	}

	debug.Log("page %d resolution %d: seeding %d blocks", page, res, missing)

	cache, err := c.store.NewEditor(c.storePage(page), res, raster.ReadWrite)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	var src raster.Editor
	if !creating {
		src, err = c.src.NewEditor(page, res, raster.ReadOnly)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
	}

	buf := make([]byte, r.BlockSize())
	for id := uint64(0); id < r.BlockCount() && missing > 0; id++ {
		if c.flag(r, id) != raster.Empty {
			continue
		}

		if src != nil {
			if err := src.ReadBlock(ctx, id, buf); err != nil {
				return err
			}
		}

		if err := cache.WriteBlock(ctx, id, buf); err != nil {
			return err
		}

		c.setFlag(r, id, raster.Loaded)
		missing--
	}

	return nil
}

// writeBack copies blocks from the cache to the source in raster order:
// every block if all is set, otherwise only Overwritten blocks. Written
// blocks become Loaded once the source editor was closed successfully.
func (c *Cache) writeBack(ctx context.Context, page, res int, r *raster.Resolution, all, creating bool) error {
	mode := raster.ReadWrite
	if creating {
		mode = raster.Create
	}

	src, err := c.src.NewEditor(page, res, mode)
	if err != nil {
		return err
	}

	cache, err := c.store.NewEditor(c.storePage(page), res, raster.ReadOnly)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer func() { _ = cache.Close() }()

	var overwritten []uint64
	buf := make([]byte, r.BlockSize())
	for id := uint64(0); id < r.BlockCount(); id++ {
		f := c.flag(r, id)
		if f == raster.Empty || (!all && f != raster.Overwritten) {
			continue
		}

		if err := cache.ReadBlock(ctx, id, buf); err != nil {
			_ = src.Close()
			return err
		}

		if err := src.WriteBlock(ctx, id, buf); err != nil {
			_ = src.Close()
			return err
		}

		if f == raster.Overwritten {
			overwritten = append(overwritten, id)
		}
	}

	if err := src.Close(); err != nil {
		return err
	}

	c.mu.Lock()
	for _, id := range overwritten {
		if r.Flags.Get(id) == raster.Overwritten {
			r.Flags.Set(id, raster.Loaded)
		}
	}
	c.mu.Unlock()

	debug.Log("page %d resolution %d: wrote back %d blocks", page, res, len(overwritten))
	return nil
}

// syncAttributes writes changed page attributes, preferring the source.
func (c *Cache) syncAttributes(page int, p *raster.Page) (written bool, err error) {
	c.mu.Lock()
	changed := p.Attributes.Changed()
	values := make(map[raster.AttributeKind][]byte, len(changed))
	for _, kind := range changed {
		values[kind], _ = p.Attributes.Get(kind)
	}
	c.mu.Unlock()

	srcWriter, _ := c.orig.(raster.AttributeWriter)
	for _, kind := range changed {
		switch {
		case srcWriter != nil && c.orig.Capabilities().CanWriteAttribute(kind):
			if err := srcWriter.WriteAttribute(page, kind, values[kind]); err != nil {
				return written, errors.Wrapf(err, "write attribute %v", kind)
			}
			written = true
		case c.store.Capabilities().CanWriteAttribute(kind):
			if err := c.store.WriteAttribute(c.storePage(page), kind, values[kind]); err != nil {
				return written, errors.Wrapf(err, "write attribute %v", kind)
			}
		default:
			debug.Log("page %d: attribute %v cannot be written", page, kind)
			continue
		}

		c.mu.Lock()
		p.Attributes.ClearChanged(kind)
		c.mu.Unlock()
	}

	return written, nil
}
