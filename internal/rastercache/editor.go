package rastercache

import (
	"context"

	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// blockEditor serves one cached resolution. Reads of Empty blocks fetch the
// block from the source and store it in the cache, writes only go to the
// cache. A random editor fetches single blocks, a sequential editor streams
// the source in raster order and seeds every block it passes.
type blockEditor struct {
	c          *Cache
	page, res  int
	r          *raster.Resolution
	mode       raster.EditMode
	sequential bool

	cache raster.Editor

	// source editor, opened on first use
	src  raster.Editor
	next uint64
	tmp  []byte
}

func (e *blockEditor) Resolution() *raster.Resolution {
	return e.r
}

func (e *blockEditor) checkID(id uint64) error {
	if id >= e.r.BlockCount() {
		return errors.Errorf("block %d out of range (%d blocks)", id, e.r.BlockCount())
	}
	return nil
}

func (e *blockEditor) source() (raster.Editor, error) {
	if e.src != nil {
		return e.src, nil
	}

	src, err := e.c.src.NewEditor(e.page, e.res, raster.ReadOnly)
	if err != nil {
		return nil, err
	}

	e.src, e.next = src, 0
	return src, nil
}

func (e *blockEditor) closeSource() error {
	if e.src == nil {
		return nil
	}

	err := e.src.Close()
	e.src = nil
	return err
}

func (e *blockEditor) ReadBlock(ctx context.Context, id uint64, buf []byte) error {
	if err := e.checkID(id); err != nil {
		return err
	}

	if e.c.flag(e.r, id) != raster.Empty {
		return e.cache.ReadBlock(ctx, id, buf)
	}

	if uint64(len(buf)) < e.r.BlockSize() {
		return errors.Errorf("buffer too small for block %d", id)
	}

	// nothing to fetch from a source being created
	if e.c.orig.Creating() {
		clear(buf[:e.r.BlockSize()])
		return nil
	}

	if e.sequential {
		return e.stream(ctx, id, buf)
	}
	return e.fetch(ctx, id, buf)
}

// fetch loads block id from the source into the cache.
func (e *blockEditor) fetch(ctx context.Context, id uint64, buf []byte) error {
	src, err := e.source()
	if err != nil {
		return err
	}

	data := buf[:e.r.BlockSize()]
	if err := src.ReadBlock(ctx, id, data); err != nil {
		return err
	}

	if err := e.cache.WriteBlock(ctx, id, data); err != nil {
		return err
	}

	e.c.setFlag(e.r, id, raster.Loaded)
	debug.Log("page %d resolution %d: fetched block %d", e.page, e.res, id)
	return nil
}

// stream reads the source in raster order up to block id, storing every
// Empty block passed on the way. Requesting a block before the current
// position restarts with a new source editor.
func (e *blockEditor) stream(ctx context.Context, id uint64, buf []byte) error {
	if e.src != nil && id < e.next {
		debug.Log("page %d resolution %d: restart streaming for block %d", e.page, e.res, id)
		if err := e.closeSource(); err != nil {
			return err
		}
	}

	src, err := e.source()
	if err != nil {
		return err
	}

	if e.tmp == nil {
		e.tmp = make([]byte, e.r.BlockSize())
	}

	for ; e.next <= id; e.next++ {
		if err := src.ReadBlock(ctx, e.next, e.tmp); err != nil {
			return err
		}

		if e.c.flag(e.r, e.next) != raster.Empty {
			continue
		}

		if err := e.cache.WriteBlock(ctx, e.next, e.tmp); err != nil {
			return err
		}
		e.c.setFlag(e.r, e.next, raster.Loaded)
	}

	copy(buf, e.tmp)
	return nil
}

func (e *blockEditor) WriteBlock(ctx context.Context, id uint64, data []byte) error {
	if !e.mode.Writable() {
		return raster.ErrReadOnly
	}

	if err := e.checkID(id); err != nil {
		return err
	}

	if err := e.cache.WriteBlock(ctx, id, data); err != nil {
		return err
	}

	e.c.setFlag(e.r, id, raster.Overwritten)
	return nil
}

func (e *blockEditor) Close() error {
	return errors.Join(e.closeSource(), e.cache.Close())
}
