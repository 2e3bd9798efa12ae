package rastercache

import (
	"context"
	"slices"
	"sync"

	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

type pageRes struct {
	page, res int
}

// geometryAdapter presents resolutions of a source with the block geometry
// chosen for the cache. Only full-width blocks can be regrouped: a block of
// the adapted geometry is a band of rows which may span several source
// blocks and vice versa.
type geometryAdapter struct {
	raster.Source

	targets map[pageRes]*raster.Resolution
	pages   map[int]*raster.Page

	mu        sync.Mutex
	listeners map[raster.TileListener]*adaptedListener
}

// newGeometryAdapter wraps src, presenting the resolutions in targets with
// their geometry. The access modes of the source are kept.
func newGeometryAdapter(src raster.Source, targets map[pageRes]*raster.Resolution) *geometryAdapter {
	a := &geometryAdapter{
		Source:    src,
		targets:   make(map[pageRes]*raster.Resolution, len(targets)),
		pages:     make(map[int]*raster.Page),
		listeners: make(map[raster.TileListener]*adaptedListener),
	}

	for k, t := range targets {
		s := src.Page(k.page).Resolution(k.res)
		errors.Precondition(s.BlocksPerRow() == 1 && t.BlocksPerRow() == 1 && s.RowBytes() == t.RowBytes(),
			"cannot adapt %v to %v, only full-width blocks can be regrouped", s, t)

		d := s.Clone()
		d.Shape = t.Shape
		d.BlockWidth, d.BlockHeight = t.BlockWidth, t.BlockHeight
		d.Flags = nil
		a.targets[k] = d

		p, ok := a.pages[k.page]
		if !ok {
			p = src.Page(k.page).Clone()
			a.pages[k.page] = p
		}
		p.Resolutions[k.res] = d

		debug.Log("adapting page %d resolution %d from %v to %v", k.page, k.res, s, d)
	}

	return a
}

func (a *geometryAdapter) target(page, res int) (*raster.Resolution, bool) {
	t, ok := a.targets[pageRes{page, res}]
	return t, ok
}

// Page returns the descriptor of page with adapted resolutions.
func (a *geometryAdapter) Page(page int) *raster.Page {
	if p, ok := a.pages[page]; ok {
		return p
	}
	return a.Source.Page(page)
}

// NewEditor returns an editor of the source, translating blocks for adapted
// resolutions.
func (a *geometryAdapter) NewEditor(page, res int, mode raster.EditMode) (raster.Editor, error) {
	ed, err := a.Source.NewEditor(page, res, mode)
	if err != nil {
		return nil, err
	}

	t, ok := a.target(page, res)
	if !ok {
		return ed, nil
	}

	return &adaptedEditor{
		inner:   ed,
		src:     a.Source.Page(page).Resolution(res),
		dst:     t,
		pending: make(map[uint64]*partialBlock),
	}, nil
}

// rows returns the image rows covered by block id.
func rows(r *raster.Resolution, id uint64) (y0, y1 uint64) {
	y0 = id * r.BlockHeight
	return y0, min(y0+r.BlockHeight, r.Height)
}

// sourceBlocks returns the range [first, last] of blocks of src covering the
// rows of block id of dst.
func sourceBlocks(src, dst *raster.Resolution, id uint64) (first, last uint64) {
	y0, y1 := rows(dst, id)
	return y0 / src.BlockHeight, (y1 - 1) / src.BlockHeight
}

// LookAhead forwards the request, replacing adapted block ids by the ids of
// the source blocks covering them.
func (a *geometryAdapter) LookAhead(ctx context.Context, page int, ids []raster.BlockID, consumer raster.ConsumerID, async bool) error {
	la, ok := a.Source.(raster.LookAheader)
	if !ok {
		return errors.Wrap(raster.ErrNotSupported, "LookAhead")
	}

	translated := make([]raster.BlockID, 0, len(ids))
	for _, id := range ids {
		t, ok := a.target(page, id.Resolution)
		if !ok {
			translated = append(translated, id)
			continue
		}

		s := a.Source.Page(page).Resolution(id.Resolution)
		first, last := sourceBlocks(s, t, id.Index)
		for sid := first; sid <= last; sid++ {
			bid := raster.BlockID{Resolution: id.Resolution, Index: sid}
			if !slices.Contains(translated, bid) {
				translated = append(translated, bid)
			}
		}
	}

	return la.LookAhead(ctx, page, translated, consumer, async)
}

type adaptedListener struct {
	a *geometryAdapter
	l raster.TileListener
}

// TileArrived reports every adapted block overlapping the arrived source
// block.
func (al *adaptedListener) TileArrived(page int, id raster.BlockID) {
	t, ok := al.a.target(page, id.Resolution)
	if !ok {
		al.l.TileArrived(page, id)
		return
	}

	s := al.a.Source.Page(page).Resolution(id.Resolution)
	sy0, sy1 := rows(s, id.Index)
	for cid := sy0 / t.BlockHeight; cid*t.BlockHeight < sy1 && cid < t.BlockCount(); cid++ {
		al.l.TileArrived(page, raster.BlockID{Resolution: id.Resolution, Index: cid})
	}
}

// AddTileListener registers l with the source.
func (a *geometryAdapter) AddTileListener(l raster.TileListener) {
	n, ok := a.Source.(raster.TileNotifier)
	if !ok {
		return
	}

	al := &adaptedListener{a: a, l: l}
	a.mu.Lock()
	a.listeners[l] = al
	a.mu.Unlock()

	n.AddTileListener(al)
}

// RemoveTileListener unregisters l from the source.
func (a *geometryAdapter) RemoveTileListener(l raster.TileListener) {
	n, ok := a.Source.(raster.TileNotifier)
	if !ok {
		return
	}

	a.mu.Lock()
	al, ok := a.listeners[l]
	delete(a.listeners, l)
	a.mu.Unlock()

	if ok {
		n.RemoveTileListener(al)
	}
}

// partialBlock is a source block assembled from several writes.
type partialBlock struct {
	data    []byte
	covered []bool
}

func (b *partialBlock) complete() bool {
	return !slices.Contains(b.covered, false)
}

// adaptedEditor translates between the block geometry dst and the native
// geometry src of a source editor. The last source block read is kept, so
// sequential sources are read only once when several blocks share a source
// block. Partially written source blocks are kept until complete or until
// the editor is closed.
type adaptedEditor struct {
	inner    raster.Editor
	src, dst *raster.Resolution

	last     []byte
	lastID   uint64
	haveLast bool

	pending map[uint64]*partialBlock
}

func (e *adaptedEditor) Resolution() *raster.Resolution {
	return e.dst
}

func (e *adaptedEditor) sourceBlock(ctx context.Context, sid uint64) ([]byte, error) {
	if e.haveLast && e.lastID == sid {
		return e.last, nil
	}

	if e.last == nil {
		e.last = make([]byte, e.src.BlockSize())
	}

	e.haveLast = false
	if err := e.inner.ReadBlock(ctx, sid, e.last); err != nil {
		return nil, err
	}

	e.lastID, e.haveLast = sid, true
	return e.last, nil
}

func (e *adaptedEditor) ReadBlock(ctx context.Context, id uint64, buf []byte) error {
	if id >= e.dst.BlockCount() {
		return errors.Errorf("block %d out of range (%d blocks)", id, e.dst.BlockCount())
	}

	size := e.dst.BlockSize()
	if uint64(len(buf)) < size {
		return errors.Errorf("buffer too small for block %d", id)
	}
	clear(buf[:size])

	rb := e.dst.RowBytes()
	y0, y1 := rows(e.dst, id)
	first, last := sourceBlocks(e.src, e.dst, id)
	for sid := first; sid <= last; sid++ {
		data, err := e.sourceBlock(ctx, sid)
		if err != nil {
			return err
		}

		sy0, sy1 := rows(e.src, sid)
		lo, hi := max(y0, sy0), min(y1, sy1)
		copy(buf[(lo-y0)*rb:(hi-y0)*rb], data[(lo-sy0)*rb:(hi-sy0)*rb])
	}

	return nil
}

func (e *adaptedEditor) WriteBlock(ctx context.Context, id uint64, data []byte) error {
	if id >= e.dst.BlockCount() {
		return errors.Errorf("block %d out of range (%d blocks)", id, e.dst.BlockCount())
	}

	if uint64(len(data)) != e.dst.BlockSize() {
		return errors.Errorf("block %d has %d bytes, want %d", id, len(data), e.dst.BlockSize())
	}

	rb := e.dst.RowBytes()
	y0, y1 := rows(e.dst, id)
	first, last := sourceBlocks(e.src, e.dst, id)
	for sid := first; sid <= last; sid++ {
		sy0, sy1 := rows(e.src, sid)
		lo, hi := max(y0, sy0), min(y1, sy1)

		b, ok := e.pending[sid]
		if !ok {
			var err error
			b, err = e.newPartialBlock(ctx, sid, lo == sy0 && hi == sy1)
			if err != nil {
				return err
			}
			e.pending[sid] = b
		}

		copy(b.data[(lo-sy0)*rb:(hi-sy0)*rb], data[(lo-y0)*rb:(hi-y0)*rb])
		for y := lo; y < hi; y++ {
			b.covered[y-sy0] = true
		}

		if !b.complete() {
			continue
		}

		if err := e.flush(ctx, sid, b); err != nil {
			return err
		}
	}

	return nil
}

// newPartialBlock starts assembling source block sid. Unless the block is
// overwritten completely, its current content is read from the source first.
func (e *adaptedEditor) newPartialBlock(ctx context.Context, sid uint64, whole bool) (*partialBlock, error) {
	sy0, sy1 := rows(e.src, sid)
	b := &partialBlock{
		data:    make([]byte, e.src.BlockSize()),
		covered: make([]bool, sy1-sy0),
	}

	if whole {
		return b, nil
	}

	data, err := e.sourceBlock(ctx, sid)
	switch {
	case errors.Is(err, raster.ErrBlockNotFound):
		// new block, start from zeroes
	case err != nil:
		return nil, err
	default:
		copy(b.data, data)
	}

	return b, nil
}

func (e *adaptedEditor) flush(ctx context.Context, sid uint64, b *partialBlock) error {
	if err := e.inner.WriteBlock(ctx, sid, b.data); err != nil {
		return err
	}

	delete(e.pending, sid)
	if e.haveLast && e.lastID == sid {
		copy(e.last, b.data)
	}
	return nil
}

// Close writes all incomplete source blocks in raster order and closes the
// source editor.
func (e *adaptedEditor) Close() error {
	ids := make([]uint64, 0, len(e.pending))
	for sid := range e.pending {
		ids = append(ids, sid)
	}
	slices.Sort(ids)

	var errs []error
	for _, sid := range ids {
		debug.Log("writing incomplete block %d", sid)
		if err := e.flush(context.Background(), sid, e.pending[sid]); err != nil {
			errs = append(errs, err)
			break
		}
	}

	errs = append(errs, e.inner.Close())
	return errors.Join(errs...)
}
