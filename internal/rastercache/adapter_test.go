package rastercache

import (
	"context"
	"testing"

	"github.com/rastercache/rastercache/internal/raster"
	"github.com/rastercache/rastercache/internal/source/mem"
	rtest "github.com/rastercache/rastercache/internal/test"
)

// 10 rows of 8 bytes in strips of 4 rows, presented as strips of 3 rows.
func newTestAdapter(t testing.TB) (*mem.Source, *geometryAdapter) {
	src := mem.New("strips", raster.NewPage(resolution(raster.Strip, 8, 10, 8, 4, raster.Random)))

	target := resolution(raster.Strip, 8, 10, 8, 3, raster.Random)
	return src, newGeometryAdapter(src, map[pageRes]*raster.Resolution{{0, 0}: target})
}

// image returns the rows of the resolution as stored in src.
func image(src *mem.Source) []byte {
	r := src.Page(0).Resolution(0)

	var img []byte
	for id := uint64(0); id < r.BlockCount(); id++ {
		y0, y1 := rows(r, id)
		img = append(img, src.Block(0, 0, id)[:(y1-y0)*r.RowBytes()]...)
	}
	return img
}

func TestAdapterDescriptor(t *testing.T) {
	src, a := newTestAdapter(t)

	r := a.Page(0).Resolution(0)
	rtest.Equals(t, uint64(3), r.BlockHeight)
	rtest.Equals(t, uint64(4), r.BlockCount())
	rtest.Equals(t, uint64(4), src.Page(0).Resolution(0).BlockHeight)
}

func TestAdapterRead(t *testing.T) {
	src, a := newTestAdapter(t)
	img := image(src)

	ed, err := a.NewEditor(0, 0, raster.ReadOnly)
	rtest.OK(t, err)
	defer func() { rtest.OK(t, ed.Close()) }()

	for id := uint64(0); id < 4; id++ {
		want := make([]byte, 24)
		copy(want, img[id*24:min((id+1)*24, uint64(len(img)))])
		rtest.EqualBytes(t, want, readBlock(t, ed, id))
	}

	// every source block was read once
	for sid := uint64(0); sid < 3; sid++ {
		rtest.Equals(t, 1, src.Reads(0, 0, sid))
	}
}

func TestAdapterWriteAll(t *testing.T) {
	src, a := newTestAdapter(t)

	ed, err := a.NewEditor(0, 0, raster.ReadWrite)
	rtest.OK(t, err)

	data := rtest.Random(1, 4*24)
	for id := uint64(0); id < 4; id++ {
		rtest.OK(t, ed.WriteBlock(context.TODO(), id, data[id*24:(id+1)*24]))
	}
	rtest.Equals(t, []uint64{0, 1, 2}, src.Writes(0, 0))
	rtest.OK(t, ed.Close())

	rtest.EqualBytes(t, data[:80], image(src))
}

func TestAdapterPartialWrite(t *testing.T) {
	src, a := newTestAdapter(t)
	before := image(src)

	ed, err := a.NewEditor(0, 0, raster.ReadWrite)
	rtest.OK(t, err)

	// rows 3..5 span source blocks 0 and 1
	data := rtest.Random(2, 24)
	rtest.OK(t, ed.WriteBlock(context.TODO(), 1, data))
	rtest.Equals(t, 0, len(src.Writes(0, 0)))

	rtest.OK(t, ed.Close())
	rtest.Equals(t, []uint64{0, 1}, src.Writes(0, 0))

	want := append([]byte(nil), before...)
	copy(want[24:48], data)
	rtest.EqualBytes(t, want, image(src))
}

func TestAdapterLookAhead(t *testing.T) {
	src, a := newTestAdapter(t)
	src.EnableLookAhead()

	rtest.OK(t, a.LookAhead(context.TODO(), 0, blockIDs(0, 1, 3), 1, true))
	rtest.Equals(t, blockIDs(0, 0, 1, 2), src.LookAheads()[0].IDs)
}

type arrivalRecorder struct {
	ids []raster.BlockID
}

func (r *arrivalRecorder) TileArrived(_ int, id raster.BlockID) {
	r.ids = append(r.ids, id)
}

func TestAdapterTileArrived(t *testing.T) {
	src, a := newTestAdapter(t)
	src.EnableLookAhead()

	rec := &arrivalRecorder{}
	a.AddTileListener(rec)

	// source rows 4..7 are adapted rows in blocks 1 and 2
	src.Deliver(0, raster.BlockID{Index: 1})
	rtest.Equals(t, blockIDs(0, 1, 2), rec.ids)

	// source rows 8..9 are in block 2 and 3
	src.Deliver(0, raster.BlockID{Index: 2})
	rtest.Equals(t, blockIDs(0, 1, 2, 2, 3), rec.ids)

	a.RemoveTileListener(rec)
	src.Deliver(0, raster.BlockID{Index: 0})
	rtest.Equals(t, 5, len(rec.ids))
}

func TestAdapterRequiresFullWidthBlocks(t *testing.T) {
	src := mem.New("tiles", tilePage(raster.Random))
	target := resolution(raster.Strip, 80, 40, 80, 8, raster.Random)

	rtest.AssertPanic(t, func() {
		newGeometryAdapter(src, map[pageRes]*raster.Resolution{{0, 0}: target})
	})
}
