package raster

import (
	"testing"

	rtest "github.com/rastercache/rastercache/internal/test"
)

func TestResolutionGeometry(t *testing.T) {
	r := &Resolution{
		Width: 1000, Height: 500,
		BlockWidth: 256, BlockHeight: 256,
		Shape:     Tile,
		PixelType: RGB24,
	}
	rtest.OK(t, r.Validate())

	rtest.Equals(t, uint64(4), r.BlocksPerRow())
	rtest.Equals(t, uint64(2), r.BlocksPerColumn())
	rtest.Equals(t, uint64(8), r.BlockCount())
	rtest.Equals(t, uint64(256*3), r.RowBytes())
	rtest.Equals(t, uint64(256*256*3), r.BlockSize())

	rtest.Equals(t, Rect{X0: 768, Y0: 256, X1: 1000, Y1: 500}, r.BlockRect(7))
	rtest.Equals(t, Rect{X0: 256, Y0: 0, X1: 512, Y1: 256}, r.BlockRect(1))
}

func TestResolutionOneBitRowBytes(t *testing.T) {
	r := &Resolution{Width: 13, Height: 4, BlockWidth: 13, BlockHeight: 1, Shape: Strip, PixelType: OneBit}
	rtest.Equals(t, uint64(2), r.RowBytes())
	rtest.Equals(t, uint64(4), r.BlockCount())
}

func TestResolutionBlocksIn(t *testing.T) {
	r := &Resolution{Width: 1000, Height: 500, BlockWidth: 256, BlockHeight: 256, Shape: Tile, PixelType: Gray8}

	rtest.Equals(t, []uint64{1, 2, 5, 6}, r.BlocksIn(Rect{X0: 300, Y0: 100, X1: 600, Y1: 300}))
	rtest.Equals(t, []uint64{0}, r.BlocksIn(Rect{X0: 0, Y0: 0, X1: 1, Y1: 1}))
	rtest.Equals(t, []uint64{7}, r.BlocksIn(Rect{X0: 900, Y0: 400, X1: 5000, Y1: 5000}))
	rtest.Assert(t, r.BlocksIn(Rect{X0: 2000, Y0: 0, X1: 3000, Y1: 10}) == nil, "expected no blocks outside the image")
}

func TestResolutionValidate(t *testing.T) {
	for _, r := range []*Resolution{
		{Width: 0, Height: 10, BlockWidth: 1, BlockHeight: 1, PixelType: Gray8},
		{Width: 10, Height: 10, BlockWidth: 0, BlockHeight: 1, PixelType: Gray8},
		{Width: 10, Height: 10, BlockWidth: 1, BlockHeight: 1},
	} {
		rtest.Assert(t, r.Validate() != nil, "invalid resolution %v accepted", r)
	}
}

func TestResolutionClone(t *testing.T) {
	r := &Resolution{Width: 10, Height: 10, BlockWidth: 5, BlockHeight: 5, Shape: Tile, PixelType: Gray8, Flags: NewBlockFlags(4)}
	c := r.Clone()
	c.Flags.Set(0, Overwritten)

	rtest.Equals(t, Empty, r.Flags.Get(0))
	rtest.Assert(t, r.SameGeometry(c), "clone has different geometry")
}

func TestRectIntersect(t *testing.T) {
	a := Rect{X0: 0, Y0: 0, X1: 10, Y1: 10}
	rtest.Equals(t, Rect{X0: 5, Y0: 5, X1: 10, Y1: 10}, a.Intersect(Rect{X0: 5, Y0: 5, X1: 20, Y1: 20}))
	rtest.Assert(t, a.Intersect(Rect{X0: 10, Y0: 0, X1: 20, Y1: 10}).Empty(), "touching rects must not intersect")
}
