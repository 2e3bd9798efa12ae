package raster

import (
	"testing"

	"github.com/rastercache/rastercache/internal/errors"
	rtest "github.com/rastercache/rastercache/internal/test"
)

func TestBlockFlagsStartEmpty(t *testing.T) {
	f := NewBlockFlags(100)
	rtest.Equals(t, uint64(100), f.Len())
	rtest.Equals(t, uint64(100), f.Count(Empty))

	f.Set(3, Loaded)
	f.Set(7, Overwritten)
	rtest.Equals(t, Loaded, f.Get(3))
	rtest.Equals(t, uint64(98), f.Count(Empty))

	f.Reset()
	rtest.Equals(t, uint64(100), f.Count(Empty))
}

func TestBlockFlagsGrow(t *testing.T) {
	f := NewBlockFlags(4)
	f.Set(1, Overwritten)

	f.Grow(10)
	rtest.Equals(t, uint64(10), f.Len())
	rtest.Equals(t, Overwritten, f.Get(1))
	rtest.Equals(t, Empty, f.Get(9))

	// shrinking is ignored
	f.Grow(2)
	rtest.Equals(t, uint64(10), f.Len())
}

func TestBlockFlagsEach(t *testing.T) {
	f := NewBlockFlags(8)
	for _, id := range []uint64{6, 2, 4} {
		f.Set(id, Overwritten)
	}

	var ids []uint64
	rtest.OK(t, f.Each(Overwritten, func(id uint64) error {
		ids = append(ids, id)
		return nil
	}))
	rtest.Equals(t, []uint64{2, 4, 6}, ids)

	stop := errors.New("stop")
	n := 0
	err := f.Each(Overwritten, func(uint64) error {
		n++
		return stop
	})
	rtest.Assert(t, err == stop, "unexpected error %v", err)
	rtest.Equals(t, 1, n)
}

func TestBlockFlagsBytes(t *testing.T) {
	f := NewBlockFlags(5)
	f.Set(0, Loaded)
	f.Set(4, Overwritten)

	g, err := BlockFlagsFromBytes(f.Bytes())
	rtest.OK(t, err)
	rtest.Equals(t, f, g)

	_, err = BlockFlagsFromBytes([]byte{0, 1, 9})
	rtest.Assert(t, err != nil, "invalid flag byte accepted")
}

func TestBlockFlagsOverflow(t *testing.T) {
	r := rtest.AssertPanic(t, func() {
		NewBlockFlags(MaxBlocks + 1)
	})
	rtest.Assert(t, errors.IsPrecondition(r), "unexpected panic value %v", r)

	r = rtest.AssertPanic(t, func() {
		NewBlockFlags(2).Get(2)
	})
	rtest.Assert(t, errors.IsPrecondition(r), "unexpected panic value %v", r)
}

func TestResolutionOverflow(t *testing.T) {
	for _, r := range []*Resolution{
		// 2^33 * 2^31 blocks wraps around to zero
		{Width: 1 << 33, Height: 1 << 31, BlockWidth: 1, BlockHeight: 1, Shape: Tile, PixelType: Gray8},
		// 2^62 pixels of 32 bits per block row
		{Width: 1 << 62, Height: 1, BlockWidth: 1 << 62, BlockHeight: 1, Shape: Strip, PixelType: RGBA32},
		// row bytes times block height
		{Width: 1 << 32, Height: 1 << 40, BlockWidth: 1 << 32, BlockHeight: 1 << 40, Shape: Tile, PixelType: Gray8},
	} {
		rtest.Assert(t, r.Validate() != nil, "overflowing resolution %v accepted", r)
	}

	r := rtest.AssertPanic(t, func() {
		res := &Resolution{Width: 1 << 33, Height: 1 << 31, BlockWidth: 1, BlockHeight: 1, PixelType: Gray8}
		NewBlockFlags(res.BlockCount())
	})
	rtest.Assert(t, errors.IsPrecondition(r), "unexpected panic value %v", r)

	r = rtest.AssertPanic(t, func() {
		res := &Resolution{Width: 1 << 62, Height: 1, BlockWidth: 1 << 62, BlockHeight: 1, PixelType: RGBA32}
		_ = res.BlockSize()
	})
	rtest.Assert(t, errors.IsPrecondition(r), "unexpected panic value %v", r)

	// too many blocks without overflowing
	big := &Resolution{Width: 1 << 20, Height: 1 << 20, BlockWidth: 1, BlockHeight: 1, PixelType: Gray8}
	rtest.Equals(t, uint64(1<<40), big.BlockCount())
	rtest.Assert(t, big.Validate() != nil, "resolution with %d blocks accepted", big.BlockCount())
}
