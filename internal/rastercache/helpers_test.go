package rastercache

import (
	"context"
	"testing"

	"github.com/rastercache/rastercache/internal/raster"
	"github.com/rastercache/rastercache/internal/store"
	rtest "github.com/rastercache/rastercache/internal/test"
)

func newTestCreator(t testing.TB) *store.Creator {
	cfg := store.NewConfig()
	cfg.Dir = rtest.TempDir(t)

	c, err := store.NewCreator(cfg)
	rtest.OK(t, err)
	return c
}

func resolution(shape raster.BlockShape, w, h, bw, bh uint64, access raster.AccessMode) *raster.Resolution {
	return &raster.Resolution{
		Width: w, Height: h,
		BlockWidth: bw, BlockHeight: bh,
		Shape:        shape,
		PixelType:    raster.Gray8,
		ReaderAccess: access,
		WriterAccess: access,
	}
}

// stripPage has 5 strips of 8 rows.
func stripPage(access raster.AccessMode) *raster.Page {
	return raster.NewPage(resolution(raster.Strip, 64, 40, 64, 8, access))
}

// tilePage has a full resolution of 3x2 tiles and a half resolution.
func tilePage(access raster.AccessMode) *raster.Page {
	return raster.NewPage(
		resolution(raster.Tile, 80, 40, 32, 32, access),
		resolution(raster.Tile, 40, 20, 32, 32, access),
	)
}

func newTestCache(t testing.TB, src raster.Source, sel PageSelector) *Cache {
	c, err := New(src, newTestCreator(t), DefaultConfig(), false, sel)
	rtest.OK(t, err)
	return c
}

func openEditor(t testing.TB, c *Cache, page, res int, mode raster.EditMode) raster.Editor {
	ed, err := c.NewEditor(page, res, mode)
	rtest.OK(t, err)
	t.Cleanup(func() { _ = ed.Close() })
	return ed
}

func readBlock(t testing.TB, ed raster.Editor, id uint64) []byte {
	buf := make([]byte, ed.Resolution().BlockSize())
	rtest.OK(t, ed.ReadBlock(context.TODO(), id, buf))
	return buf
}

func assertFlags(t testing.TB, flags *raster.BlockFlags, want ...raster.Flag) {
	t.Helper()

	got := make([]raster.Flag, flags.Len())
	for i := range got {
		got[i] = flags.Get(uint64(i))
	}
	rtest.Equals(t, want, got)
}

func repeat(f raster.Flag, n int) []raster.Flag {
	flags := make([]raster.Flag, n)
	for i := range flags {
		flags[i] = f
	}
	return flags
}
