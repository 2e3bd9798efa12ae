package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rastercache/rastercache/internal/raster"
	rtest "github.com/rastercache/rastercache/internal/test"
)

type testSource struct {
	name  string
	mtime time.Time
}

func (s testSource) Name() string                      { return s.name }
func (s testSource) PageCount() int                    { return 1 }
func (s testSource) Page(int) *raster.Page             { return raster.NewPage() }
func (s testSource) Capabilities() raster.Capabilities { return raster.Capabilities{} }
func (s testSource) Save(context.Context) error        { return nil }
func (s testSource) ModTime() time.Time                { return s.mtime }
func (s testSource) Creating() bool                    { return false }

func (s testSource) NewEditor(int, int, raster.EditMode) (raster.Editor, error) {
	return nil, raster.ErrNotSupported
}

func newTestCreator(t testing.TB) *Creator {
	cfg := NewConfig()
	cfg.Dir = filepath.Join(rtest.TempDir(t), "cache")

	c, err := NewCreator(cfg)
	rtest.OK(t, err)
	return c
}

func TestCreatorCachedirTag(t *testing.T) {
	c := newTestCreator(t)

	buf, err := os.ReadFile(filepath.Join(c.BaseDir(), "CACHEDIR.TAG"))
	rtest.OK(t, err)
	rtest.Equals(t, cachedirTagSignature, string(buf))

	// a second creator for the same directory keeps the tag
	_, err = NewCreator(c.cfg)
	rtest.OK(t, err)
}

func TestCreatorInvalidCodec(t *testing.T) {
	cfg := NewConfig()
	cfg.Dir = rtest.TempDir(t)
	cfg.CodecGray8 = "lzw"

	_, err := NewCreator(cfg)
	rtest.Assert(t, err != nil, "invalid codec accepted")
}

func TestStoreName(t *testing.T) {
	src := testSource{name: "/data/scan.tif"}

	all := StoreName(src, raster.AllPages)
	rtest.Assert(t, validStoreName(all), "invalid name %q", all)
	rtest.Equals(t, all+"-p3", StoreName(src, 3))
	rtest.Assert(t, all != StoreName(testSource{name: "/data/other.tif"}, raster.AllPages), "names collide")
}

func TestCreatorReusesStore(t *testing.T) {
	c := newTestCreator(t)
	src := testSource{name: "a.tif", mtime: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)}

	st, err := c.CacheFileFor(src, raster.AllPages)
	rtest.OK(t, err)
	rtest.OK(t, st.AddPage(raster.NewPage()))
	rtest.OK(t, st.Flush())
	rtest.OK(t, st.SetModTime(src.ModTime()))
	rtest.OK(t, st.Close())

	st, err = c.CacheFileFor(src, raster.AllPages)
	rtest.OK(t, err)
	rtest.Equals(t, 1, st.PageCount())
}

func TestCreatorDiscardsStaleStore(t *testing.T) {
	c := newTestCreator(t)
	src := testSource{name: "a.tif", mtime: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)}

	st, err := c.CacheFileFor(src, 0)
	rtest.OK(t, err)
	rtest.OK(t, st.AddPage(raster.NewPage()))
	rtest.OK(t, st.Flush())
	rtest.OK(t, st.SetModTime(src.ModTime()))
	rtest.OK(t, st.Close())

	src.mtime = src.mtime.Add(time.Hour)
	st, err = c.CacheFileFor(src, 0)
	rtest.OK(t, err)
	rtest.Equals(t, 0, st.PageCount())
}

func TestCreatorCodecs(t *testing.T) {
	c := newTestCreator(t)

	rtest.Equals(t, raster.CodecDeflate, c.CodecFor(raster.OneBit))
	rtest.Equals(t, raster.CodecZstd, c.CodecFor(raster.RGB24))
	rtest.Equals(t, 9, c.CompressionSteps(raster.OneBit))
	rtest.Equals(t, 6, c.QualityFor(raster.OneBit))

	c.cfg.Quality = 100
	rtest.Equals(t, c.CompressionSteps(raster.Gray8), c.QualityFor(raster.Gray8))
}
