package rastercache

import (
	"testing"

	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/feature"
	"github.com/rastercache/rastercache/internal/raster"
	"github.com/rastercache/rastercache/internal/source/mem"
	rtest "github.com/rastercache/rastercache/internal/test"
)

func TestNeedCacheFor(t *testing.T) {
	var tests = []struct {
		name string
		page *raster.Page
		want bool
	}{
		{"random-tiles", raster.NewPage(resolution(raster.Tile, 64, 64, 32, 32, raster.Random)), false},
		{"random-strips", stripPage(raster.Random), false},
		{"sequential-strips", stripPage(raster.Sequential), true},
		{"sequential-lines", raster.NewPage(resolution(raster.Line, 64, 8, 64, 1, raster.Sequential)), true},
		{"sequential-image", raster.NewPage(resolution(raster.Image, 64, 8, 64, 8, raster.Sequential)), false},
		{"sequential-writer", func() *raster.Page {
			p := tilePage(raster.Random)
			p.Resolutions[1].WriterAccess = raster.Sequential
			return p
		}(), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rtest.Equals(t, test.want, NeedCacheFor(mem.New(test.name, test.page)))
		})
	}
}

func TestNeedCacheForLaterPage(t *testing.T) {
	src := mem.New("multi", tilePage(raster.Random), stripPage(raster.Sequential))
	rtest.Assert(t, NeedCacheFor(src), "sequential second page not detected")
}

func TestBuildDescriptors(t *testing.T) {
	creator := newTestCreator(t)
	src := mem.New("tiles", tilePage(raster.Sequential))

	p := buildDescriptors(src, creator, DefaultConfig(), false, false, 0)
	rtest.Equals(t, 2, len(p.Resolutions))

	for i, r := range p.Resolutions {
		s := src.Page(0).Resolution(i)
		rtest.Equals(t, s.Width, r.Width)
		rtest.Equals(t, s.BlockHeight, r.BlockHeight)
		rtest.Equals(t, raster.Tile, r.Shape)
		rtest.Equals(t, raster.Random, r.ReaderAccess)
		rtest.Equals(t, raster.Random, r.WriterAccess)
		rtest.Equals(t, creator.CodecFor(raster.Gray8), r.Codec)
		rtest.Equals(t, creator.QualityFor(raster.Gray8), r.Quality)
		rtest.Equals(t, r.BlockCount(), r.Flags.Len())
		rtest.Equals(t, r.BlockCount(), r.Flags.Count(raster.Empty))
	}
}

func TestBuildDescriptorsLine(t *testing.T) {
	creator := newTestCreator(t)

	// two pages, all pages cached: only the line shape forces caching
	lines := raster.NewPage(resolution(raster.Line, 64, 10, 64, 1, raster.Sequential))
	src := mem.New("lines", lines, lines)

	p := buildDescriptors(src, creator, DefaultConfig(), false, false, 1)
	rtest.Equals(t, 1, len(p.Resolutions))

	r := p.Resolutions[0]
	rtest.Equals(t, raster.Strip, r.Shape)
	rtest.Equals(t, uint64(1), r.BlockHeight)
	rtest.Equals(t, uint64(10), r.BlockCount())
}

func TestBuildDescriptorsImage(t *testing.T) {
	creator := newTestCreator(t)

	img := raster.NewPage(resolution(raster.Image, 64, 10, 64, 16, raster.Random))
	src := mem.New("image", img, img)

	p := buildDescriptors(src, creator, DefaultConfig(), false, false, 0)
	rtest.Equals(t, 1, len(p.Resolutions))

	r := p.Resolutions[0]
	rtest.Equals(t, raster.Strip, r.Shape)
	rtest.Equals(t, uint64(10), r.BlockHeight)
	rtest.Equals(t, uint64(1), r.BlockCount())
}

func TestBuildDescriptorsMustCache(t *testing.T) {
	creator := newTestCreator(t)
	src := mem.New("tiles", tilePage(raster.Random), tilePage(raster.Random))

	p := buildDescriptors(src, creator, DefaultConfig(), false, false, 1)
	rtest.Equals(t, 0, len(p.Resolutions))

	p = buildDescriptors(src, creator, DefaultConfig(), false, true, 1)
	rtest.Equals(t, 2, len(p.Resolutions))

	single := mem.New("single", tilePage(raster.Random))
	p = buildDescriptors(single, creator, DefaultConfig(), false, false, 0)
	rtest.Equals(t, 2, len(p.Resolutions))
}

func TestBuildDescriptorsOneBit(t *testing.T) {
	creator := newTestCreator(t)

	newSource := func() *mem.Source {
		p := tilePage(raster.Sequential)
		for _, r := range p.Resolutions {
			r.PixelType = raster.OneBit
		}
		return mem.New("onebit", p)
	}

	cfg := Config{MaxResolutions: DefaultMaxResolutions}

	p := buildDescriptors(newSource(), creator, cfg, false, true, 0)
	rtest.Equals(t, 1, len(p.Resolutions))

	p = buildDescriptors(newSource(), creator, cfg, true, true, 0)
	rtest.Equals(t, 2, len(p.Resolutions))

	src := newSource()
	src.EnableLookAhead()
	p = buildDescriptors(src, creator, cfg, false, true, 0)
	rtest.Equals(t, 2, len(p.Resolutions))

	cfg.AllowOneBitMultiRes = true
	p = buildDescriptors(newSource(), creator, cfg, false, true, 0)
	rtest.Equals(t, 2, len(p.Resolutions))
	rtest.Equals(t, raster.CodecDeflate, p.Resolutions[1].Codec)
}

func TestBuildDescriptorsMaxResolutions(t *testing.T) {
	creator := newTestCreator(t)
	src := mem.New("tiles", tilePage(raster.Sequential))

	p := buildDescriptors(src, creator, Config{MaxResolutions: 1}, false, true, 0)
	rtest.Equals(t, 1, len(p.Resolutions))
}

func TestBuildDescriptorsAttributes(t *testing.T) {
	creator := newTestCreator(t)
	page := stripPage(raster.Sequential)
	page.Attributes.Set(raster.Palette, []byte{1, 2, 3})
	src := mem.New("attr", page)

	p := buildDescriptors(src, creator, DefaultConfig(), false, true, 0)
	v, ok := p.Attributes.Get(raster.Palette)
	rtest.Assert(t, ok, "palette not copied")
	rtest.EqualBytes(t, []byte{1, 2, 3}, v)
	rtest.Equals(t, 0, len(p.Attributes.Changed()))
}

func TestDefaultConfigFeatureFlag(t *testing.T) {
	rtest.Equals(t, DefaultMaxResolutions, DefaultConfig().MaxResolutions)
	rtest.Assert(t, !DefaultConfig().AllowOneBitMultiRes, "alpha feature enabled by default")

	feature.TestSetFlag(t, feature.Flag, feature.OneBitMultiResCache, true)
	rtest.Assert(t, DefaultConfig().AllowOneBitMultiRes, "feature flag not picked up")
}

func TestBuildDescriptorsRejectsOverflow(t *testing.T) {
	// 2^33 by 2^31 single pixel blocks overflow the block count
	r := resolution(raster.Line, 1<<33, 1<<31, 1, 1, raster.Sequential)
	src := mem.New("huge", raster.NewPage(r))

	v := rtest.AssertPanic(t, func() {
		buildDescriptors(src, newTestCreator(t), DefaultConfig(), false, true, 0)
	})
	rtest.Assert(t, errors.IsPrecondition(v), "unexpected panic value %v", v)
}
