package rastercache

import (
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// NeedCacheFor reports whether caching src is useful, i.e. whether any
// resolution stored in blocks smaller than the image can only be read or
// written sequentially.
func NeedCacheFor(src raster.Source) bool {
	for page := 0; page < src.PageCount(); page++ {
		for _, r := range src.Page(page).Resolutions {
			if r.Shape == raster.Image {
				continue
			}

			if r.ReaderAccess == raster.Sequential || r.WriterAccess == raster.Sequential {
				return true
			}
		}
	}

	return false
}

// buildDescriptors returns the cache descriptors for page of src. A page
// which does not need caching is returned without resolutions.
func buildDescriptors(src raster.Source, creator raster.StoreCreator, cfg Config, ephemeral, singlePage bool, page int) *raster.Page {
	sp := src.Page(page)

	n := min(len(sp.Resolutions), max(cfg.MaxResolutions, 1))
	if n > 1 && sp.Resolutions[0].PixelType == raster.OneBit &&
		!ephemeral && !cfg.AllowOneBitMultiRes && !src.Capabilities().LookAhead {
		n = 1
	}

	mustCache := singlePage || src.PageCount() == 1
	resolutions := make([]*raster.Resolution, 0, n)
	for i, r := range sp.Resolutions[:n] {
		err := r.Validate()
		errors.Precondition(err == nil, "page %d resolution %d: %v", page, i, err)

		d := &raster.Resolution{
			Width: r.Width, Height: r.Height,
			BlockWidth: r.BlockWidth, BlockHeight: r.BlockHeight,
			Shape:        r.Shape,
			PixelType:    r.PixelType,
			ReaderAccess: raster.Random,
			WriterAccess: raster.Random,
			Codec:        creator.CodecFor(r.PixelType),
			Quality:      min(creator.QualityFor(r.PixelType), creator.CompressionSteps(r.PixelType)),
		}

		switch r.Shape {
		case raster.Line:
			d.Shape = raster.Strip
			d.BlockHeight = 1
			mustCache = true
		case raster.Image:
			d.Shape = raster.Strip
			d.BlockHeight = r.Height
			mustCache = true
		}

		err = d.Validate()
		errors.Precondition(err == nil, "page %d resolution %d: cache geometry: %v", page, i, err)

		d.Flags = raster.NewBlockFlags(d.BlockCount())
		resolutions = append(resolutions, d)
	}

	p := raster.NewPage()
	for kind, attr := range sp.Attributes {
		p.Attributes[kind] = &raster.Attribute{Value: append([]byte(nil), attr.Value...)}
	}

	if !mustCache {
		debug.Log("page %d of %v is not cached", page, src.Name())
		return p
	}

	p.Resolutions = resolutions
	debug.Log("page %d of %v: caching %d of %d resolutions", page, src.Name(), n, len(sp.Resolutions))
	return p
}
