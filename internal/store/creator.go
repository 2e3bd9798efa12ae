package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/options"
	"github.com/rastercache/rastercache/internal/raster"
)

// Config configures the stores handed out by a Creator.
type Config struct {
	Dir string `option:"dir" help:"base directory for cache stores (default: $RASTERCACHE_CACHE_DIR or the OS cache directory)"`

	CodecOneBit string `option:"codec.onebit" help:"codec for 1 bit per pixel images (none, deflate, zstd)"`
	CodecGray8  string `option:"codec.gray8" help:"codec for 8 bit gray images"`
	CodecRGB24  string `option:"codec.rgb24" help:"codec for 24 bit RGB images"`
	CodecRGBA32 string `option:"codec.rgba32" help:"codec for 32 bit RGBA images"`

	Quality        int  `option:"quality" help:"compression step, 0 selects the codec default"`
	BlockCacheSize uint `option:"block-cache-size" help:"size in MiB of the in-memory cache of decoded blocks"`
}

// NewConfig returns the default configuration.
func NewConfig() Config {
	return Config{
		CodecOneBit:    string(raster.CodecDeflate),
		CodecGray8:     string(raster.CodecZstd),
		CodecRGB24:     string(raster.CodecZstd),
		CodecRGBA32:    string(raster.CodecZstd),
		BlockCacheSize: 16,
	}
}

func init() {
	options.Register("store", Config{})
}

// Creator hands out stores below a base directory and selects codecs.
type Creator struct {
	cfg  Config
	base string
}

// ensure Creator implements raster.StoreCreator
var _ raster.StoreCreator = &Creator{}

// NewCreator returns a Creator for cfg. The base directory is created and
// tagged as a cache directory.
func NewCreator(cfg Config) (*Creator, error) {
	for _, name := range []string{cfg.CodecOneBit, cfg.CodecGray8, cfg.CodecRGB24, cfg.CodecRGBA32} {
		if _, err := lookupCodec(raster.Codec(name)); err != nil {
			return nil, errors.Fatalf("invalid store configuration: %v", err)
		}
	}

	base := cfg.Dir
	if base == "" {
		var err error
		base, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}

	if err := writeCachedirTag(base); err != nil {
		return nil, err
	}

	return &Creator{cfg: cfg, base: base}, nil
}

// BaseDir returns the directory stores are created in.
func (c *Creator) BaseDir() string {
	return c.base
}

// StoreName returns the directory name of the store caching page of src.
func StoreName(src raster.Source, page int) string {
	name := fmt.Sprintf("%016x", xxhash.Sum64String(src.Name()))
	if page != raster.AllPages {
		name += fmt.Sprintf("-p%d", page)
	}
	return name
}

func (c *Creator) lruSize() int {
	return int(c.cfg.BlockCacheSize) << 20
}

// CacheFileFor returns the store caching page of src. An existing store is
// reused unless its modification time differs from the one of src, in which
// case it is considered stale and replaced by an empty store.
func (c *Creator) CacheFileFor(src raster.Source, page int) (raster.Store, error) {
	path := filepath.Join(c.base, StoreName(src, page))

	_, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Create(path, c.lruSize())
	}
	if err != nil {
		return nil, errors.Wrap(err, "Lstat")
	}

	s, err := Open(path, c.lruSize())
	if err != nil {
		debug.Log("unable to open store %v, recreating: %v", path, err)
		if err := os.RemoveAll(path); err != nil {
			return nil, errors.Wrap(err, "RemoveAll")
		}
		return Create(path, c.lruSize())
	}

	mtime, err := s.ModTime()
	if err != nil {
		return nil, err
	}

	if !mtime.Equal(src.ModTime()) {
		debug.Log("store %v is stale (%v != %v), recreating", path, mtime, src.ModTime())
		if err := s.Erase(); err != nil {
			return nil, err
		}
		return Create(path, c.lruSize())
	}

	return s, nil
}

// CodecFor returns the codec configured for pixel type pt.
func (c *Creator) CodecFor(pt raster.PixelType) raster.Codec {
	switch pt {
	case raster.OneBit:
		return raster.Codec(c.cfg.CodecOneBit)
	case raster.Gray8:
		return raster.Codec(c.cfg.CodecGray8)
	case raster.RGB24:
		return raster.Codec(c.cfg.CodecRGB24)
	case raster.RGBA32:
		return raster.Codec(c.cfg.CodecRGBA32)
	}

	panic(fmt.Sprintf("unknown pixel type %v", pt))
}

// CompressionSteps returns the number of compression steps the codec for pt
// offers.
func (c *Creator) CompressionSteps(pt raster.PixelType) int {
	cd, err := lookupCodec(c.CodecFor(pt))
	if err != nil {
		panic(err) // validated in NewCreator
	}
	return cd.steps()
}

// QualityFor returns the compression step used for pt.
func (c *Creator) QualityFor(pt raster.PixelType) int {
	cd, err := lookupCodec(c.CodecFor(pt))
	if err != nil {
		panic(err) // validated in NewCreator
	}
	return clampStep(cd, c.cfg.Quality)
}
