package rastercache

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// ErrWholeFileLookAhead is returned by Coordinator.LookAhead, prefetching is
// only possible on the cache of a single page.
var ErrWholeFileLookAhead = errors.New("LookAhead is not supported for a whole multi-page file, use the cache of a page")

// Coordinator manages one single-page Cache per page of a source. The cache
// of page 0 is built immediately, all others on first use.
type Coordinator struct {
	src       raster.Source
	creator   raster.StoreCreator
	cfg       Config
	ephemeral bool
	autoErase atomic.Bool

	caches *xsync.MapOf[int, *Cache]
}

// NewCoordinator returns a coordinator for src and builds the cache of the
// first page.
func NewCoordinator(src raster.Source, creator raster.StoreCreator, cfg Config, ephemeral bool) (*Coordinator, error) {
	errors.Precondition(src != nil, "source is nil")
	errors.Precondition(creator != nil, "store creator is nil")
	errors.Precondition(src.PageCount() > 0, "source %v has no pages", src.Name())

	co := &Coordinator{
		src:       src,
		creator:   creator,
		cfg:       cfg,
		ephemeral: ephemeral,
		caches:    xsync.NewMapOf[int, *Cache](),
	}
	co.autoErase.Store(ephemeral)

	if _, err := co.Cache(0); err != nil {
		return nil, err
	}

	return co, nil
}

// Cache returns the cache of page, building it on first use. Repeated calls
// return the same instance.
func (co *Coordinator) Cache(page int) (*Cache, error) {
	errors.Precondition(page >= 0 && page < co.src.PageCount(), "page %d out of range (%d pages)", page, co.src.PageCount())

	if c, ok := co.caches.Load(page); ok {
		return c, nil
	}

	var err error
	c, _ := co.caches.Compute(page, func(old *Cache, loaded bool) (*Cache, bool) {
		if loaded {
			return old, false
		}

		debug.Log("building cache for page %d of %v", page, co.src.Name())
		var nc *Cache
		nc, err = New(co.src, co.creator, co.cfg, co.ephemeral, SinglePage(page))
		if err != nil {
			return nil, true
		}
		nc.SetAutoErase(co.autoErase.Load())
		return nc, false
	})

	if err != nil {
		return nil, err
	}
	return c, nil
}

// Pages returns the pages with a cache, in ascending order.
func (co *Coordinator) Pages() []int {
	var pages []int
	co.caches.Range(func(page int, _ *Cache) bool {
		pages = append(pages, page)
		return true
	})

	slices.Sort(pages)
	return pages
}

// Capabilities returns the capabilities of the cache of page 0 as an
// approximation for the whole file.
func (co *Coordinator) Capabilities() raster.Capabilities {
	c, ok := co.caches.Load(0)
	errors.Precondition(ok, "cache of page 0 missing")
	return c.Capabilities()
}

// SetAutoErase changes the auto-erase setting of all caches, including the
// ones built later. Descriptors of later caches are still built for the
// ephemeral setting passed to NewCoordinator.
func (co *Coordinator) SetAutoErase(erase bool) {
	co.autoErase.Store(erase)
	co.caches.Range(func(_ int, c *Cache) bool {
		c.SetAutoErase(erase)
		return true
	})
}

func (co *Coordinator) each(fn func(*Cache) error) error {
	var errs []error
	for _, page := range co.Pages() {
		c, _ := co.caches.Load(page)
		if err := fn(c); err != nil {
			errs = append(errs, errors.Wrapf(err, "page %d", page))
		}
	}
	return errors.Join(errs...)
}

// Save saves the cache of every page.
func (co *Coordinator) Save(ctx context.Context) error {
	return co.each(func(c *Cache) error {
		return c.Save(ctx)
	})
}

// Close closes the cache of every page.
func (co *Coordinator) Close(ctx context.Context) error {
	return co.each(func(c *Cache) error {
		return c.Close(ctx)
	})
}

// LookAhead always fails with ErrWholeFileLookAhead.
func (co *Coordinator) LookAhead(context.Context, int, []raster.BlockID, raster.ConsumerID, bool) error {
	return ErrWholeFileLookAhead
}
