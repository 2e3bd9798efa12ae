package rastercache

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// Tags written to every new cache store.
const (
	TagSoftware = "software"
	TagSource   = "source"

	softwareCache = "rastercache software cache, do not edit"
)

// Cache caches the blocks of one page, or of all pages, of a source in a
// cache store.
type Cache struct {
	// orig is the source passed to New, src may wrap it in a geometry adapter.
	orig raster.Source
	src  raster.Source

	store     raster.Store
	cfg       Config
	sel       PageSelector
	ephemeral bool

	// mu guards the flag tables, the attributes and the fields below.
	mu         sync.Mutex
	caps       raster.Capabilities
	autoErase  bool
	invalidate bool
	closed     bool
	onReady    raster.BlockReadyFunc
	pending    map[pageRes]*roaring64.Bitmap
	waiters    map[waitKey][]raster.ConsumerID
}

// New returns a cache for the pages of src selected by sel, using the store
// creator resolves for src. A new store is initialized with descriptors for
// every selected page, an existing one is reused together with its flags.
// An ephemeral cache erases its store on Close.
//
// New panics if src or creator is nil, if sel is out of range or if the store
// cannot hold tiles and strips.
func New(src raster.Source, creator raster.StoreCreator, cfg Config, ephemeral bool, sel PageSelector) (*Cache, error) {
	errors.Precondition(src != nil, "source is nil")
	errors.Precondition(creator != nil, "store creator is nil")
	errors.Precondition(sel.All() || (sel.Page() >= 0 && sel.Page() < src.PageCount()),
		"%v out of range (%d pages)", sel, src.PageCount())

	if cfg.MaxResolutions <= 0 {
		cfg.MaxResolutions = DefaultMaxResolutions
	}

	st, err := creator.CacheFileFor(src, sel.Page())
	if err != nil {
		return nil, errors.Wrap(err, "CacheFileFor")
	}

	storeCaps := st.Capabilities()
	errors.Precondition(storeCaps.CanRead() && storeCaps.CanWrite() &&
		storeCaps.SupportsShape(raster.Tile) && storeCaps.SupportsShape(raster.Strip),
		"store %v cannot hold tiles and strips", st.Path())

	c := &Cache{
		orig:      src,
		src:       src,
		store:     st,
		cfg:       cfg,
		sel:       sel,
		ephemeral: ephemeral,
		autoErase: ephemeral,
		caps:      src.Capabilities().Union(storeCaps),
		pending:   make(map[pageRes]*roaring64.Bitmap),
		waiters:   make(map[waitKey][]raster.ConsumerID),
	}

	if st.PageCount() == 0 {
		err = c.build(creator)
	} else {
		err = c.check()
	}

	if err != nil {
		_ = st.Close()
		return nil, err
	}

	c.adaptGeometry()

	if n, ok := c.src.(raster.TileNotifier); ok {
		n.AddTileListener(c)
	}

	return c, nil
}

// build adds the descriptors of every selected page to a new store.
func (c *Cache) build(creator raster.StoreCreator) error {
	for _, page := range c.pages() {
		p := buildDescriptors(c.orig, creator, c.cfg, c.ephemeral, !c.sel.All(), page)
		if err := c.store.AddPage(p); err != nil {
			return errors.Wrapf(err, "AddPage(%d)", page)
		}
	}

	c.store.SetTag(TagSoftware, softwareCache)
	c.store.SetTag(TagSource, c.orig.Name())

	debug.Log("built cache %v for %v of %v", c.store.Path(), c.sel, c.orig.Name())
	return c.store.Reopen()
}

// check verifies that an existing store matches the source.
func (c *Cache) check() error {
	pages := c.pages()
	if c.store.PageCount() != len(pages) {
		return errors.Errorf("store %v holds %d pages, want %d", c.store.Path(), c.store.PageCount(), len(pages))
	}

	for i, page := range pages {
		sp := c.orig.Page(page)
		cp := c.store.Page(i)
		if len(cp.Resolutions) > len(sp.Resolutions) {
			return errors.Errorf("store %v: page %d has %d resolutions, source has %d",
				c.store.Path(), page, len(cp.Resolutions), len(sp.Resolutions))
		}

		for res, r := range cp.Resolutions {
			s := sp.Resolutions[res]
			if r.Width != s.Width || r.Height != s.Height || r.PixelType != s.PixelType {
				return errors.Errorf("store %v: page %d resolution %d is %v, source has %v",
					c.store.Path(), page, res, r, s)
			}
		}
	}

	debug.Log("reusing cache %v for %v of %v", c.store.Path(), c.sel, c.orig.Name())
	return nil
}

// adaptGeometry wraps the source in a geometry adapter if any cached
// resolution uses a block geometry different from the source's.
func (c *Cache) adaptGeometry() {
	targets := make(map[pageRes]*raster.Resolution)
	for _, page := range c.pages() {
		sp := c.orig.Page(page)
		for res, r := range c.store.Page(c.storePage(page)).Resolutions {
			if !r.SameGeometry(sp.Resolutions[res]) {
				targets[pageRes{page, res}] = r
			}
		}
	}

	if len(targets) > 0 {
		c.src = newGeometryAdapter(c.orig, targets)
	}
}

// pages returns the source pages covered by the cache.
func (c *Cache) pages() []int {
	if !c.sel.All() {
		return []int{c.sel.Page()}
	}

	pages := make([]int, c.orig.PageCount())
	for i := range pages {
		pages[i] = i
	}
	return pages
}

func (c *Cache) manages(page int) bool {
	if c.sel.All() {
		return page >= 0 && page < c.orig.PageCount()
	}
	return page == c.sel.Page()
}

// storePage returns the store page caching source page page.
func (c *Cache) storePage(page int) int {
	errors.Precondition(c.manages(page), "page %d is not covered by the cache of %v", page, c.sel)

	if c.sel.All() {
		return page
	}
	return 0
}

// cached returns the cache descriptor of a resolution, or nil if the
// resolution is not cached.
func (c *Cache) cached(page, res int) *raster.Resolution {
	p := c.store.Page(c.storePage(page))
	if res < 0 || res >= len(p.Resolutions) {
		return nil
	}
	return p.Resolutions[res]
}

func (c *Cache) flag(r *raster.Resolution, id uint64) raster.Flag {
	c.mu.Lock()
	defer c.mu.Unlock()

	return r.Flags.Get(id)
}

func (c *Cache) setFlag(r *raster.Resolution, id uint64, f raster.Flag) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.Flags.Set(id, f)
}

func (c *Cache) count(r *raster.Resolution, f raster.Flag) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return r.Flags.Count(f)
}

// Flags returns the flag table of a cached resolution, or nil if the
// resolution is not cached. The table must not be modified.
func (c *Cache) Flags(page, res int) *raster.BlockFlags {
	r := c.cached(page, res)
	if r == nil {
		return nil
	}
	return r.Flags
}

// Store returns the cache store.
func (c *Cache) Store() raster.Store {
	return c.store
}

// Capabilities returns the union of the capabilities of the source and the
// cache store.
func (c *Cache) Capabilities() raster.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.caps
}

// SetAutoErase selects whether the store is erased on Close.
func (c *Cache) SetAutoErase(erase bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autoErase = erase
}

// AutoErase reports whether the store is erased on Close.
func (c *Cache) AutoErase() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.autoErase
}

// SetInvalidate requests that the next synchronization discards the cache
// instead of writing it back.
func (c *Cache) SetInvalidate(invalidate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidate = invalidate
}

// SetAttribute changes a page attribute. It is written to the source or the
// store on the next synchronization.
func (c *Cache) SetAttribute(page int, kind raster.AttributeKind, value []byte) {
	p := c.store.Page(c.storePage(page))

	c.mu.Lock()
	defer c.mu.Unlock()

	p.Attributes.Set(kind, value)
}

// Attribute returns a page attribute.
func (c *Cache) Attribute(page int, kind raster.AttributeKind) ([]byte, bool) {
	p := c.store.Page(c.storePage(page))

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := p.Attributes.Get(kind)
	return append([]byte(nil), v...), ok
}

// NewEditor returns an editor for resolution res of page. Resolutions which
// are not cached are served by the source directly.
func (c *Cache) NewEditor(page, res int, mode raster.EditMode) (raster.Editor, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errors.New("cache is closed")
	}

	sp := c.orig.Page(page)
	if res < 0 || res >= len(sp.Resolutions) {
		return nil, errors.Errorf("page %d has no resolution %d", page, res)
	}

	r := c.cached(page, res)
	if r == nil {
		debug.Log("page %d resolution %d is not cached", page, res)
		return c.src.NewEditor(page, res, mode)
	}

	if mode.Writable() && !c.orig.Capabilities().CanWrite() {
		return nil, errors.Wrapf(raster.ErrReadOnly, "source %v", c.orig.Name())
	}

	cache, err := c.store.NewEditor(c.storePage(page), res, raster.ReadWrite)
	if err != nil {
		return nil, err
	}

	s := sp.Resolutions[res]
	return &blockEditor{
		c:          c,
		page:       page,
		res:        res,
		r:          r,
		mode:       mode,
		sequential: s.ReaderAccess != raster.Random || s.Shape != raster.Tile,
		cache:      cache,
	}, nil
}

// Save synchronizes the cache with the source and saves the source if
// anything was written to it.
func (c *Cache) Save(ctx context.Context) error {
	creating := c.orig.Creating()

	written, err := c.synchronize(ctx)
	if err != nil {
		return err
	}

	if !written && !creating {
		return nil
	}

	debug.Log("saving %v", c.orig.Name())
	return c.orig.Save(ctx)
}

// Close saves the cache, stamps the store with the modification time of the
// source and closes it. An auto-erase store is removed afterwards. Close
// always runs every step and returns the errors of all of them. A panic in
// one step is returned as an error of that step.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	autoErase := c.autoErase
	c.mu.Unlock()

	steps := []closeStep{
		{"save", func() error { return c.Save(ctx) }},
		{"remove listener", func() error {
			if n, ok := c.src.(raster.TileNotifier); ok {
				n.RemoveTileListener(c)
			}
			return nil
		}},
		{"set modification time", func() error { return c.store.SetModTime(c.orig.ModTime()) }},
		{"close store", c.store.Close},
	}
	if autoErase {
		steps = append(steps, closeStep{"erase store", c.store.Erase})
	}

	var errs []error
	for _, step := range steps {
		if err := step.run(); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		debug.Log("closing cache %v: %v", c.store.Path(), err)
	}
	return err
}

type closeStep struct {
	name string
	fn   func() error
}

// run calls the step and returns a panic as an error.
func (s closeStep) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%v: panic: %v", s.name, r)
		}
	}()

	return s.fn()
}
