package rastercache

import (
	"fmt"

	"github.com/rastercache/rastercache/internal/feature"
	"github.com/rastercache/rastercache/internal/raster"
)

// DefaultMaxResolutions limits the number of resolutions cached per page.
const DefaultMaxResolutions = 16

// Config holds the settings used when building cache descriptors.
type Config struct {
	// AllowOneBitMultiRes also caches the sub-resolutions of 1 bit per pixel
	// pages. Without it only the full resolution is cached, unless the cache
	// is ephemeral or the source supports LookAhead.
	AllowOneBitMultiRes bool

	MaxResolutions int
}

// DefaultConfig returns the configuration derived from the feature flags.
func DefaultConfig() Config {
	return Config{
		AllowOneBitMultiRes: feature.Flag.Enabled(feature.OneBitMultiResCache),
		MaxResolutions:      DefaultMaxResolutions,
	}
}

// PageSelector chooses the pages of a source covered by a Cache.
type PageSelector struct {
	all  bool
	page int
}

// AllPages selects every page of the source.
func AllPages() PageSelector {
	return PageSelector{all: true, page: raster.AllPages}
}

// SinglePage selects only the given page. A negative page is rejected by New.
func SinglePage(page int) PageSelector {
	return PageSelector{page: page}
}

// All reports whether every page is selected.
func (s PageSelector) All() bool {
	return s.all
}

// Page returns the selected page, or raster.AllPages.
func (s PageSelector) Page() int {
	return s.page
}

func (s PageSelector) String() string {
	if s.All() {
		return "all pages"
	}
	return fmt.Sprintf("page %d", s.page)
}
