package raster

import (
	"context"
	"time"
)

// Editor reads and writes the blocks of one resolution of one page. buf
// passed to ReadBlock must hold at least Resolution().BlockSize() bytes,
// data passed to WriteBlock must be exactly one block.
type Editor interface {
	Resolution() *Resolution
	ReadBlock(ctx context.Context, id uint64, buf []byte) error
	WriteBlock(ctx context.Context, id uint64, data []byte) error
	Close() error
}

// Source is an original image file.
type Source interface {
	// Name identifies the source, e.g. by its path or URL.
	Name() string
	PageCount() int
	Page(page int) *Page
	Capabilities() Capabilities
	NewEditor(page, res int, mode EditMode) (Editor, error)
	Save(ctx context.Context) error
	ModTime() time.Time

	// Creating reports whether the source is being written from scratch.
	Creating() bool
}

// AttributeWriter is implemented by sources and stores which can persist
// page attributes.
type AttributeWriter interface {
	WriteAttribute(page int, kind AttributeKind, value []byte) error
}

// BlockID addresses a block of a page.
type BlockID struct {
	Resolution int
	Index      uint64
}

// ConsumerID identifies the requester of a LookAhead.
type ConsumerID uint64

// BlockReadyFunc is called when a block requested by consumer is available.
type BlockReadyFunc func(consumer ConsumerID, page int, id BlockID)

// LookAheader is implemented by sources able to prefetch blocks, usually
// network-streamed formats. With async set LookAhead returns immediately
// and arrivals are reported through TileListener.
type LookAheader interface {
	LookAhead(ctx context.Context, page int, ids []BlockID, consumer ConsumerID, async bool) error
}

// TileListener receives notifications about newly arrived blocks.
type TileListener interface {
	TileArrived(page int, id BlockID)
}

// TileNotifier is implemented by sources which report block arrivals.
type TileNotifier interface {
	AddTileListener(l TileListener)
	RemoveTileListener(l TileListener)
}

// Store is the backing tiled container of a cache. The descriptors returned
// by Page are owned by the store and carry the block flag tables.
type Store interface {
	AttributeWriter

	Path() string
	PageCount() int
	Page(page int) *Page
	AddPage(p *Page) error
	Capabilities() Capabilities
	NewEditor(page, res int, mode EditMode) (Editor, error)

	SetTag(key, value string)
	Tag(key string) (string, bool)

	// Flush persists descriptors, flags and tags.
	Flush() error
	// Reopen flushes and reopens the store for shared read-write access.
	Reopen() error

	ModTime() (time.Time, error)
	SetModTime(t time.Time) error

	Close() error
	// Erase removes the physical store. It may be called after Close.
	Erase() error
}

// AllPages selects every page of a source.
const AllPages = -1

// StoreCreator resolves the store caching a source and chooses the codec
// used for each pixel type.
type StoreCreator interface {
	// CacheFileFor returns the store for page of src, or for all pages if
	// page is AllPages.
	CacheFileFor(src Source, page int) (Store, error)
	CodecFor(pt PixelType) Codec
	CompressionSteps(pt PixelType) int
	QualityFor(pt PixelType) int
}
