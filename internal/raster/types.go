package raster

import (
	"fmt"

	"github.com/rastercache/rastercache/internal/errors"
)

// PixelType describes the pixel layout of a resolution.
type PixelType uint8

// Supported pixel types.
const (
	OneBit PixelType = iota + 1
	Gray8
	RGB24
	RGBA32
)

var pixelTypeNames = map[PixelType]string{
	OneBit: "onebit",
	Gray8:  "gray8",
	RGB24:  "rgb24",
	RGBA32: "rgba32",
}

// BitsPerPixel returns the number of bits a single pixel occupies.
func (p PixelType) BitsPerPixel() uint64 {
	switch p {
	case OneBit:
		return 1
	case Gray8:
		return 8
	case RGB24:
		return 24
	case RGBA32:
		return 32
	}

	panic(fmt.Sprintf("unknown pixel type %d", p))
}

func (p PixelType) String() string {
	if s, ok := pixelTypeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("pixeltype(%d)", uint8(p))
}

// ParsePixelType returns the pixel type with the given name.
func ParsePixelType(s string) (PixelType, error) {
	for p, name := range pixelTypeNames {
		if name == s {
			return p, nil
		}
	}

	return 0, errors.Errorf("unknown pixel type %q", s)
}

// BlockShape is the storage granularity of the blocks of a resolution.
type BlockShape uint8

// Block shapes.
const (
	Tile BlockShape = iota + 1
	Strip
	Line
	Image
)

func (s BlockShape) String() string {
	switch s {
	case Tile:
		return "tile"
	case Strip:
		return "strip"
	case Line:
		return "line"
	case Image:
		return "image"
	}
	return fmt.Sprintf("shape(%d)", uint8(s))
}

// AccessMode tells whether blocks can be accessed in any order or only in
// raster order.
type AccessMode uint8

// Access modes.
const (
	Random AccessMode = iota
	Sequential
)

func (m AccessMode) String() string {
	if m == Sequential {
		return "sequential"
	}
	return "random"
}

// EditMode is the mode an editor is opened with.
type EditMode uint8

// Edit modes.
const (
	ReadOnly EditMode = iota
	ReadWrite
	Create
)

func (m EditMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case Create:
		return "create"
	}
	return fmt.Sprintf("editmode(%d)", uint8(m))
}

// Writable reports whether blocks may be written through an editor opened in mode m.
func (m EditMode) Writable() bool {
	return m == ReadWrite || m == Create
}

// Codec names the compression applied to blocks in a cache store.
type Codec string

// Codecs known to the cache store.
const (
	CodecNone    Codec = "none"
	CodecDeflate Codec = "deflate"
	CodecZstd    Codec = "zstd"
)

// Sentinel errors returned by editors.
var (
	ErrBlockNotFound    = errors.New("block not found")
	ErrSequentialAccess = errors.New("block requested out of raster order on a sequential editor")
	ErrReadOnly         = errors.New("editor is read-only")
	ErrNotSupported     = errors.New("operation not supported")
)
