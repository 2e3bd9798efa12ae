package raster

import (
	"fmt"
	"math/bits"

	"github.com/rastercache/rastercache/internal/errors"
)

// Rect is a half-open pixel rectangle [X0, X1) x [Y0, Y1).
type Rect struct {
	X0, Y0, X1, Y1 uint64
}

// Empty reports whether r contains no pixels.
func (r Rect) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

// Intersect returns the largest rectangle contained in both r and o.
func (r Rect) Intersect(o Rect) Rect {
	r.X0 = max(r.X0, o.X0)
	r.Y0 = max(r.Y0, o.Y0)
	r.X1 = min(r.X1, o.X1)
	r.Y1 = min(r.Y1, o.Y1)
	if r.Empty() {
		return Rect{}
	}
	return r
}

// Dx returns the width of r.
func (r Rect) Dx() uint64 { return r.X1 - r.X0 }

// Dy returns the height of r.
func (r Rect) Dy() uint64 { return r.Y1 - r.Y0 }

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X0, r.Y0, r.X1, r.Y1)
}

// Resolution describes one level of a page's resolution pyramid. Flags is
// only set on descriptors owned by a cache store.
type Resolution struct {
	Width, Height           uint64
	BlockWidth, BlockHeight uint64
	Shape                   BlockShape
	PixelType               PixelType

	ReaderAccess AccessMode
	WriterAccess AccessMode

	Codec   Codec
	Quality int

	Flags *BlockFlags
}

func (r *Resolution) String() string {
	return fmt.Sprintf("%dx%d %v %dx%d %v", r.Width, r.Height, r.Shape, r.BlockWidth, r.BlockHeight, r.PixelType)
}

func ceilDiv(a, b uint64) uint64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

// BlocksPerRow returns the number of blocks across the image.
func (r *Resolution) BlocksPerRow() uint64 {
	return ceilDiv(r.Width, r.BlockWidth)
}

// BlocksPerColumn returns the number of blocks down the image.
func (r *Resolution) BlocksPerColumn() uint64 {
	return ceilDiv(r.Height, r.BlockHeight)
}

// blockCount returns the number of blocks, ok is false if it does not fit
// into an uint64.
func (r *Resolution) blockCount() (n uint64, ok bool) {
	if r.Width == 0 || r.Height == 0 {
		return 0, true
	}

	hi, n := bits.Mul64(r.BlocksPerRow(), r.BlocksPerColumn())
	return n, hi == 0
}

func (r *Resolution) rowBytes() (n uint64, ok bool) {
	hi, rowBits := bits.Mul64(r.BlockWidth, r.PixelType.BitsPerPixel())
	return ceilDiv(rowBits, 8), hi == 0
}

func (r *Resolution) blockSize() (n uint64, ok bool) {
	rowBytes, ok := r.rowBytes()
	if !ok {
		return 0, false
	}

	hi, n := bits.Mul64(rowBytes, r.BlockHeight)
	return n, hi == 0
}

// BlockCount returns the total number of blocks. It panics if the count
// overflows, Validate reports that as an error.
func (r *Resolution) BlockCount() uint64 {
	n, ok := r.blockCount()
	errors.Precondition(ok, "block count of %v overflows", r)
	return n
}

// RowBytes returns the number of bytes of one block row. Rows are padded to
// whole bytes.
func (r *Resolution) RowBytes() uint64 {
	n, ok := r.rowBytes()
	errors.Precondition(ok, "row size of %v overflows", r)
	return n
}

// BlockSize returns the size of a block in bytes. Blocks at the right and
// bottom edges are stored at full size.
func (r *Resolution) BlockSize() uint64 {
	n, ok := r.blockSize()
	errors.Precondition(ok, "block size of %v overflows", r)
	return n
}

// BlockRect returns the pixels covered by block id, clipped to the image.
func (r *Resolution) BlockRect(id uint64) Rect {
	errors.Precondition(id < r.BlockCount(), "block %d out of range (%d blocks)", id, r.BlockCount())

	perRow := r.BlocksPerRow()
	x := (id % perRow) * r.BlockWidth
	y := (id / perRow) * r.BlockHeight

	return Rect{
		X0: x, Y0: y,
		X1: min(x+r.BlockWidth, r.Width),
		Y1: min(y+r.BlockHeight, r.Height),
	}
}

// BlocksIn snaps rect to the block grid and returns the ids of all blocks
// touching it, in raster order.
func (r *Resolution) BlocksIn(rect Rect) []uint64 {
	rect = rect.Intersect(Rect{X1: r.Width, Y1: r.Height})
	if rect.Empty() {
		return nil
	}

	col0, col1 := rect.X0/r.BlockWidth, ceilDiv(rect.X1, r.BlockWidth)
	row0, row1 := rect.Y0/r.BlockHeight, ceilDiv(rect.Y1, r.BlockHeight)

	ids := make([]uint64, 0, (col1-col0)*(row1-row0))
	for row := row0; row < row1; row++ {
		for col := col0; col < col1; col++ {
			ids = append(ids, row*r.BlocksPerRow()+col)
		}
	}
	return ids
}

// SameGeometry reports whether o has the same block shape and block size as r.
func (r *Resolution) SameGeometry(o *Resolution) bool {
	return r.Shape == o.Shape && r.BlockWidth == o.BlockWidth && r.BlockHeight == o.BlockHeight
}

// Clone returns a deep copy of r, including its flag table.
func (r *Resolution) Clone() *Resolution {
	c := *r
	if r.Flags != nil {
		c.Flags = &BlockFlags{flags: append([]Flag(nil), r.Flags.flags...)}
	}
	return &c
}

// Validate checks that the geometry of r is usable.
func (r *Resolution) Validate() error {
	if r.Width == 0 || r.Height == 0 {
		return errors.Errorf("resolution %v has no pixels", r)
	}

	if r.BlockWidth == 0 || r.BlockHeight == 0 {
		return errors.Errorf("resolution %v has an empty block size", r)
	}

	if _, ok := pixelTypeNames[r.PixelType]; !ok {
		return errors.Errorf("resolution %v has an unknown pixel type", r)
	}

	if n, ok := r.blockCount(); !ok || n > MaxBlocks {
		return errors.Errorf("resolution %v has too many blocks", r)
	}

	if n, ok := r.blockSize(); !ok || n > MaxBlockSize {
		return errors.Errorf("resolution %v has blocks larger than %d bytes", r, uint64(MaxBlockSize))
	}

	return nil
}
