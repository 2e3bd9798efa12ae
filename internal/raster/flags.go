package raster

import (
	"fmt"

	"github.com/rastercache/rastercache/internal/errors"
)

// Flag is the cache state of a single block.
type Flag uint8

// Block states. Every block starts Empty, a successful fetch from the source
// moves it to Loaded, an external write to Overwritten and a successful
// write-back returns it to Loaded.
const (
	Empty Flag = iota
	Loaded
	Overwritten
)

func (f Flag) String() string {
	switch f {
	case Empty:
		return "empty"
	case Loaded:
		return "loaded"
	case Overwritten:
		return "overwritten"
	}
	return fmt.Sprintf("flag(%d)", uint8(f))
}

// MaxBlocks is the largest block count a single flag table may address.
const MaxBlocks = 1 << 32

// MaxBlockSize is the largest size in bytes of a single decoded block.
const MaxBlockSize = 1 << 31

// BlockFlags is the per-resolution table of block states, indexed by block id.
type BlockFlags struct {
	flags []Flag
}

func checkBlockCount(n uint64) {
	errors.Precondition(n <= MaxBlocks, "block count %d exceeds the addressable limit of %d", n, uint64(MaxBlocks))
}

// NewBlockFlags returns a table of n blocks, all Empty.
func NewBlockFlags(n uint64) *BlockFlags {
	checkBlockCount(n)
	return &BlockFlags{flags: make([]Flag, n)}
}

// Len returns the number of blocks in the table.
func (f *BlockFlags) Len() uint64 {
	return uint64(len(f.flags))
}

// Get returns the state of block id.
func (f *BlockFlags) Get(id uint64) Flag {
	errors.Precondition(id < f.Len(), "block %d out of range (%d blocks)", id, f.Len())
	return f.flags[id]
}

// Set changes the state of block id.
func (f *BlockFlags) Set(id uint64, flag Flag) {
	errors.Precondition(id < f.Len(), "block %d out of range (%d blocks)", id, f.Len())
	f.flags[id] = flag
}

// Reset sets every block back to Empty.
func (f *BlockFlags) Reset() {
	clear(f.flags)
}

// Grow enlarges the table to n blocks. Existing states are kept, new blocks
// are Empty. Shrinking is not possible.
func (f *BlockFlags) Grow(n uint64) {
	checkBlockCount(n)
	if n <= f.Len() {
		return
	}

	flags := make([]Flag, n)
	copy(flags, f.flags)
	f.flags = flags
}

// Count returns the number of blocks in state flag.
func (f *BlockFlags) Count(flag Flag) (n uint64) {
	for _, v := range f.flags {
		if v == flag {
			n++
		}
	}
	return n
}

// Each calls fn in raster order for every block in state flag. Iteration
// stops at the first error, which is returned.
func (f *BlockFlags) Each(flag Flag, fn func(id uint64) error) error {
	for id := range f.flags {
		if f.flags[id] != flag {
			continue
		}

		if err := fn(uint64(id)); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns a copy of the table suitable for persisting.
func (f *BlockFlags) Bytes() []byte {
	buf := make([]byte, len(f.flags))
	for i, v := range f.flags {
		buf[i] = byte(v)
	}
	return buf
}

// BlockFlagsFromBytes restores a table saved with Bytes.
func BlockFlagsFromBytes(buf []byte) (*BlockFlags, error) {
	f := NewBlockFlags(uint64(len(buf)))
	for i, v := range buf {
		if Flag(v) > Overwritten {
			return nil, errors.Errorf("invalid flag %d for block %d", v, i)
		}
		f.flags[i] = Flag(v)
	}
	return f, nil
}
