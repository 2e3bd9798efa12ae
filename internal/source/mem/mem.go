// Package mem implements an in-memory raster source. It honours the reader
// and writer access modes of its resolutions and can emulate a network
// streamed source with LookAhead support.
package mem

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

type blockKey struct {
	page, res int
	id        uint64
}

// LookAheadCall records a LookAhead request received by the source.
type LookAheadCall struct {
	Page     int
	IDs      []raster.BlockID
	Consumer raster.ConsumerID
	Async    bool
}

type queuedTile struct {
	page int
	id   raster.BlockID
}

// Source is an in-memory raster.Source. Blocks which were never written
// contain a deterministic pattern, see Pattern.
type Source struct {
	name string

	mu        sync.Mutex
	pages     []*raster.Page
	blocks    map[blockKey][]byte
	caps      raster.Capabilities
	mtime     time.Time
	creating  bool
	saves     int
	reads     map[blockKey]int
	writes    map[[2]int][]uint64
	failRead  error
	failWrite error

	lookAheads []LookAheadCall
	queue      []queuedTile
	listeners  []raster.TileListener
}

// ensure statically that *Source implements the source interfaces.
var (
	_ raster.Source          = &Source{}
	_ raster.LookAheader     = &Source{}
	_ raster.TileNotifier    = &Source{}
	_ raster.AttributeWriter = &Source{}
)

// New returns a source with the given pages. The descriptors are copied,
// flag tables are dropped.
func New(name string, pages ...*raster.Page) *Source {
	s := &Source{
		name:   name,
		blocks: make(map[blockKey][]byte),
		reads:  make(map[blockKey]int),
		writes: make(map[[2]int][]uint64),
		mtime:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		caps: raster.Capabilities{
			Access:     raster.AccessRead | raster.AccessWrite,
			Shapes:     []raster.BlockShape{raster.Tile, raster.Strip, raster.Line, raster.Image},
			Attributes: []raster.AttributeKind{raster.Palette, raster.Histogram, raster.Thumbnail},
		},
	}

	for _, p := range pages {
		c := p.Clone()
		for _, r := range c.Resolutions {
			r.Flags = nil
		}
		s.pages = append(s.pages, c)
	}

	return s
}

// Pattern returns the deterministic content of a block which was never
// written.
func Pattern(page, res int, id, size uint64) []byte {
	var seed [24]byte
	binary.LittleEndian.PutUint64(seed[0:], uint64(page))
	binary.LittleEndian.PutUint64(seed[8:], uint64(res))
	binary.LittleEndian.PutUint64(seed[16:], id)
	h := xxhash.Sum64(seed[:])

	buf := make([]byte, size)
	var tmp [8]byte
	for i := 0; i < len(buf); i += 8 {
		binary.LittleEndian.PutUint64(tmp[:], h)
		copy(buf[i:], tmp[:])
		h = h*6364136223846793005 + 1442695040888963407
	}
	return buf
}

// Name returns the name passed to New.
func (s *Source) Name() string {
	return s.name
}

// PageCount returns the number of pages.
func (s *Source) PageCount() int {
	return len(s.pages)
}

// Page returns the descriptor of page.
func (s *Source) Page(page int) *raster.Page {
	errors.Precondition(page >= 0 && page < len(s.pages), "page %d out of range (%d pages)", page, len(s.pages))
	return s.pages[page]
}

// Capabilities returns the capabilities of the source.
func (s *Source) Capabilities() raster.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.caps
}

// SetAccess replaces the access rights of the source.
func (s *Source) SetAccess(a raster.Access) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.caps.Access = a
}

// EnableLookAhead makes the source behave like a network streamed source.
func (s *Source) EnableLookAhead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.caps.LookAhead = true
}

// SetCreating marks the source as being written from scratch. Blocks of a
// source being created cannot be read until written.
func (s *Source) SetCreating(creating bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creating = creating
}

// Creating reports whether the source is being created.
func (s *Source) Creating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.creating
}

// Save counts the call and advances the modification time by one second.
func (s *Source) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	s.creating = false
	s.mtime = s.mtime.Add(time.Second)
	debug.Log("saved %v, mtime %v", s.name, s.mtime)
	return nil
}

// Saves returns how often Save was called.
func (s *Source) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saves
}

// ModTime returns the modification time of the source.
func (s *Source) ModTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mtime
}

// Block returns the current content of a block, or nil if a block of a
// source being created was never written.
func (s *Source) Block(page, res int, id uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.block(blockKey{page, res, id})
	if err != nil {
		return nil
	}
	return append([]byte(nil), data...)
}

// SetBlock replaces the content of a block without going through an editor.
func (s *Source) SetBlock(page, res int, id uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[blockKey{page, res, id}] = append([]byte(nil), data...)
}

func (s *Source) block(k blockKey) ([]byte, error) {
	if data, ok := s.blocks[k]; ok {
		return data, nil
	}

	if s.creating {
		return nil, errors.Wrapf(raster.ErrBlockNotFound, "page %d resolution %d block %d", k.page, k.res, k.id)
	}

	r := s.pages[k.page].Resolutions[k.res]
	return Pattern(k.page, k.res, k.id, r.BlockSize()), nil
}

// Reads returns how often a block was read through an editor.
func (s *Source) Reads(page, res int, id uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reads[blockKey{page, res, id}]
}

// TotalReads returns the number of block reads through editors.
func (s *Source) TotalReads() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.reads {
		n += v
	}
	return n
}

// Writes returns the ids of all blocks written to a resolution, in the order
// they were written.
func (s *Source) Writes(page, res int) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint64(nil), s.writes[[2]int{page, res}]...)
}

// FailRead makes every following block read fail with err. A nil err
// restores normal operation.
func (s *Source) FailRead(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failRead = err
}

// FailWrite makes every following block write fail with err.
func (s *Source) FailWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failWrite = err
}

// WriteAttribute stores a page attribute.
func (s *Source) WriteAttribute(page int, kind raster.AttributeKind, value []byte) error {
	p := s.Page(page)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.caps.CanWriteAttribute(kind) {
		return errors.Wrapf(raster.ErrNotSupported, "attribute %v", kind)
	}

	p.Attributes[kind] = &raster.Attribute{Value: append([]byte(nil), value...)}
	return nil
}

// NewEditor returns an editor for resolution res of page.
func (s *Source) NewEditor(page, res int, mode raster.EditMode) (raster.Editor, error) {
	if page < 0 || page >= len(s.pages) {
		return nil, errors.Errorf("page %d out of range", page)
	}

	p := s.pages[page]
	if res < 0 || res >= len(p.Resolutions) {
		return nil, errors.Errorf("page %d has no resolution %d", page, res)
	}

	if mode.Writable() && !s.Capabilities().CanWrite() {
		return nil, raster.ErrReadOnly
	}

	return &editor{s: s, page: page, res: res, mode: mode, r: p.Resolutions[res]}, nil
}

type editor struct {
	s         *Source
	page, res int
	mode      raster.EditMode
	r         *raster.Resolution

	nextRead, nextWrite uint64
}

func (e *editor) Resolution() *raster.Resolution {
	return e.r
}

func (e *editor) ReadBlock(ctx context.Context, id uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id >= e.r.BlockCount() {
		return errors.Errorf("block %d out of range (%d blocks)", id, e.r.BlockCount())
	}

	if uint64(len(buf)) < e.r.BlockSize() {
		return errors.Errorf("buffer too small for block %d", id)
	}

	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	if e.s.failRead != nil {
		return e.s.failRead
	}

	if e.r.ReaderAccess == raster.Sequential {
		if id < e.nextRead {
			return errors.Wrapf(raster.ErrSequentialAccess, "read block %d after %d", id, e.nextRead-1)
		}
		e.nextRead = id + 1
	}

	k := blockKey{e.page, e.res, id}
	data, err := e.s.block(k)
	if err != nil {
		return err
	}

	e.s.reads[k]++
	copy(buf, data)
	return nil
}

func (e *editor) WriteBlock(ctx context.Context, id uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !e.mode.Writable() {
		return raster.ErrReadOnly
	}

	if id >= e.r.BlockCount() {
		return errors.Errorf("block %d out of range (%d blocks)", id, e.r.BlockCount())
	}

	if uint64(len(data)) != e.r.BlockSize() {
		return errors.Errorf("block %d has %d bytes, want %d", id, len(data), e.r.BlockSize())
	}

	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	if e.s.failWrite != nil {
		return e.s.failWrite
	}

	if e.r.WriterAccess == raster.Sequential {
		if id != e.nextWrite {
			return errors.Wrapf(raster.ErrSequentialAccess, "wrote block %d, expected %d", id, e.nextWrite)
		}
		e.nextWrite++
	}

	e.s.blocks[blockKey{e.page, e.res, id}] = append([]byte(nil), data...)
	e.s.writes[[2]int{e.page, e.res}] = append(e.s.writes[[2]int{e.page, e.res}], id)
	return nil
}

func (e *editor) Close() error {
	return nil
}
