package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/feature"
	"github.com/rastercache/rastercache/internal/raster"
)

const (
	dirMode  = 0700
	fileMode = 0600

	storeVersion = 1
	versionFile  = "version"
	metadataFile = "pages.json"

	checksumSize = 8
)

type resolutionRecord struct {
	Width        uint64            `json:"width"`
	Height       uint64            `json:"height"`
	BlockWidth   uint64            `json:"block_width"`
	BlockHeight  uint64            `json:"block_height"`
	Shape        raster.BlockShape `json:"shape"`
	PixelType    raster.PixelType  `json:"pixel_type"`
	ReaderAccess raster.AccessMode `json:"reader_access"`
	WriterAccess raster.AccessMode `json:"writer_access"`
	Codec        raster.Codec      `json:"codec"`
	Quality      int               `json:"quality"`
	Flags        []byte            `json:"flags"`
}

type pageRecord struct {
	Resolutions []resolutionRecord              `json:"resolutions"`
	Attributes  map[raster.AttributeKind][]byte `json:"attributes,omitempty"`
}

type metadata struct {
	Pages []pageRecord      `json:"pages"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Store is a directory-backed tiled container. Every block is kept in its
// own file below p<page>/r<res>/, prefixed with the xxhash of the decoded
// block. Descriptors, flag tables, attributes and tags live in pages.json.
type Store struct {
	path string

	mu     sync.Mutex
	pages  []*raster.Page
	tags   map[string]string
	blocks *blockLRU
}

// ensure Store implements raster.Store
var _ raster.Store = &Store{}

// Create initializes an empty store at path. An existing store at path is
// an error.
func Create(path string, lruSize int) (*Store, error) {
	if _, err := os.Lstat(path); err == nil {
		return nil, errors.Errorf("store %v already exists", path)
	}

	if err := os.MkdirAll(path, dirMode); err != nil {
		return nil, errors.Wrap(err, "MkdirAll")
	}

	err := os.WriteFile(filepath.Join(path, versionFile), []byte(strconv.Itoa(storeVersion)), fileMode)
	if err != nil {
		return nil, errors.Wrap(err, "WriteFile")
	}

	s := &Store{
		path:   path,
		tags:   make(map[string]string),
		blocks: newBlockLRU(lruSize),
	}

	if err := s.Flush(); err != nil {
		return nil, err
	}

	debug.Log("created store %v", path)
	return s, nil
}

// Open opens the existing store at path.
func Open(path string, lruSize int) (*Store, error) {
	buf, err := os.ReadFile(filepath.Join(path, versionFile))
	if err != nil {
		return nil, errors.Wrap(err, "ReadFile")
	}

	v, err := strconv.Atoi(string(buf))
	if err != nil {
		return nil, errors.Wrap(err, "Atoi")
	}

	if v != storeVersion {
		return nil, errors.Errorf("store %v has unsupported version %d", path, v)
	}

	s := &Store{
		path:   path,
		blocks: newBlockLRU(lruSize),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	debug.Log("opened store %v with %d pages", path, len(s.pages))
	return s, nil
}

func (s *Store) load() error {
	buf, err := os.ReadFile(filepath.Join(s.path, metadataFile))
	if err != nil {
		return errors.Wrap(err, "ReadFile")
	}

	var meta metadata
	if err := json.Unmarshal(buf, &meta); err != nil {
		return errors.Wrapf(err, "decode %v", metadataFile)
	}

	pages := make([]*raster.Page, 0, len(meta.Pages))
	for i, rec := range meta.Pages {
		p := raster.NewPage()
		for j, rr := range rec.Resolutions {
			flags, err := raster.BlockFlagsFromBytes(rr.Flags)
			if err != nil {
				return errors.Wrapf(err, "page %d resolution %d", i, j)
			}

			r := &raster.Resolution{
				Width: rr.Width, Height: rr.Height,
				BlockWidth: rr.BlockWidth, BlockHeight: rr.BlockHeight,
				Shape:        rr.Shape,
				PixelType:    rr.PixelType,
				ReaderAccess: rr.ReaderAccess,
				WriterAccess: rr.WriterAccess,
				Codec:        rr.Codec,
				Quality:      rr.Quality,
				Flags:        flags,
			}

			if err := r.Validate(); err != nil {
				return err
			}

			if flags.Len() != r.BlockCount() {
				return errors.Errorf("page %d resolution %d: %d flags for %d blocks", i, j, flags.Len(), r.BlockCount())
			}

			p.Resolutions = append(p.Resolutions, r)
		}

		for kind, v := range rec.Attributes {
			p.Attributes[kind] = &raster.Attribute{Value: v}
		}

		pages = append(pages, p)
	}

	s.mu.Lock()
	s.pages = pages
	s.tags = meta.Tags
	if s.tags == nil {
		s.tags = make(map[string]string)
	}
	s.mu.Unlock()

	return nil
}

// Path returns the directory of the store.
func (s *Store) Path() string {
	return s.path
}

// PageCount returns the number of pages in the store.
func (s *Store) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pages)
}

// Page returns the descriptor of page. The descriptor is owned by the store,
// changes to its flags and attributes are persisted by Flush.
func (s *Store) Page(page int) *raster.Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	errors.Precondition(page >= 0 && page < len(s.pages), "page %d out of range (%d pages)", page, len(s.pages))
	return s.pages[page]
}

// AddPage appends p to the store. Every resolution must carry a flag table
// matching its block count.
func (s *Store) AddPage(p *raster.Page) error {
	for i, r := range p.Resolutions {
		if err := r.Validate(); err != nil {
			return err
		}

		if !s.Capabilities().SupportsShape(r.Shape) {
			return errors.Errorf("resolution %d: block shape %v is not supported", i, r.Shape)
		}

		if _, err := lookupCodec(r.Codec); err != nil {
			return errors.Wrapf(err, "resolution %d", i)
		}

		if r.Flags == nil || r.Flags.Len() != r.BlockCount() {
			return errors.Errorf("resolution %d has no flag table for %d blocks", i, r.BlockCount())
		}
	}

	if p.Attributes == nil {
		p.Attributes = make(raster.Attributes)
	}

	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()

	return nil
}

// Capabilities returns what the store supports.
func (s *Store) Capabilities() raster.Capabilities {
	return raster.Capabilities{
		Access: raster.AccessRead | raster.AccessWrite | raster.AccessCreate,
		Shapes: []raster.BlockShape{raster.Tile, raster.Strip},
		Attributes: []raster.AttributeKind{
			raster.Palette, raster.Histogram, raster.Thumbnail,
			raster.ClipShape, raster.TransformModel, raster.Filters,
		},
		AllTags: true,
	}
}

// WriteAttribute stores the attribute value of page.
func (s *Store) WriteAttribute(page int, kind raster.AttributeKind, value []byte) error {
	p := s.Page(page)

	s.mu.Lock()
	defer s.mu.Unlock()

	p.Attributes[kind] = &raster.Attribute{Value: append([]byte(nil), value...)}
	return nil
}

// SetTag sets a store level tag.
func (s *Store) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags[key] = value
}

// Tag returns a store level tag.
func (s *Store) Tag(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.tags[key]
	return v, ok
}

// Tags returns a copy of all store level tags.
func (s *Store) Tags() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		tags[k] = v
	}
	return tags
}

// Flush writes descriptors, flags, attributes and tags to pages.json.
func (s *Store) Flush() error {
	s.mu.Lock()
	meta := metadata{Tags: s.tags}
	for _, p := range s.pages {
		rec := pageRecord{Attributes: make(map[raster.AttributeKind][]byte, len(p.Attributes))}
		for _, r := range p.Resolutions {
			rec.Resolutions = append(rec.Resolutions, resolutionRecord{
				Width: r.Width, Height: r.Height,
				BlockWidth: r.BlockWidth, BlockHeight: r.BlockHeight,
				Shape:        r.Shape,
				PixelType:    r.PixelType,
				ReaderAccess: r.ReaderAccess,
				WriterAccess: r.WriterAccess,
				Codec:        r.Codec,
				Quality:      r.Quality,
				Flags:        r.Flags.Bytes(),
			})
		}

		for kind, attr := range p.Attributes {
			rec.Attributes[kind] = attr.Value
		}

		meta.Pages = append(meta.Pages, rec)
	}

	buf, err := json.Marshal(meta)
	s.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}

	return writeFileAtomic(filepath.Join(s.path, metadataFile), buf)
}

// Reopen flushes the store and reloads it from disk. Descriptors obtained
// before are no longer used by the store.
func (s *Store) Reopen() error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.blocks.Purge()
	return s.load()
}

// ModTime returns the modification time recorded for the store.
func (s *Store) ModTime() (time.Time, error) {
	fi, err := os.Stat(filepath.Join(s.path, metadataFile))
	if err != nil {
		return time.Time{}, errors.Wrap(err, "Stat")
	}
	return fi.ModTime(), nil
}

// SetModTime sets the modification time recorded for the store. Any later
// Flush overwrites it.
func (s *Store) SetModTime(t time.Time) error {
	err := os.Chtimes(filepath.Join(s.path, metadataFile), t, t)
	return errors.Wrap(err, "Chtimes")
}

// Close releases the in-memory state. It does not persist anything, call
// Flush before.
func (s *Store) Close() error {
	s.blocks.Purge()
	return nil
}

// Erase removes the store directory.
func (s *Store) Erase() error {
	debug.Log("erase store %v", s.path)
	s.blocks.Purge()
	return errors.Wrap(os.RemoveAll(s.path), "RemoveAll")
}

// NewEditor returns an editor for resolution res of page.
func (s *Store) NewEditor(page, res int, mode raster.EditMode) (raster.Editor, error) {
	p := s.Page(page)
	if res < 0 || res >= len(p.Resolutions) {
		return nil, errors.Errorf("page %d has no resolution %d", page, res)
	}

	return &editor{s: s, page: page, res: res, mode: mode}, nil
}

func (s *Store) filename(k blockKey) string {
	return filepath.Join(s.path, fmt.Sprintf("p%d", k.page), fmt.Sprintf("r%d", k.res), fmt.Sprintf("%016x", k.id))
}

func (s *Store) readBlock(k blockKey, r *raster.Resolution, buf []byte) error {
	size := r.BlockSize()
	if uint64(len(buf)) < size {
		return errors.Errorf("buffer too small for block %d: %d < %d", k.id, len(buf), size)
	}

	if data, ok := s.blocks.Get(k); ok {
		copy(buf, data)
		return nil
	}

	raw, err := os.ReadFile(s.filename(k))
	if errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(raster.ErrBlockNotFound, "page %d resolution %d block %d", k.page, k.res, k.id)
	}
	if err != nil {
		return errors.Wrap(err, "ReadFile")
	}

	if len(raw) < checksumSize {
		return errors.Errorf("block file %v is truncated", s.filename(k))
	}

	c, err := lookupCodec(r.Codec)
	if err != nil {
		return err
	}

	data, err := c.decode(buf[:0], raw[checksumSize:])
	if err != nil {
		return err
	}

	if uint64(len(data)) != size {
		return errors.Errorf("block %d decoded to %d bytes, want %d", k.id, len(data), size)
	}

	if feature.Flag.Enabled(feature.VerifyBlockChecksum) {
		if want, got := binary.LittleEndian.Uint64(raw), xxhash.Sum64(data); want != got {
			return errors.Errorf("block %d: checksum mismatch, want %016x, got %016x", k.id, want, got)
		}
	}

	// decode may have reallocated
	copy(buf, data)
	s.blocks.Add(k, data)
	return nil
}

func (s *Store) writeBlock(k blockKey, r *raster.Resolution, data []byte) error {
	if uint64(len(data)) != r.BlockSize() {
		return errors.Errorf("block %d has %d bytes, want %d", k.id, len(data), r.BlockSize())
	}

	c, err := lookupCodec(r.Codec)
	if err != nil {
		return err
	}

	raw := make([]byte, checksumSize, checksumSize+len(data))
	binary.LittleEndian.PutUint64(raw, xxhash.Sum64(data))

	payload, err := c.encode(nil, data, clampStep(c, r.Quality))
	if err != nil {
		return err
	}
	raw = append(raw, payload...)

	fn := s.filename(k)
	if err := os.MkdirAll(filepath.Dir(fn), dirMode); err != nil {
		return errors.Wrap(err, "MkdirAll")
	}

	if err := writeFileAtomic(fn, raw); err != nil {
		return err
	}

	s.blocks.Add(k, data)
	return nil
}

func writeFileAtomic(fn string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(fn), filepath.Base(fn)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "CreateTemp")
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return errors.Wrap(err, "Write")
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return errors.Wrap(err, "Close")
	}

	if err := os.Rename(f.Name(), fn); err != nil {
		_ = os.Remove(f.Name())
		return errors.Wrap(err, "Rename")
	}

	return nil
}

type editor struct {
	s         *Store
	page, res int
	mode      raster.EditMode
}

func (e *editor) Resolution() *raster.Resolution {
	return e.s.Page(e.page).Resolutions[e.res]
}

func (e *editor) key(id uint64) (blockKey, error) {
	if n := e.Resolution().BlockCount(); id >= n {
		return blockKey{}, errors.Errorf("block %d out of range (%d blocks)", id, n)
	}
	return blockKey{page: e.page, res: e.res, id: id}, nil
}

func (e *editor) ReadBlock(ctx context.Context, id uint64, buf []byte) error {
	k, err := e.key(id)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return e.s.readBlock(k, e.Resolution(), buf)
}

func (e *editor) WriteBlock(ctx context.Context, id uint64, data []byte) error {
	if !e.mode.Writable() {
		return raster.ErrReadOnly
	}

	k, err := e.key(id)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return e.s.writeBlock(k, e.Resolution(), data)
}

func (e *editor) Close() error {
	return nil
}
