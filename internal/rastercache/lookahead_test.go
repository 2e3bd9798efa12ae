package rastercache

import (
	"context"
	"testing"

	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
	"github.com/rastercache/rastercache/internal/source/mem"
	rtest "github.com/rastercache/rastercache/internal/test"
)

type readyEvent struct {
	consumer raster.ConsumerID
	page     int
	id       raster.BlockID
}

type readyRecorder struct {
	events []readyEvent
}

func (r *readyRecorder) ready(consumer raster.ConsumerID, page int, id raster.BlockID) {
	r.events = append(r.events, readyEvent{consumer, page, id})
}

func blockIDs(res int, indices ...uint64) []raster.BlockID {
	ids := make([]raster.BlockID, 0, len(indices))
	for _, idx := range indices {
		ids = append(ids, raster.BlockID{Resolution: res, Index: idx})
	}
	return ids
}

func newStreamingCache(t testing.TB) (*mem.Source, *Cache, *readyRecorder) {
	src := mem.New("stream", tilePage(raster.Random))
	src.EnableLookAhead()

	c := newTestCache(t, src, AllPages())
	rec := &readyRecorder{}
	c.SetBlockReadyFunc(rec.ready)
	return src, c, rec
}

func TestLookAheadPartition(t *testing.T) {
	src, c, rec := newStreamingCache(t)

	ed := openEditor(t, c, 0, 0, raster.ReadWrite)
	readBlock(t, ed, 0)
	rtest.OK(t, ed.WriteBlock(context.TODO(), 3, make([]byte, ed.Resolution().BlockSize())))

	part, err := c.LookAhead(context.TODO(), 0, blockIDs(0, 0, 1, 3, 5), 7, true)
	rtest.OK(t, err)
	rtest.Equals(t, blockIDs(0, 0, 3), part.Available)
	rtest.Equals(t, blockIDs(0, 1, 5), part.Missing)

	// available blocks are reported immediately
	rtest.Equals(t, []readyEvent{{7, 0, raster.BlockID{Index: 0}}, {7, 0, raster.BlockID{Index: 3}}}, rec.events)

	calls := src.LookAheads()
	rtest.Equals(t, 1, len(calls))
	rtest.Equals(t, blockIDs(0, 1, 5), calls[0].IDs)
	rtest.Equals(t, raster.ConsumerID(7), calls[0].Consumer)
	rtest.Assert(t, calls[0].Async, "request not forwarded asynchronously")
	rtest.Equals(t, uint64(2), c.Pending())
}

func TestLookAheadPendingNotForwardedTwice(t *testing.T) {
	src, c, rec := newStreamingCache(t)

	_, err := c.LookAhead(context.TODO(), 0, blockIDs(0, 1, 2), 1, true)
	rtest.OK(t, err)
	part, err := c.LookAhead(context.TODO(), 0, blockIDs(0, 2, 4), 2, true)
	rtest.OK(t, err)
	rtest.Equals(t, blockIDs(0, 2, 4), part.Missing)

	calls := src.LookAheads()
	rtest.Equals(t, 2, len(calls))
	rtest.Equals(t, blockIDs(0, 4), calls[1].IDs)
	rtest.Equals(t, uint64(3), c.Pending())

	src.Deliver(0, raster.BlockID{Index: 2})
	rtest.Equals(t, []readyEvent{
		{1, 0, raster.BlockID{Index: 2}},
		{2, 0, raster.BlockID{Index: 2}},
	}, rec.events)
	rtest.Equals(t, uint64(2), c.Pending())

	src.DeliverAll()
	rtest.Equals(t, 4, len(rec.events))
	rtest.Equals(t, uint64(0), c.Pending())

	// delivered blocks are requested again
	_, err = c.LookAhead(context.TODO(), 0, blockIDs(0, 2), 1, true)
	rtest.OK(t, err)
	rtest.Equals(t, 3, len(src.LookAheads()))
}

func TestLookAheadSynchronous(t *testing.T) {
	src, c, rec := newStreamingCache(t)

	part, err := c.LookAhead(context.TODO(), 0, blockIDs(1, 0, 1), 3, false)
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(part.Available))
	rtest.Equals(t, 2, len(part.Missing))

	rtest.Equals(t, []readyEvent{
		{3, 0, raster.BlockID{Resolution: 1, Index: 0}},
		{3, 0, raster.BlockID{Resolution: 1, Index: 1}},
	}, rec.events)
	rtest.Equals(t, 0, src.Queued())
	rtest.Equals(t, uint64(0), c.Pending())
}

func TestTileArrivedResetsFlag(t *testing.T) {
	src, c, _ := newStreamingCache(t)

	ed := openEditor(t, c, 0, 0, raster.ReadOnly)
	readBlock(t, ed, 4)
	rtest.Equals(t, raster.Loaded, c.Flags(0, 0).Get(4))

	src.Deliver(0, raster.BlockID{Index: 4})
	rtest.Equals(t, raster.Empty, c.Flags(0, 0).Get(4))

	// the next read fetches the new data
	newData := rtest.Random(4, int(ed.Resolution().BlockSize()))
	src.SetBlock(0, 0, 4, newData)
	rtest.EqualBytes(t, newData, readBlock(t, ed, 4))
	rtest.Equals(t, 2, src.Reads(0, 0, 4))
}

func TestTileArrivedOtherPage(t *testing.T) {
	src := mem.New("stream", tilePage(raster.Random), tilePage(raster.Random))
	src.EnableLookAhead()

	c := newTestCache(t, src, SinglePage(1))
	ed := openEditor(t, c, 1, 0, raster.ReadOnly)
	readBlock(t, ed, 0)

	src.Deliver(0, raster.BlockID{Index: 0})
	rtest.Equals(t, raster.Loaded, c.Flags(1, 0).Get(0))

	src.Deliver(1, raster.BlockID{Index: 0})
	rtest.Equals(t, raster.Empty, c.Flags(1, 0).Get(0))
}

func TestLookAheadWithoutSourceSupport(t *testing.T) {
	src := mem.New("file", tilePage(raster.Sequential))
	c := newTestCache(t, src, AllPages())
	rec := &readyRecorder{}
	c.SetBlockReadyFunc(rec.ready)

	_, err := c.LookAhead(context.TODO(), 0, blockIDs(0, 2), 1, true)
	rtest.Assert(t, errors.Is(err, raster.ErrNotSupported), "unexpected error %v", err)
	rtest.Equals(t, uint64(0), c.Pending())

	// synchronous requests are served by fetching into the cache
	part, err := c.LookAhead(context.TODO(), 0, blockIDs(0, 2, 4), 1, false)
	rtest.OK(t, err)
	rtest.Equals(t, blockIDs(0, 2, 4), part.Missing)
	rtest.Equals(t, raster.Loaded, c.Flags(0, 0).Get(2))
	rtest.Equals(t, raster.Loaded, c.Flags(0, 0).Get(4))
	rtest.Equals(t, 2, len(rec.events))
}

func TestLookAheadRegion(t *testing.T) {
	src, c, _ := newStreamingCache(t)

	// 80x40 with 32x32 tiles: columns 0..2, rows 0..1
	part, err := c.LookAheadRegion(context.TODO(), 0, 0, raster.Rect{X0: 40, Y0: 10, X1: 70, Y1: 35}, 1, true)
	rtest.OK(t, err)
	rtest.Equals(t, blockIDs(0, 1, 2, 4, 5), part.Missing)
	rtest.Equals(t, blockIDs(0, 1, 2, 4, 5), src.LookAheads()[0].IDs)
}

func TestLookAheadInvalidBlock(t *testing.T) {
	_, c, _ := newStreamingCache(t)

	_, err := c.LookAhead(context.TODO(), 0, blockIDs(0, 100), 1, true)
	rtest.Assert(t, err != nil, "block out of range accepted")

	_, err = c.LookAhead(context.TODO(), 0, blockIDs(5, 0), 1, true)
	rtest.Assert(t, err != nil, "resolution out of range accepted")
}
