package retry

import (
	"context"
	"testing"
	"time"

	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
	"github.com/rastercache/rastercache/internal/source/mem"
	rtest "github.com/rastercache/rastercache/internal/test"
)

func testSource(access raster.AccessMode) *mem.Source {
	return mem.New("remote", raster.NewPage(&raster.Resolution{
		Width: 32, Height: 32,
		BlockWidth: 16, BlockHeight: 16,
		Shape:        raster.Tile,
		PixelType:    raster.Gray8,
		ReaderAccess: access,
		WriterAccess: access,
	}))
}

// flakyEditor fails the first failures calls to ReadBlock.
type flakyEditor struct {
	raster.Editor
	failures int
}

func (e *flakyEditor) ReadBlock(ctx context.Context, id uint64, buf []byte) error {
	if e.failures > 0 {
		e.failures--
		return errors.New("temporary failure")
	}
	return e.Editor.ReadBlock(ctx, id, buf)
}

type flakySource struct {
	*mem.Source
	failures int
}

func (s *flakySource) NewEditor(page, res int, mode raster.EditMode) (raster.Editor, error) {
	ed, err := s.Source.NewEditor(page, res, mode)
	if err != nil {
		return nil, err
	}
	return &flakyEditor{Editor: ed, failures: s.failures}, nil
}

func TestRetryRead(t *testing.T) {
	TestFastRetries(t)

	var reports, successes int
	src := New(&flakySource{Source: testSource(raster.Random), failures: 2}, time.Second,
		func(string, error, time.Duration) { reports++ },
		func(_ string, retries int) { successes = retries })

	ed, err := src.NewEditor(0, 0, raster.ReadOnly)
	rtest.OK(t, err)

	buf := make([]byte, ed.Resolution().BlockSize())
	rtest.OK(t, ed.ReadBlock(context.TODO(), 1, buf))
	rtest.EqualBytes(t, mem.Pattern(0, 0, 1, uint64(len(buf))), buf)
	rtest.Equals(t, 2, reports)
	rtest.Equals(t, 2, successes)
}

func TestRetryGivesUp(t *testing.T) {
	TestFastRetries(t)

	inner := testSource(raster.Random)
	src := New(inner, 50*time.Millisecond, nil, nil)

	ed, err := src.NewEditor(0, 0, raster.ReadOnly)
	rtest.OK(t, err)

	failure := errors.New("network down")
	inner.FailRead(failure)

	err = ed.ReadBlock(context.TODO(), 0, make([]byte, ed.Resolution().BlockSize()))
	rtest.Assert(t, errors.Is(err, failure), "unexpected error %v", err)
}

func TestRetryPermanent(t *testing.T) {
	TestFastRetries(t)

	var reports int
	src := New(testSource(raster.Sequential), time.Second,
		func(string, error, time.Duration) { reports++ }, nil)

	ed, err := src.NewEditor(0, 0, raster.ReadOnly)
	rtest.OK(t, err)

	buf := make([]byte, ed.Resolution().BlockSize())
	rtest.OK(t, ed.ReadBlock(context.TODO(), 2, buf))

	err = ed.ReadBlock(context.TODO(), 1, buf)
	rtest.Assert(t, errors.Is(err, raster.ErrSequentialAccess), "unexpected error %v", err)
	rtest.Equals(t, 0, reports)
}

func TestRetryCancelled(t *testing.T) {
	src := New(testSource(raster.Random), time.Second, nil, nil)

	ed, err := src.NewEditor(0, 0, raster.ReadOnly)
	rtest.OK(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = ed.ReadBlock(ctx, 0, make([]byte, ed.Resolution().BlockSize()))
	rtest.Assert(t, errors.Is(err, context.Canceled), "unexpected error %v", err)
}

type arrivals struct {
	n int
}

func (a *arrivals) TileArrived(int, raster.BlockID) { a.n++ }

func TestRetryForwardsLookAhead(t *testing.T) {
	inner := testSource(raster.Random)
	inner.EnableLookAhead()
	src := New(inner, time.Second, nil, nil)

	a := &arrivals{}
	src.AddTileListener(a)

	rtest.OK(t, src.LookAhead(context.TODO(), 0, []raster.BlockID{{Index: 3}}, 1, false))
	rtest.Equals(t, 1, a.n)
	rtest.Equals(t, 1, len(inner.LookAheads()))

	src.RemoveTileListener(a)
	inner.Deliver(0, raster.BlockID{Index: 3})
	rtest.Equals(t, 1, a.n)
}
