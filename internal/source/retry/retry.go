// Package retry wraps a raster source, retrying failed block reads and
// writes with an exponential backoff. It is meant for network streamed
// sources with transient failures.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// Source retries editor operations on the wrapped source in case of an
// error with a backoff.
type Source struct {
	raster.Source
	MaxElapsedTime time.Duration
	Report         func(string, error, time.Duration)
	Success        func(string, int)
}

// statically ensure that Source implements the forwarded interfaces.
var (
	_ raster.Source       = &Source{}
	_ raster.LookAheader  = &Source{}
	_ raster.TileNotifier = &Source{}
)

// New wraps src with a source that retries block operations after a
// backoff. report is called with a description and the error, if one
// occurred. success is called with the number of retries before a
// successful operation (it is not called if it succeeded on the first try).
func New(src raster.Source, maxElapsedTime time.Duration, report func(string, error, time.Duration), success func(string, int)) *Source {
	return &Source{
		Source:         src,
		MaxElapsedTime: maxElapsedTime,
		Report:         report,
		Success:        success,
	}
}

var fastRetries = false

// isPermanent reports errors which cannot be fixed by retrying.
func isPermanent(err error) bool {
	return errors.Is(err, raster.ErrSequentialAccess) ||
		errors.Is(err, raster.ErrReadOnly) ||
		errors.Is(err, raster.ErrNotSupported) ||
		errors.Is(err, raster.ErrBlockNotFound)
}

func (s *Source) retry(ctx context.Context, msg string, f func() error) error {
	// an already cancelled context would not be retried either
	if ctx.Err() != nil {
		return ctx.Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.MaxElapsedTime
	if fastRetries {
		bo.InitialInterval = 1 * time.Millisecond
		bo.MaxElapsedTime = min(bo.MaxElapsedTime, 200*time.Millisecond)
	}

	retries := 0
	err := backoff.RetryNotify(
		func() error {
			err := f()
			if err != nil && isPermanent(err) {
				return backoff.Permanent(err)
			}
			if err != nil {
				retries++
			} else if retries > 0 && s.Success != nil {
				s.Success(msg, retries)
			}
			return err
		},
		backoff.WithContext(bo, ctx),
		func(err error, d time.Duration) {
			if s.Report != nil {
				s.Report(msg, err, d)
			}
		},
	)

	if err != nil {
		debug.Log("%v failed after %d retries: %v", msg, retries, err)
	}
	return err
}

// NewEditor opens an editor on the wrapped source, retrying the open.
func (s *Source) NewEditor(page, res int, mode raster.EditMode) (raster.Editor, error) {
	var ed raster.Editor
	err := s.retry(context.Background(), fmt.Sprintf("NewEditor(%d, %d)", page, res), func() error {
		var err error
		ed, err = s.Source.NewEditor(page, res, mode)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &editor{Editor: ed, s: s, page: page, res: res}, nil
}

// Save saves the wrapped source.
func (s *Source) Save(ctx context.Context) error {
	return s.retry(ctx, "Save", func() error {
		return s.Source.Save(ctx)
	})
}

// LookAhead forwards the request if the wrapped source supports it.
func (s *Source) LookAhead(ctx context.Context, page int, ids []raster.BlockID, consumer raster.ConsumerID, async bool) error {
	la, ok := s.Source.(raster.LookAheader)
	if !ok {
		return errors.Wrap(raster.ErrNotSupported, "LookAhead")
	}

	return s.retry(ctx, fmt.Sprintf("LookAhead(%d, %d blocks)", page, len(ids)), func() error {
		return la.LookAhead(ctx, page, ids, consumer, async)
	})
}

// AddTileListener registers l with the wrapped source.
func (s *Source) AddTileListener(l raster.TileListener) {
	if n, ok := s.Source.(raster.TileNotifier); ok {
		n.AddTileListener(l)
	}
}

// RemoveTileListener unregisters l from the wrapped source.
func (s *Source) RemoveTileListener(l raster.TileListener) {
	if n, ok := s.Source.(raster.TileNotifier); ok {
		n.RemoveTileListener(l)
	}
}

// WriteAttribute forwards to the wrapped source.
func (s *Source) WriteAttribute(page int, kind raster.AttributeKind, value []byte) error {
	w, ok := s.Source.(raster.AttributeWriter)
	if !ok {
		return errors.Wrapf(raster.ErrNotSupported, "attribute %v", kind)
	}

	return s.retry(context.Background(), fmt.Sprintf("WriteAttribute(%d, %v)", page, kind), func() error {
		return w.WriteAttribute(page, kind, value)
	})
}

type editor struct {
	raster.Editor
	s         *Source
	page, res int
}

func (e *editor) ReadBlock(ctx context.Context, id uint64, buf []byte) error {
	msg := fmt.Sprintf("ReadBlock(%d, %d, %d)", e.page, e.res, id)
	return e.s.retry(ctx, msg, func() error {
		return e.Editor.ReadBlock(ctx, id, buf)
	})
}

func (e *editor) WriteBlock(ctx context.Context, id uint64, data []byte) error {
	msg := fmt.Sprintf("WriteBlock(%d, %d, %d)", e.page, e.res, id)
	return e.s.retry(ctx, msg, func() error {
		return e.Editor.WriteBlock(ctx, id, data)
	})
}
