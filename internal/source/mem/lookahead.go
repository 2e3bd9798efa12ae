package mem

import (
	"context"
	"slices"

	"github.com/rastercache/rastercache/internal/debug"
	"github.com/rastercache/rastercache/internal/errors"
	"github.com/rastercache/rastercache/internal/raster"
)

// LookAhead records the request. Synchronous requests are delivered before
// LookAhead returns, asynchronous ones are queued until Deliver or
// DeliverAll is called.
func (s *Source) LookAhead(ctx context.Context, page int, ids []raster.BlockID, consumer raster.ConsumerID, async bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.caps.LookAhead {
		s.mu.Unlock()
		return errors.Wrap(raster.ErrNotSupported, "LookAhead")
	}

	s.lookAheads = append(s.lookAheads, LookAheadCall{
		Page:     page,
		IDs:      slices.Clone(ids),
		Consumer: consumer,
		Async:    async,
	})

	if async {
		for _, id := range ids {
			s.queue = append(s.queue, queuedTile{page: page, id: id})
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.notify(page, id)
	}
	return nil
}

// LookAheads returns all LookAhead requests received so far.
func (s *Source) LookAheads() []LookAheadCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.lookAheads)
}

// Queued returns the number of blocks requested asynchronously and not yet
// delivered.
func (s *Source) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Deliver notifies the tile listeners that a block has arrived. A matching
// queued request is removed.
func (s *Source) Deliver(page int, id raster.BlockID) {
	s.mu.Lock()
	s.queue = slices.DeleteFunc(s.queue, func(q queuedTile) bool {
		return q.page == page && q.id == id
	})
	s.mu.Unlock()

	s.notify(page, id)
}

// DeliverAll delivers every queued block in request order.
func (s *Source) DeliverAll() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, q := range queue {
		s.notify(q.page, q.id)
	}
}

func (s *Source) notify(page int, id raster.BlockID) {
	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	debug.Log("tile %v of page %d arrived, %d listeners", id, page, len(listeners))
	for _, l := range listeners {
		l.TileArrived(page, id)
	}
}

// AddTileListener registers l for tile arrival notifications.
func (s *Source) AddTileListener(l raster.TileListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
}

// RemoveTileListener unregisters l.
func (s *Source) RemoveTileListener(l raster.TileListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = slices.DeleteFunc(s.listeners, func(o raster.TileListener) bool {
		return o == l
	})
}
