package runner

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// gate admits at most limit calls at once and records the peak it observed.
type gate struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newGate(limit int) *gate {
	if limit < 1 {
		limit = 1
	}
	return &gate{sem: semaphore.NewWeighted(int64(limit))}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := g.inFlight.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			return nil
		}
	}
}

func (g *gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

func (g *gate) InFlight() int64 { return g.inFlight.Load() }

func (g *gate) Peak() int64 { return g.peak.Load() }
