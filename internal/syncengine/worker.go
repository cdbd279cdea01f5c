package syncengine

import (
	"context"
	"log"
	"time"
)

// Worker re-drives appointments stuck in pending: rows whose platform
// call never completed, typically after a crash between the local
// mutation and the outbound call. Rows in the error state are never
// picked up here; re-touching those is an operator action.
type Worker struct {
	Engine     *Engine
	SweepAfter time.Duration
	Interval   time.Duration
	Stop       chan struct{}
}

func NewWorker(e *Engine, sweepAfter time.Duration) *Worker {
	return &Worker{
		Engine:     e,
		SweepAfter: sweepAfter,
		Interval:   30 * time.Second,
		Stop:       make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-w.SweepAfter)
	items, err := w.Engine.Store.ListStalePending(ctx, cutoff, 50)
	if err != nil || len(items) == 0 {
		return
	}
	log.Printf("syncengine: sweeping %d stale pending appointment(s)", len(items))
	for _, a := range items {
		if _, err := w.Engine.Drive(ctx, a); err != nil {
			log.Printf("syncengine: sweep %s: %v", a.ID, err)
		}
	}
}
