package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"orionserver/internal/logger"
	"orionserver/internal/model"
)

// Processor runs one frame through the pipeline.
type Processor interface {
	Process(ctx context.Context, clientID string, frame model.Frame) error
}

// SnapshotPublisher receives the pending queue contents around each processed item.
type SnapshotPublisher interface {
	PublishQueue(event string, items []model.QueueItemSummary)
}

// DropFunc is called for every queued item discarded on shutdown.
type DropFunc func(item Item)

// Worker is the single consumer of the queue. At most one queued frame is
// inside the Processor at any time.
type Worker struct {
	queue     *Queue
	processor Processor
	publisher SnapshotPublisher
	logger    *logger.Logger

	grace  time.Duration
	onDrop DropFunc

	running   atomic.Bool
	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewWorker(queue *Queue, processor Processor, publisher SnapshotPublisher, logger *logger.Logger) *Worker {
	return &Worker{
		queue:     queue,
		processor: processor,
		publisher: publisher,
		logger:    logger,
	}
}

// SetShutdownGrace sets how long an in-flight item may keep running after
// Run's context is cancelled. Call before Run.
func (w *Worker) SetShutdownGrace(d time.Duration) {
	w.grace = d
}

// OnDrop registers fn for items still queued when Run stops. Call before Run.
func (w *Worker) OnDrop(fn DropFunc) {
	w.onDrop = fn
}

// Run consumes the queue until ctx is cancelled. The item in flight at
// cancellation is given the shutdown grace to finish; the rest are dropped.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	w.logger.Info("🔧 Ingest worker started")
	defer w.logger.Info("🔧 Ingest worker stopped")

	for {
		if ctx.Err() != nil {
			w.drop()
			return nil
		}
		if err := w.queue.Wait(ctx); err != nil {
			w.drop()
			return nil
		}

		if w.publisher != nil {
			w.publisher.PublishQueue(StatusEnqueued, w.queue.PeekAll())
		}

		item, ok := w.queue.Pop()
		if !ok {
			continue
		}
		if err := w.process(ctx, item); err != nil {
			w.failed.Add(1)
			if !errors.Is(err, context.Canceled) {
				w.logger.Error("Error processing frame %s from %s: %v", item.Frame.FrameID, item.ClientID, err)
			}
		} else {
			w.processed.Add(1)
		}

		if w.publisher != nil {
			w.publisher.PublishQueue(StatusDequeued, w.queue.PeekAll())
		}
	}
}

func (w *Worker) drop() {
	dropped := w.queue.Drain()
	if len(dropped) == 0 {
		return
	}
	w.logger.Warning("Dropping %d queued frame(s) on shutdown", len(dropped))
	if w.onDrop == nil {
		return
	}
	for _, item := range dropped {
		w.onDrop(item)
	}
}

// process runs one item on a context that outlives ctx by the shutdown grace.
func (w *Worker) process(ctx context.Context, item Item) (err error) {
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(w.grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-pctx.Done():
		}
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.Process(pctx, item.ClientID, item.Frame)
}

// Running reports whether Run is active.
func (w *Worker) Running() bool { return w.running.Load() }

// Processed returns the number of items processed without error.
func (w *Worker) Processed() uint64 { return w.processed.Load() }

// Failed returns the number of items whose processing returned an error.
func (w *Worker) Failed() uint64 { return w.failed.Load() }
