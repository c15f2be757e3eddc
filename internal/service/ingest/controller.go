package ingest

import (
	"context"
	"sync"

	"orionserver/internal/logger"
	"orionserver/internal/model"
)

// Controller routes incoming frames according to the current processing mode.
// In queued mode frames go through the Queue; in direct mode they are
// processed on the caller's goroutine.
type Controller struct {
	mu        sync.RWMutex
	mode      model.ProcessingMode
	queue     *Queue
	processor Processor
	logger    *logger.Logger
}

func NewController(mode model.ProcessingMode, queue *Queue, processor Processor, logger *logger.Logger) *Controller {
	return &Controller{
		mode:      mode,
		queue:     queue,
		processor: processor,
		logger:    logger,
	}
}

func (c *Controller) Mode() model.ProcessingMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode parses and applies a new processing mode.
func (c *Controller) SetMode(raw string) (model.ProcessingMode, error) {
	mode, err := model.ParseProcessingMode(raw)
	if err != nil {
		return c.Mode(), err
	}

	c.mu.Lock()
	previous := c.mode
	c.mode = mode
	c.mu.Unlock()

	if previous != mode {
		c.logger.Info("Processing mode changed: %s -> %s", previous, mode)
	}
	return mode, nil
}

// Submit dispatches a frame. In queued mode it returns as soon as the frame is
// enqueued; in direct mode it returns the processing result.
func (c *Controller) Submit(ctx context.Context, clientID string, frame model.Frame) error {
	if c.Mode() == model.ModeDirect {
		return c.processor.Process(ctx, clientID, frame)
	}
	if err := c.queue.Push(Item{ClientID: clientID, Frame: frame}); err != nil {
		return err
	}
	c.logger.Info("📹 Frame %s from %s queued (depth %d)", frame.FrameID, clientID, c.queue.Size())
	return nil
}

// QueueSize returns the ingest queue depth.
func (c *Controller) QueueSize() int {
	return c.queue.Size()
}
