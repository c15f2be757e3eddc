package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"orionserver/internal/config"
	"orionserver/internal/dto"
	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/service/memory"
	"orionserver/internal/service/websocket"
)

// ErrMissingImage is returned when the vision stage needs image bytes the frame lacks.
var ErrMissingImage = errors.New("missing image data")

// ApologyAnswer is returned to a question the reasoning collaborator could not answer.
const ApologyAnswer = "I am sorry, I could not process your question at this time."

// VisionAnalyzer turns a frame into a vision result.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, frame model.Frame) (model.VisionResult, error)
	RequiresImage() bool
	Healthy() bool
}

// Reasoner interprets a frame in the light of recent context.
type Reasoner interface {
	Reason(ctx context.Context, frame model.Frame, vision model.VisionResult, history []model.ContextEntry) (model.Analysis, error)
	Answer(ctx context.Context, question string, history []model.ContextEntry) (string, error)
	Healthy() bool
}

// Clients delivers messages to connected clients.
type Clients interface {
	Send(clientID string, message any) bool
	Broadcast(role websocket.Role, message any) int
}

// ResultSink receives every completed frame result. Consume must not block.
type ResultSink interface {
	Consume(result model.FrameResult)
}

// QueueInspector exposes the ingest queue depth for status reporting.
type QueueInspector interface {
	Size() int
}

// ModeSource reports the current processing mode.
type ModeSource interface {
	Mode() model.ProcessingMode
}

type Options struct {
	VisionMode         model.VisionMode
	ContextLimit       int
	PromptContextLimit int
	StageTimeout       time.Duration
}

// Orchestrator runs a frame through vision, context, reasoning, response and trace.
// Memory mutations are serialized; collaborator calls are not.
type Orchestrator struct {
	memory   *memory.ContextMemory
	clients  Clients
	vision   VisionAnalyzer
	reasoner Reasoner
	sinks    []ResultSink
	queue    QueueInspector
	modes    ModeSource
	opts     Options
	logger   *logger.Logger

	stateMu sync.Mutex

	statsMu sync.Mutex
	stats   model.ProcessingStats
}

func NewOrchestrator(mem *memory.ContextMemory, clients Clients, vision VisionAnalyzer, reasoner Reasoner, opts Options, logger *logger.Logger) *Orchestrator {
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = 5
	}
	if opts.PromptContextLimit <= 0 {
		opts.PromptContextLimit = 10
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	return &Orchestrator{
		memory:   mem,
		clients:  clients,
		vision:   vision,
		reasoner: reasoner,
		opts:     opts,
		logger:   logger,
	}
}

// Attach wires the queue and mode source used in status reports.
func (o *Orchestrator) Attach(queue QueueInspector, modes ModeSource) {
	o.queue = queue
	o.modes = modes
}

// AddSink registers a result sink. Call before processing starts.
func (o *Orchestrator) AddSink(sink ResultSink) {
	o.sinks = append(o.sinks, sink)
}

// Process handles one frame end to end. The producer always receives either a
// frame result or an error before anything is broadcast to observers.
func (o *Orchestrator) Process(ctx context.Context, clientID string, frame model.Frame) error {
	start := time.Now()
	trace := NewTrace()
	o.updateStats(func(s *model.ProcessingStats) { s.FramesReceived++ })

	// received
	if err := frame.Validate(); err != nil {
		return o.fail(clientID, frame, trace, "Invalid frame", err)
	}
	trace.Add(EventFrameReceived, clientID, "orchestrator",
		fmt.Sprintf("Frame %s received from %s", frame.FrameID, clientID),
		map[string]any{
			"device_id":  frame.DeviceID,
			"detections": len(frame.Detections),
			"has_image":  frame.HasImage(),
			"image_size": len(frame.ImageData),
		})
	if o.vision.RequiresImage() && !frame.HasImage() {
		return o.fail(clientID, frame, trace, "Missing image data", ErrMissingImage)
	}

	// vision_analyzed
	visionStart := time.Now()
	vctx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	vision, err := o.vision.Analyze(vctx, frame)
	cancel()
	if err == nil {
		err = vision.Validate()
	}
	if err != nil {
		return o.fail(clientID, frame, trace, "Vision analysis failed", err)
	}
	trace.Add(EventVisionComplete, "vision", "context_memory",
		fmt.Sprintf("Vision found %d object(s)", len(vision.Detections)),
		map[string]any{
			"description": Truncate(vision.Description, 100),
			"confidence":  vision.Confidence,
			"detections":  len(vision.Detections),
			"duration_ms": msSince(visionStart),
		})

	// context_stored
	processed := frame.WithInference(vision)
	o.stateMu.Lock()
	o.memory.AddFrame(processed)
	history := o.memory.GetRecentContext(processed.FrameID, o.opts.ContextLimit)
	o.stateMu.Unlock()
	trace.Add(EventContextUpdated, "context_memory", "reasoning",
		fmt.Sprintf("Context holds %d prior frame(s)", len(history)),
		map[string]any{
			"context_entries": len(history),
			"tracked_objects": trackedCount(history),
		})

	// reasoned
	reasonStart := time.Now()
	rctx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	analysis, rerr := o.reasoner.Reason(rctx, processed, vision, history)
	cancel()
	degraded := rerr != nil
	if degraded {
		o.logger.Error("Error analyzing scene for frame %s: %v", frame.FrameID, rerr)
		analysis = model.DegradedAnalysis()
	} else {
		analysis = analysis.Normalize()
		o.stateMu.Lock()
		o.memory.AddAnalysis(processed.FrameID, analysis)
		o.stateMu.Unlock()
	}
	reasonPayload := map[string]any{
		"scene_description": Truncate(analysis.SceneDescription, 100),
		"insights":          len(analysis.ContextualInsights),
		"confidence":        analysis.Confidence,
		"duration_ms":       msSince(reasonStart),
	}
	if degraded {
		reasonPayload["error"] = rerr.Error()
	}
	trace.Add(EventReasoningDone, "reasoning", "orchestrator", "Reasoning complete", reasonPayload)

	// responded
	result := model.FrameResult{
		FrameID:    processed.FrameID,
		DeviceID:   processed.DeviceID,
		ClientID:   clientID,
		Timestamp:  dto.UnixNow(),
		Detections: processed.Detections,
		Analysis:   analysis,
		Duration:   time.Since(start),
		Image:      frame.ImageData,
	}
	delivered := o.clients.Send(clientID, dto.NewFrameResult(result))
	if delivered {
		o.clients.Send(clientID, dto.NewFrameProcessed(processed.FrameID))
	}
	trace.Add(EventResponseSent, "orchestrator", clientID,
		fmt.Sprintf("Result for %s sent", processed.FrameID),
		map[string]any{
			"delivered":   delivered,
			"duration_ms": msSince(start),
		})

	for _, sink := range o.sinks {
		sink.Consume(result)
	}

	o.updateStats(func(s *model.ProcessingStats) {
		s.FramesProcessed++
		if degraded {
			s.ReasoningDegraded++
		}
		s.TotalDetections += uint64(len(processed.Detections))
		n := float64(s.FramesProcessed)
		s.AverageConfidence = (s.AverageConfidence*(n-1) + analysis.Confidence) / n
		s.LastProcessMS = msSince(start)
		s.AverageProcessMS = (s.AverageProcessMS*(n-1) + s.LastProcessMS) / n
	})

	// traced
	o.clients.Broadcast(websocket.RoleObserver, dto.LiveUpdate{
		Type:     dto.TypeLiveUpdate,
		FrameID:  processed.FrameID,
		ClientID: clientID,
		Frame:    frameSummary(processed),
		Vision: dto.VisionSummary{
			Description: vision.Description,
			Confidence:  vision.Confidence,
			Detections:  len(vision.Detections),
		},
		Reasoning: analysis,
		Events:    trace.Events(),
		Status:    o.Status(),
		Timestamp: dto.UnixNow(),
	})

	o.memory.CleanupOldEntries()
	return nil
}

// fail reports a terminal stage failure to the producer, then to observers.
func (o *Orchestrator) fail(clientID string, frame model.Frame, trace *Trace, message string, err error) error {
	o.logger.Error("Error processing frame %s from %s: %v", frame.FrameID, clientID, err)
	trace.Add(EventError, "orchestrator", clientID, message, map[string]any{"error": err.Error()})

	o.clients.Send(clientID, dto.NewErrorMessage(message, err.Error(), frame.FrameID))
	o.updateStats(func(s *model.ProcessingStats) { s.FramesFailed++ })

	for _, sink := range o.sinks {
		sink.Consume(model.FrameResult{
			FrameID:    frame.FrameID,
			DeviceID:   frame.DeviceID,
			ClientID:   clientID,
			Timestamp:  dto.UnixNow(),
			Detections: frame.Detections,
			Analysis:   model.Analysis{}.Normalize(),
			Error:      message,
		})
	}

	o.clients.Broadcast(websocket.RoleObserver, dto.LiveUpdate{
		Type:      dto.TypeLiveUpdate,
		FrameID:   frame.FrameID,
		ClientID:  clientID,
		Frame:     frameSummary(frame),
		Reasoning: model.Analysis{}.Normalize(),
		Events:    trace.Events(),
		Status:    o.Status(),
		Error:     message,
		Timestamp: dto.UnixNow(),
	})
	return fmt.Errorf("%s: %w", strings.ToLower(message), err)
}

// HandlePrompt answers a free-text question using a wider context window.
// Reasoning failures produce ApologyAnswer.
func (o *Orchestrator) HandlePrompt(ctx context.Context, clientID string, prompt dto.UserPrompt) {
	question := strings.TrimSpace(prompt.Question)
	if question == "" {
		o.clients.Send(clientID, dto.NewErrorMessage("Invalid prompt", "question is required", ""))
		return
	}

	o.stateMu.Lock()
	history := o.memory.GetRecentContext("", o.opts.PromptContextLimit)
	o.stateMu.Unlock()

	actx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	answer, err := o.reasoner.Answer(actx, question, history)
	cancel()
	if err != nil {
		o.logger.Error("Error answering question from %s: %v", clientID, err)
		answer = ApologyAnswer
	} else {
		o.updateStats(func(s *model.ProcessingStats) { s.QuestionsAnswered++ })
	}

	o.clients.Send(clientID, dto.PromptResponse{
		Type:      dto.TypePromptResponse,
		PromptID:  prompt.PromptID,
		Question:  question,
		Answer:    answer,
		Timestamp: dto.UnixNow(),
	})
}

// PublishQueue broadcasts a queue snapshot to observers.
func (o *Orchestrator) PublishQueue(event string, items []model.QueueItemSummary) {
	o.clients.Broadcast(websocket.RoleObserver, dto.NewQueueUpdate(event, items))
}

// Status returns the bundle attached to live updates.
func (o *Orchestrator) Status() dto.StatusBundle {
	return dto.StatusBundle{
		ProcessingMode: string(o.mode()),
		VisionMode:     string(o.opts.VisionMode),
		ModelHealth:    o.ModelHealth(),
		QueueSize:      o.queueSize(),
		Stats:          o.Stats(),
	}
}

// ServerConfig describes the running configuration to a producer.
func (o *Orchestrator) ServerConfig() dto.ServerConfig {
	return dto.ServerConfig{
		Type:           dto.TypeServerConfig,
		ProcessingMode: string(o.mode()),
		VisionMode:     string(o.opts.VisionMode),
		QueueSize:      o.queueSize(),
		ContextLimit:   o.opts.ContextLimit,
		Version:        config.Version,
	}
}

// ModelHealth reports per-collaborator health.
func (o *Orchestrator) ModelHealth() map[string]bool {
	return map[string]bool{
		"vision":         o.vision.Healthy(),
		"reasoning":      o.reasoner.Healthy(),
		"context_memory": o.memory.IsHealthy(),
	}
}

func (o *Orchestrator) Stats() model.ProcessingStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}

func (o *Orchestrator) updateStats(fn func(*model.ProcessingStats)) {
	o.statsMu.Lock()
	fn(&o.stats)
	o.statsMu.Unlock()
}

func (o *Orchestrator) mode() model.ProcessingMode {
	if o.modes == nil {
		return model.ModeQueued
	}
	return o.modes.Mode()
}

func (o *Orchestrator) queueSize() int {
	if o.queue == nil {
		return 0
	}
	return o.queue.Size()
}

func frameSummary(f model.Frame) dto.FrameSummary {
	return dto.FrameSummary{
		FrameID:        f.FrameID,
		DeviceID:       f.DeviceID,
		Timestamp:      f.Timestamp,
		DetectionCount: len(f.Detections),
		HasImage:       f.HasImage(),
	}
}

func trackedCount(history []model.ContextEntry) int {
	if len(history) == 0 {
		return 0
	}
	return len(history[len(history)-1].TrackedObjects)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
