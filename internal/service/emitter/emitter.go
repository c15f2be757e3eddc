// Package emitter forwards frame result summaries to a message broker.
package emitter

import (
	"context"
	"encoding/json"
	"sync"

	"orionserver/internal/logger"
	"orionserver/internal/model"
)

// DefaultBuffer is the number of summaries held while the broker is slow.
const DefaultBuffer = 256

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Summary is the message published for every frame result.
type Summary struct {
	FrameID          string   `json:"frame_id"`
	DeviceID         string   `json:"device_id,omitempty"`
	ClientID         string   `json:"client_id"`
	Timestamp        float64  `json:"timestamp"`
	SceneDescription string   `json:"scene_description"`
	Confidence       float64  `json:"confidence"`
	Objects          []string `json:"objects"`
	Insights         []string `json:"contextual_insights"`
	DurationMS       int64    `json:"processing_time_ms"`
	Error            string   `json:"error,omitempty"`
}

// NewSummary condenses a frame result.
func NewSummary(r model.FrameResult) Summary {
	objects := make([]string, 0, len(r.Detections))
	seen := make(map[string]bool)
	for _, d := range r.Detections {
		if !seen[d.Label] {
			seen[d.Label] = true
			objects = append(objects, d.Label)
		}
	}
	insights := r.Analysis.ContextualInsights
	if insights == nil {
		insights = []string{}
	}
	return Summary{
		FrameID:          r.FrameID,
		DeviceID:         r.DeviceID,
		ClientID:         r.ClientID,
		Timestamp:        r.Timestamp,
		SceneDescription: r.Analysis.SceneDescription,
		Confidence:       r.Analysis.Confidence,
		Objects:          objects,
		Insights:         insights,
		DurationMS:       r.Duration.Milliseconds(),
		Error:            r.Error,
	}
}

// Stats are emitter counters.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// Emitter publishes frame summaries from a background loop so Consume never blocks.
type Emitter struct {
	pub    Publisher
	topic  string
	queue  chan model.FrameResult
	logger *logger.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates an Emitter. Summaries go to topic/<device>, or topic when the
// result has no device id.
func New(pub Publisher, topic string, buffer int, log *logger.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Emitter{
		pub:    pub,
		topic:  topic,
		queue:  make(chan model.FrameResult, buffer),
		logger: log,
	}
}

// Consume enqueues a result, dropping it when the buffer is full.
func (e *Emitter) Consume(result model.FrameResult) {
	result.Image = nil
	select {
	case e.queue <- result:
	default:
		e.mu.Lock()
		e.stats.Dropped++
		e.mu.Unlock()
	}
}

// Run publishes queued results until ctx is cancelled, then drains what is left.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case r := <-e.queue:
					e.publish(r)
				default:
					return nil
				}
			}
		case r := <-e.queue:
			e.publish(r)
		}
	}
}

// Topic returns the topic a result is published to.
func (e *Emitter) Topic(r model.FrameResult) string {
	if r.DeviceID == "" {
		return e.topic
	}
	return e.topic + "/" + r.DeviceID
}

func (e *Emitter) publish(r model.FrameResult) {
	payload, err := json.Marshal(NewSummary(r))
	if err == nil {
		err = e.pub.Publish(e.Topic(r), payload)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.stats.Errors++
		e.logger.Warning("Error publishing result for frame %s: %v", r.FrameID, err)
		return
	}
	e.stats.Published++
}

// Stats returns a copy of the counters.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
