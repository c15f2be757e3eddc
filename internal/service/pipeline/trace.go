package pipeline

import (
	"sync"
	"time"
	"unicode/utf8"

	"orionserver/internal/model"
)

// Event types recorded in a frame trace.
const (
	EventFrameReceived  = "frame_received"
	EventVisionComplete = "vision_analysis_complete"
	EventContextUpdated = "context_updated"
	EventReasoningDone  = "reasoning_complete"
	EventResponseSent   = "response_sent"
	EventError          = "error"
)

// Trace is the ordered list of stage events for one frame.
type Trace struct {
	mu     sync.Mutex
	events []model.PacketEvent
	now    func() time.Time
}

func NewTrace() *Trace {
	return &Trace{now: time.Now}
}

// Add appends one event.
func (t *Trace) Add(eventType, source, destination, summary string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := model.PacketEvent{
		EventType:   eventType,
		Timestamp:   float64(t.now().UnixNano()) / float64(time.Second),
		Source:      source,
		Destination: destination,
		Summary:     summary,
		Payload:     payload,
	}

	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

// Events returns a copy of the events recorded so far.
func (t *Trace) Events() []model.PacketEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.PacketEvent(nil), t.events...)
}

func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
