package dto

import (
	"time"

	"orionserver/internal/model"
)

// Inbound message types sent by producers.
const (
	TypeFrameData     = "frame_data"
	TypeUserPrompt    = "user_prompt"
	TypeConfiguration = "configuration"
	TypeRequestConfig = "request_config"
)

// Outbound message types.
const (
	TypeConnectionAck    = "connection_ack"
	TypeError            = "error"
	TypeFrameProcessed   = "frame_processed"
	TypeFrameResult      = "frame_result"
	TypePromptResponse   = "prompt_response"
	TypeConfigurationAck = "configuration_ack"
	TypeServerConfig     = "server_config"
	TypeLiveUpdate       = "live_update"
	TypeQueueUpdate      = "queue_update"
	TypeSystemMessage    = "system_message"
)

// Inbound is the closed set of messages a producer may send.
// Exactly FrameData, UserPrompt, Configuration and RequestConfig implement it.
type Inbound interface {
	MessageType() string
}

// DetectionData is a detection as attached by a device.
type DetectionData struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	TrackID    *int      `json:"track_id,omitempty"`
}

// FrameData carries one frame from a producer.
type FrameData struct {
	Type        string          `json:"type"`
	FrameID     string          `json:"frame_id"`
	Timestamp   float64         `json:"timestamp"`
	DeviceID    string          `json:"device_id,omitempty"`
	ImageData   []byte          `json:"image_data,omitempty"`
	ImageRef    []byte          `json:"image_ref,omitempty"`
	Detections  []DetectionData `json:"detections,omitempty"`
	Description string          `json:"description,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
}

func (FrameData) MessageType() string { return TypeFrameData }

// ToFrame converts the wire message into a validated model.Frame.
// Bounding boxes and confidences are clamped, never rejected.
func (m FrameData) ToFrame() (model.Frame, error) {
	frame := model.Frame{
		FrameID:     m.FrameID,
		Timestamp:   m.Timestamp,
		DeviceID:    m.DeviceID,
		ImageData:   m.ImageData,
		Description: m.Description,
		Detections:  make([]model.Detection, 0, len(m.Detections)),
	}
	if len(frame.ImageData) == 0 {
		frame.ImageData = m.ImageRef
	}
	if m.Confidence != nil {
		frame.Confidence = *m.Confidence
	}
	for _, d := range m.Detections {
		frame.Detections = append(frame.Detections, model.NewDetection(d.Label, d.Confidence, d.BBox, d.TrackID))
	}
	if err := frame.Validate(); err != nil {
		return model.Frame{}, err
	}
	return frame, nil
}

// UserPrompt is a free-text question from a producer.
type UserPrompt struct {
	Type      string  `json:"type"`
	PromptID  string  `json:"prompt_id"`
	Question  string  `json:"question"`
	Timestamp float64 `json:"timestamp"`
}

func (UserPrompt) MessageType() string { return TypeUserPrompt }

// Configuration switches the processing mode.
type Configuration struct {
	Type           string `json:"type"`
	ProcessingMode string `json:"processing_mode"`
}

func (Configuration) MessageType() string { return TypeConfiguration }

// RequestConfig asks for the current server configuration.
type RequestConfig struct {
	Type string `json:"type"`
}

func (RequestConfig) MessageType() string { return TypeRequestConfig }

// ConnectionAck is sent to every client right after registration.
type ConnectionAck struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
}

func NewConnectionAck(clientID string) ConnectionAck {
	return ConnectionAck{Type: TypeConnectionAck, Status: "connected", ClientID: clientID}
}

// ErrorMessage reports a failure to a producer.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	FrameID string `json:"frame_id,omitempty"`
}

func NewErrorMessage(message, details, frameID string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message, Details: details, FrameID: frameID}
}

// FrameProcessed lets the producer pace its next frame.
type FrameProcessed struct {
	Type      string  `json:"type"`
	FrameID   string  `json:"frame_id"`
	Timestamp float64 `json:"timestamp"`
}

func NewFrameProcessed(frameID string) FrameProcessed {
	return FrameProcessed{Type: TypeFrameProcessed, FrameID: frameID, Timestamp: UnixNow()}
}

// FrameResult is the per-frame result payload.
type FrameResult struct {
	Type             string            `json:"type"`
	FrameID          string            `json:"frame_id"`
	DeviceID         string            `json:"device_id,omitempty"`
	Detections       []model.Detection `json:"detections"`
	Analysis         model.Analysis    `json:"analysis"`
	Timestamp        float64           `json:"timestamp"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
	Error            string            `json:"error,omitempty"`
}

// NewFrameResult converts a pipeline result into its wire form.
func NewFrameResult(r model.FrameResult) FrameResult {
	detections := r.Detections
	if detections == nil {
		detections = []model.Detection{}
	}
	return FrameResult{
		Type:             TypeFrameResult,
		FrameID:          r.FrameID,
		DeviceID:         r.DeviceID,
		Detections:       detections,
		Analysis:         r.Analysis.Normalize(),
		Timestamp:        r.Timestamp,
		ProcessingTimeMS: float64(r.Duration) / float64(time.Millisecond),
		Error:            r.Error,
	}
}

// PromptResponse answers a UserPrompt.
type PromptResponse struct {
	Type      string  `json:"type"`
	PromptID  string  `json:"prompt_id,omitempty"`
	Question  string  `json:"question"`
	Answer    string  `json:"answer"`
	Timestamp float64 `json:"timestamp"`
}

// ConfigurationAck confirms a processing mode switch.
type ConfigurationAck struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	ProcessingMode string `json:"processing_mode"`
}

// ServerConfig describes the running configuration.
type ServerConfig struct {
	Type           string `json:"type"`
	ProcessingMode string `json:"processing_mode"`
	VisionMode     string `json:"vision_mode"`
	QueueSize      int    `json:"queue_size"`
	ContextLimit   int    `json:"context_limit"`
	Version        string `json:"version"`
}

// StatusBundle is the system status attached to every live update.
type StatusBundle struct {
	ProcessingMode string                `json:"processing_mode"`
	VisionMode     string                `json:"vision_mode"`
	ModelHealth    map[string]bool       `json:"model_health"`
	QueueSize      int                   `json:"queue_size"`
	Stats          model.ProcessingStats `json:"stats"`
}

// FrameSummary is the bounded frame view broadcast to dashboards.
type FrameSummary struct {
	FrameID        string  `json:"frame_id"`
	DeviceID       string  `json:"device_id,omitempty"`
	Timestamp      float64 `json:"timestamp"`
	DetectionCount int     `json:"detection_count"`
	HasImage       bool    `json:"has_image"`
}

// VisionSummary is the vision stage summary broadcast to dashboards.
type VisionSummary struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Detections  int     `json:"detections"`
}

// LiveUpdate carries a completed frame trace to dashboards.
type LiveUpdate struct {
	Type      string              `json:"type"`
	FrameID   string              `json:"frame_id"`
	ClientID  string              `json:"client_id"`
	Frame     FrameSummary        `json:"frame"`
	Vision    VisionSummary       `json:"vlm_analysis"`
	Reasoning model.Analysis      `json:"llm_reasoning"`
	Events    []model.PacketEvent `json:"events"`
	Status    StatusBundle        `json:"status"`
	Error     string              `json:"error,omitempty"`
	Timestamp float64             `json:"timestamp"`
}

// QueueUpdate is a snapshot of pending frames.
type QueueUpdate struct {
	Type      string                   `json:"type"`
	Event     string                   `json:"event"`
	QueueSize int                      `json:"queue_size"`
	Items     []model.QueueItemSummary `json:"items"`
	Timestamp float64                  `json:"timestamp"`
}

func NewQueueUpdate(event string, items []model.QueueItemSummary) QueueUpdate {
	if items == nil {
		items = []model.QueueItemSummary{}
	}
	return QueueUpdate{
		Type:      TypeQueueUpdate,
		Event:     event,
		QueueSize: len(items),
		Items:     items,
		Timestamp: UnixNow(),
	}
}

// SystemMessage announces lifecycle events to dashboards.
type SystemMessage struct {
	Type      string  `json:"type"`
	Event     string  `json:"event"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

func NewSystemMessage(event, message string) SystemMessage {
	return SystemMessage{Type: TypeSystemMessage, Event: event, Message: message, Timestamp: UnixNow()}
}

// UnixNow returns the current time as fractional unix seconds.
func UnixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
