package model

// TrackedObject aggregates all sightings of one track id.
type TrackedObject struct {
	Key               string       `json:"key"`
	Label             string       `json:"label"`
	TrackID           int          `json:"track_id"`
	FirstSeen         float64      `json:"first_seen"`
	LastSeen          float64      `json:"last_seen"`
	DetectionCount    int          `json:"detection_count"`
	AverageConfidence float64      `json:"average_confidence"`
	Trajectory        [][4]float64 `json:"trajectory"`
}

// Clone returns a deep copy.
func (o TrackedObject) Clone() TrackedObject {
	out := o
	out.Trajectory = append([][4]float64(nil), o.Trajectory...)
	return out
}

// ContextEntry is a read-only view of a stored frame for the reasoning stage.
type ContextEntry struct {
	FrameID           string                   `json:"frame_id"`
	Timestamp         float64                  `json:"timestamp"`
	Detections        []Detection              `json:"detections"`
	Description       string                   `json:"description"`
	Analysis          *Analysis                `json:"analysis,omitempty"`
	OngoingActivities []string                 `json:"ongoing_activities"`
	TrackedObjects    map[string]TrackedObject `json:"tracked_objects"`
}

// PacketEvent records one stage transition of a frame through the pipeline.
type PacketEvent struct {
	EventType   string         `json:"event_type"`
	Timestamp   float64        `json:"timestamp"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Summary     string         `json:"summary"`
	Payload     map[string]any `json:"payload"`
}

// QueueItemSummary describes one pending frame for dashboards.
type QueueItemSummary struct {
	FrameID   string  `json:"frame_id"`
	Timestamp float64 `json:"timestamp"`
	DeviceID  string  `json:"device_id"`
	ClientID  string  `json:"client_id"`
	Status    string  `json:"status"`
}

// ProcessingStats are pipeline counters reported to dashboards.
type ProcessingStats struct {
	FramesReceived    uint64  `json:"frames_received"`
	FramesProcessed   uint64  `json:"frames_processed"`
	FramesFailed      uint64  `json:"frames_failed"`
	ReasoningDegraded uint64  `json:"reasoning_degraded"`
	TotalDetections   uint64  `json:"total_detections"`
	QuestionsAnswered uint64  `json:"questions_answered"`
	AverageConfidence float64 `json:"average_confidence"`
	AverageProcessMS  float64 `json:"average_process_ms"`
	LastProcessMS     float64 `json:"last_process_ms"`
}
