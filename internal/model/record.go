package model

import "time"

// FrameRecord represents an archived frame row.
type FrameRecord struct {
	ID               int64     `json:"id"`
	FrameID          string    `json:"frame_id"`
	DeviceID         string    `json:"device_id"`
	ClientID         string    `json:"client_id"`
	Timestamp        time.Time `json:"timestamp"`
	SceneDescription string    `json:"scene_description"`
	Confidence       float64   `json:"confidence"`
	DurationMS       int64     `json:"duration_ms"`
	ImagePath        string    `json:"image_path,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// DetectionRecord represents an archived detection row.
type DetectionRecord struct {
	ID         int64   `json:"id"`
	FrameRowID int64   `json:"frame_row_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	TrackID    *int    `json:"track_id,omitempty"`
}

// ArchiveStats contains statistics about archived frames.
type ArchiveStats struct {
	TotalFrames  int            `json:"total_frames"`
	PerDevice    map[string]int `json:"per_device"`
	ObjectCounts map[string]int `json:"object_counts"`
	Errors       int            `json:"errors"`
}
