package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidFrame is returned when a frame fails shape validation.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Detection is one recognized object inside a frame.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // [x1, y1, x2, y2], normalized
	TrackID    *int       `json:"track_id"`
}

// NewDetection builds a Detection, clamping bbox and confidence into [0,1].
// Missing bbox coordinates are treated as zero, extra ones are ignored.
func NewDetection(label string, confidence float64, bbox []float64, trackID *int) Detection {
	d := Detection{
		Label:      label,
		Confidence: clampUnit(confidence),
	}
	for i := 0; i < len(d.BBox) && i < len(bbox); i++ {
		d.BBox[i] = clampUnit(bbox[i])
	}
	if trackID != nil {
		id := *trackID
		d.TrackID = &id
	}
	return d
}

// HasTrack reports whether the detection carries a track id.
func (d Detection) HasTrack() bool {
	return d.TrackID != nil
}

// TrackKey returns the tracked-object key "label_trackid". Empty when untracked.
func (d Detection) TrackKey() string {
	if d.TrackID == nil {
		return ""
	}
	return fmt.Sprintf("%s_%d", d.Label, *d.TrackID)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// Frame is one unit of visual input from a producer device.
// Frames are treated as immutable: use WithInference to derive a processed copy.
type Frame struct {
	FrameID     string      `json:"frame_id"`
	Timestamp   float64     `json:"timestamp"`
	DeviceID    string      `json:"device_id,omitempty"`
	ImageData   []byte      `json:"-"`
	Detections  []Detection `json:"detections"`
	Description string      `json:"description,omitempty"`
	Confidence  float64     `json:"confidence,omitempty"`
}

// HasImage reports whether image bytes were attached to the frame.
func (f Frame) HasImage() bool {
	return len(f.ImageData) > 0
}

// Validate checks the frame shape.
func (f Frame) Validate() error {
	if f.FrameID == "" {
		return fmt.Errorf("%w: frame_id is required", ErrInvalidFrame)
	}
	if math.IsNaN(f.Timestamp) || math.IsInf(f.Timestamp, 0) || f.Timestamp < 0 {
		return fmt.Errorf("%w: bad timestamp %v", ErrInvalidFrame, f.Timestamp)
	}
	return nil
}

// WithInference returns a copy of the frame carrying the vision outputs.
// The receiver is left untouched.
func (f Frame) WithInference(v VisionResult) Frame {
	out := f
	out.Detections = CloneDetections(v.Detections)
	out.Description = v.Description
	out.Confidence = v.Confidence
	return out
}

// CloneDetections copies a detection slice, including track id pointers.
func CloneDetections(in []Detection) []Detection {
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		out = append(out, NewDetection(d.Label, d.Confidence, d.BBox[:], d.TrackID))
	}
	return out
}
