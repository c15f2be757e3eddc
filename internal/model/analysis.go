package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedVision is returned when a vision result violates its contract.
var ErrMalformedVision = errors.New("malformed vision result")

// DegradedDescription is the scene description used when reasoning fails.
const DegradedDescription = "Error analyzing scene"

// VisionResult is the output of the vision stage.
type VisionResult struct {
	Description string      `json:"description"`
	Confidence  float64     `json:"confidence"`
	Detections  []Detection `json:"detections"`
	Features    []string    `json:"scene_features"`
	Error       string      `json:"error,omitempty"`
}

// Validate checks the vision result contract.
func (v VisionResult) Validate() error {
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrMalformedVision, v.Confidence)
	}
	if v.Description == "" && len(v.Detections) == 0 {
		return fmt.Errorf("%w: no description and no detections", ErrMalformedVision)
	}
	return nil
}

// EnhancedDetection is a detection annotated by the reasoning stage.
type EnhancedDetection struct {
	Detection
	Category string   `json:"category"`
	IsMoving bool     `json:"is_moving"`
	Spatial  string   `json:"spatial"`
	Features []string `json:"features"`
	Context  string   `json:"context"`
}

// Analysis is the reasoning stage output sent back to producers.
type Analysis struct {
	SceneDescription   string              `json:"scene_description"`
	ContextualInsights []string            `json:"contextual_insights"`
	EnhancedDetections []EnhancedDetection `json:"enhanced_detections"`
	Confidence         float64             `json:"confidence"`
}

// DegradedAnalysis is substituted when the reasoning collaborator fails.
func DegradedAnalysis() Analysis {
	return Analysis{
		SceneDescription:   DegradedDescription,
		ContextualInsights: []string{},
		EnhancedDetections: []EnhancedDetection{},
		Confidence:         0.0,
	}
}

// Normalize replaces nil slices so the analysis always serializes as arrays.
func (a Analysis) Normalize() Analysis {
	if a.ContextualInsights == nil {
		a.ContextualInsights = []string{}
	}
	if a.EnhancedDetections == nil {
		a.EnhancedDetections = []EnhancedDetection{}
	}
	a.Confidence = clampUnit(a.Confidence)
	return a
}

// SceneState is the latest known scene snapshot.
type SceneState struct {
	LastDescription string    `json:"last_description"`
	Confidence      float64   `json:"confidence"`
	Timestamp       time.Time `json:"timestamp"`
}

// FrameResult is what the pipeline hands to result sinks after a frame.
type FrameResult struct {
	FrameID    string        `json:"frame_id"`
	DeviceID   string        `json:"device_id,omitempty"`
	ClientID   string        `json:"client_id"`
	Timestamp  float64       `json:"timestamp"`
	Detections []Detection   `json:"detections"`
	Analysis   Analysis      `json:"analysis"`
	Duration   time.Duration `json:"duration_ns"`
	Image      []byte        `json:"-"`
	Error      string        `json:"error,omitempty"`
}
