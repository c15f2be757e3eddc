package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDetection_ClampsBBox(t *testing.T) {
	d := NewDetection("person", 0.9, []float64{1.5, -0.2, 0.9, 0.4}, nil)

	assert.Equal(t, [4]float64{1.0, 0.0, 0.9, 0.4}, d.BBox)
	assert.Equal(t, 0.9, d.Confidence)
	assert.False(t, d.HasTrack())
}

func TestNewDetection_ClampsConfidenceAndShortBBox(t *testing.T) {
	d := NewDetection("car", 1.7, []float64{0.5}, nil)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, [4]float64{0.5, 0, 0, 0}, d.BBox)

	d = NewDetection("car", math.NaN(), []float64{math.NaN(), 0.1, 0.2, 0.3, 0.4}, nil)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Equal(t, [4]float64{0, 0.1, 0.2, 0.3}, d.BBox)
}

func TestDetection_TrackKeyCopiesID(t *testing.T) {
	id := 7
	d := NewDetection("dog", 0.5, []float64{0, 0, 1, 1}, &id)
	id = 9

	assert.Equal(t, "dog_7", d.TrackKey())
	assert.Equal(t, "", NewDetection("dog", 0.5, nil, nil).TrackKey())
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"valid", Frame{FrameID: "f1", Timestamp: 1}, false},
		{"zero timestamp", Frame{FrameID: "f1"}, false},
		{"missing id", Frame{Timestamp: 1}, true},
		{"negative timestamp", Frame{FrameID: "f1", Timestamp: -1}, true},
		{"nan timestamp", Frame{FrameID: "f1", Timestamp: math.NaN()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFrame)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFrame_WithInferenceLeavesOriginal(t *testing.T) {
	original := Frame{
		FrameID:    "f1",
		Timestamp:  2,
		Detections: []Detection{NewDetection("cat", 0.4, []float64{0, 0, 0.5, 0.5}, nil)},
	}
	vision := VisionResult{
		Description: "a dog on a sofa",
		Confidence:  0.75,
		Detections:  []Detection{NewDetection("dog", 0.8, []float64{0.1, 0.1, 0.6, 0.6}, nil)},
	}

	processed := original.WithInference(vision)
	vision.Detections[0].Label = "mutated"

	require.Len(t, processed.Detections, 1)
	assert.Equal(t, "dog", processed.Detections[0].Label)
	assert.Equal(t, "a dog on a sofa", processed.Description)
	assert.Equal(t, "cat", original.Detections[0].Label)
	assert.Empty(t, original.Description)
}

func TestVisionResult_Validate(t *testing.T) {
	assert.NoError(t, VisionResult{Description: "room", Confidence: 0.5}.Validate())
	assert.ErrorIs(t, VisionResult{Description: "room", Confidence: 1.5}.Validate(), ErrMalformedVision)
	assert.ErrorIs(t, VisionResult{Confidence: 0.5}.Validate(), ErrMalformedVision)
}

func TestDegradedAnalysis(t *testing.T) {
	a := DegradedAnalysis()

	assert.Equal(t, "Error analyzing scene", a.SceneDescription)
	assert.NotNil(t, a.ContextualInsights)
	assert.Empty(t, a.ContextualInsights)
	assert.NotNil(t, a.EnhancedDetections)
	assert.Empty(t, a.EnhancedDetections)
	assert.Equal(t, 0.0, a.Confidence)
}

func TestParseModes(t *testing.T) {
	m, err := ParseProcessingMode(" Direct ")
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, m)

	_, err = ParseProcessingMode("batch")
	assert.ErrorIs(t, err, ErrUnknownMode)

	v, err := ParseVisionMode("split")
	require.NoError(t, err)
	assert.Equal(t, VisionSplit, v)

	_, err = ParseVisionMode("")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "human", Category("Person"))
	assert.Equal(t, "vehicle", Category("bus"))
	assert.Equal(t, "animal", Category("cat"))
	assert.Equal(t, "object", Category("laptop"))
}
