package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/service/llm"
)

type stubGenerator struct {
	text    string
	err     error
	prompts []string
}

func (g *stubGenerator) Complete(_ context.Context, _ string, prompt string) (llm.Completion, error) {
	g.prompts = append(g.prompts, prompt)
	return llm.Completion{Text: g.text}, g.err
}

func (g *stubGenerator) Healthy() bool { return g.err == nil }

func TestSpatialLabel(t *testing.T) {
	tests := []struct {
		bbox [4]float64
		want string
	}{
		{[4]float64{0.4, 0.4, 0.6, 0.6}, "center"},
		{[4]float64{0, 0, 0.2, 0.2}, "top left"},
		{[4]float64{0.8, 0.8, 1, 1}, "bottom right"},
		{[4]float64{0.4, 0, 0.6, 0.2}, "top"},
		{[4]float64{0, 0.4, 0.2, 0.6}, "left"},
		{[4]float64{0.8, 0.4, 1, 0.6}, "right"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SpatialLabel(tt.bbox), "bbox %v", tt.bbox)
	}
}

func TestScenePrompt(t *testing.T) {
	vision := model.VisionResult{
		Description: "a person near a car",
		Detections: []model.Detection{
			model.NewDetection("person", 0.9, []float64{0, 0, 0.2, 0.2}, nil),
		},
	}
	history := []model.ContextEntry{
		{FrameID: "f1", Description: "empty street"},
		{FrameID: "f2", Description: "a car parked"},
	}

	prompt := ScenePrompt(vision, history)
	assert.True(t, strings.HasPrefix(prompt, "Analyze the current scene."))
	assert.Contains(t, prompt, "Previous: a car parked\n")
	assert.Contains(t, prompt, "Current: a person near a car\n")
	assert.Contains(t, prompt, "Objects: person (top left)\n")
	assert.True(t, strings.HasSuffix(prompt, "(max 20 words) highlighting changes or main elements."))

	bare := ScenePrompt(model.VisionResult{}, nil)
	assert.NotContains(t, bare, "Previous:")
	assert.NotContains(t, bare, "Objects:")
}

func TestQuestionPrompt(t *testing.T) {
	history := []model.ContextEntry{{
		FrameID:    "f9",
		Timestamp:  12.5,
		Analysis:   &model.Analysis{SceneDescription: "kitchen"},
		Detections: []model.Detection{{Label: "cup"}},
	}}
	prompt := QuestionPrompt("What room?", history)

	assert.Contains(t, prompt, "Question: What room?\n\n")
	assert.Contains(t, prompt, "- Frame ID: f9\n")
	assert.Contains(t, prompt, "  Timestamp: 12.5\n")
	assert.Contains(t, prompt, "  Scene Description: kitchen\n")
	assert.Contains(t, prompt, "  Detections: 1 objects\n")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
	assert.NotContains(t, QuestionPrompt("q", nil), "Context:")
}

func TestExtractInsights(t *testing.T) {
	response := "Summary line\n- person entered\n• door opened\n  * light on\nInsight: busy hour\nNote: low light\nplain text"
	assert.Equal(t,
		[]string{"person entered", "door opened", "light on", "busy hour", "low light"},
		ExtractInsights(response))
	assert.Empty(t, ExtractInsights("nothing here"))
}

func TestReason(t *testing.T) {
	gen := &stubGenerator{text: "A person walks past a car.\n- person moving left"}
	r := NewReasoner(gen, "gemma3:1b", logger.NewNop())

	track := 4
	frame := model.Frame{
		FrameID:    "f1",
		Detections: []model.Detection{model.NewDetection("person", 0.9, []float64{0.8, 0.4, 1, 0.6}, &track)},
	}
	vision := model.VisionResult{Description: "street", Features: []string{"human"}}

	analysis, err := r.Reason(context.Background(), frame, vision, nil)
	require.NoError(t, err)
	assert.Equal(t, "A person walks past a car.\n- person moving left", analysis.SceneDescription)
	assert.Equal(t, []string{"person moving left"}, analysis.ContextualInsights)
	assert.Equal(t, TextConfidence, analysis.Confidence)

	require.Len(t, analysis.EnhancedDetections, 1)
	ed := analysis.EnhancedDetections[0]
	assert.Equal(t, "human", ed.Category)
	assert.True(t, ed.IsMoving)
	assert.Equal(t, "right", ed.Spatial)
	assert.Equal(t, []string{"human"}, ed.Features)
	assert.Equal(t, "person", ed.Label)
}

func TestReason_Fallbacks(t *testing.T) {
	gen := &stubGenerator{}
	r := NewReasoner(gen, "m", logger.NewNop())

	analysis, err := r.Reason(context.Background(), model.Frame{}, model.VisionResult{Description: "vlm says hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "vlm says hi", analysis.SceneDescription)

	analysis, err = r.Reason(context.Background(), model.Frame{}, model.VisionResult{}, nil)
	require.NoError(t, err)
	assert.Equal(t, NoDescription, analysis.SceneDescription)

	gen.err = errors.New("connection refused")
	_, err = r.Reason(context.Background(), model.Frame{}, model.VisionResult{}, nil)
	assert.Error(t, err)
	assert.False(t, r.Healthy())
}

func TestAnswer(t *testing.T) {
	gen := &stubGenerator{text: "Two people."}
	r := NewReasoner(gen, "m", logger.NewNop())

	answer, err := r.Answer(context.Background(), "How many?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Two people.", answer)
	assert.Contains(t, gen.prompts[0], "Question: How many?")

	gen.text = ""
	_, err = r.Answer(context.Background(), "How many?", nil)
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}
