package reasoning

import (
	"context"
	"errors"
	"strings"

	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/service/llm"
)

// TextConfidence is assigned to generated analyses, which carry no score.
const TextConfidence = 0.8

// NoDescription is used when neither the model nor the vision stage describe the scene.
const NoDescription = "No meaningful scene description available."

// ErrEmptyAnswer is returned when the model produced no text for a question.
var ErrEmptyAnswer = errors.New("empty answer")

// Generator completes text prompts.
type Generator interface {
	Complete(ctx context.Context, model, prompt string) (llm.Completion, error)
	Healthy() bool
}

// Reasoner turns vision results and recent context into a scene analysis.
type Reasoner struct {
	generator Generator
	model     string
	logger    *logger.Logger
}

func NewReasoner(generator Generator, model string, logger *logger.Logger) *Reasoner {
	return &Reasoner{generator: generator, model: model, logger: logger}
}

func (r *Reasoner) Healthy() bool {
	return r.generator.Healthy()
}

// Reason analyzes the scene. Errors come only from the generator.
func (r *Reasoner) Reason(ctx context.Context, frame model.Frame, vision model.VisionResult, history []model.ContextEntry) (model.Analysis, error) {
	out, err := r.generator.Complete(ctx, r.model, ScenePrompt(vision, history))
	if err != nil {
		return model.Analysis{}, err
	}

	return model.Analysis{
		SceneDescription:   sceneDescription(out.Text, vision.Description),
		ContextualInsights: ExtractInsights(out.Text),
		EnhancedDetections: EnhanceDetections(frame.Detections, vision, out.Text),
		Confidence:         TextConfidence,
	}, nil
}

// Answer replies to a free-text question about recent frames.
func (r *Reasoner) Answer(ctx context.Context, question string, history []model.ContextEntry) (string, error) {
	out, err := r.generator.Complete(ctx, r.model, QuestionPrompt(question, history))
	if err != nil {
		return "", err
	}
	if out.Text == "" {
		return "", ErrEmptyAnswer
	}
	return out.Text, nil
}

func sceneDescription(response, visionDescription string) string {
	if s := strings.TrimSpace(response); s != "" {
		return s
	}
	if s := strings.TrimSpace(visionDescription); s != "" {
		return s
	}
	return NoDescription
}

// EnhanceDetections annotates each detection with its category, motion,
// position in the frame and the scene context.
func EnhanceDetections(detections []model.Detection, vision model.VisionResult, response string) []model.EnhancedDetection {
	out := make([]model.EnhancedDetection, 0, len(detections))
	for _, d := range detections {
		features := append([]string{}, vision.Features...)
		out = append(out, model.EnhancedDetection{
			Detection: d,
			Category:  model.Category(d.Label),
			IsMoving:  d.HasTrack(),
			Spatial:   SpatialLabel(d.BBox),
			Features:  features,
			Context:   strings.TrimSpace(response),
		})
	}
	return out
}
