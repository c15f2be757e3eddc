package vision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"orionserver/internal/logger"
	"orionserver/internal/model"
	"orionserver/internal/service/llm"
)

// CaptionConfidence is assigned to captions from the vision-language model,
// which reports no score of its own.
const CaptionConfidence = 0.75

// CaptionPrompt is sent with every image to the vision-language model.
const CaptionPrompt = "Describe this scene in one short sentence. Mention the main objects and what they are doing."

// ErrNoDetector is returned in full mode when no detector is loaded.
var ErrNoDetector = errors.New("object detector unavailable")

// Detector finds objects in encoded images.
type Detector interface {
	Detect(image []byte) ([]model.Detection, error)
	DetectMotion(image []byte, deviceID string) (bool, error)
	Healthy() bool
}

// Captioner describes encoded images.
type Captioner interface {
	Describe(ctx context.Context, model, prompt string, image []byte) (llm.Completion, error)
	Healthy() bool
}

// Analyzer is the vision stage. In full mode it detects and captions on the
// server; in split mode it trusts what the device attached and only captions
// when the device sent an image without a description.
type Analyzer struct {
	mode      model.VisionMode
	detector  Detector
	captioner Captioner
	vlmModel  string
	logger    *logger.Logger
}

// NewAnalyzer creates the vision stage. detector and captioner may be nil.
func NewAnalyzer(mode model.VisionMode, detector Detector, captioner Captioner, vlmModel string, logger *logger.Logger) *Analyzer {
	return &Analyzer{
		mode:      mode,
		detector:  detector,
		captioner: captioner,
		vlmModel:  vlmModel,
		logger:    logger,
	}
}

// RequiresImage reports whether frames must carry image bytes.
func (a *Analyzer) RequiresImage() bool {
	return a.mode == model.VisionFull
}

func (a *Analyzer) Healthy() bool {
	if a.mode == model.VisionFull {
		return a.detector != nil && a.detector.Healthy()
	}
	return a.captioner == nil || a.captioner.Healthy()
}

func (a *Analyzer) Analyze(ctx context.Context, frame model.Frame) (model.VisionResult, error) {
	if a.mode == model.VisionFull {
		return a.analyzeFull(ctx, frame)
	}
	return a.analyzeSplit(ctx, frame)
}

func (a *Analyzer) analyzeFull(ctx context.Context, frame model.Frame) (model.VisionResult, error) {
	if a.detector == nil || !a.detector.Healthy() {
		return model.VisionResult{}, ErrNoDetector
	}
	detections, err := a.detector.Detect(frame.ImageData)
	if err != nil {
		return model.VisionResult{}, fmt.Errorf("detection failed: %w", err)
	}

	result := model.VisionResult{
		Detections: detections,
		Features:   Features(detections),
	}
	if moving, err := a.detector.DetectMotion(frame.ImageData, deviceKey(frame)); err != nil {
		a.logger.Warning("Motion detection failed for %s: %v", deviceKey(frame), err)
	} else if moving {
		result.Features = append(result.Features, "motion")
	}

	if caption, ok := a.caption(ctx, frame); ok {
		result.Description = caption
		result.Confidence = CaptionConfidence
	} else {
		result.Description = Describe(detections)
		result.Confidence = AverageConfidence(detections)
	}
	return result, nil
}

func (a *Analyzer) analyzeSplit(ctx context.Context, frame model.Frame) (model.VisionResult, error) {
	result := model.VisionResult{
		Detections:  model.CloneDetections(frame.Detections),
		Description: strings.TrimSpace(frame.Description),
		Confidence:  frame.Confidence,
		Features:    Features(frame.Detections),
	}

	if result.Description == "" && frame.HasImage() {
		if caption, ok := a.caption(ctx, frame); ok {
			result.Description = caption
			result.Confidence = CaptionConfidence
		}
	}
	if result.Description == "" {
		result.Description = Describe(frame.Detections)
		if !frame.HasImage() {
			result.Error = "No image data available"
		}
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		result.Confidence = AverageConfidence(frame.Detections)
	}
	return result, nil
}

// caption asks the vision-language model for a description. Failures are
// logged and reported as !ok so the caller can fall back.
func (a *Analyzer) caption(ctx context.Context, frame model.Frame) (string, bool) {
	if a.captioner == nil || !frame.HasImage() {
		return "", false
	}
	out, err := a.captioner.Describe(ctx, a.vlmModel, CaptionPrompt, frame.ImageData)
	if err != nil {
		a.logger.Warning("Captioning frame %s failed: %v", frame.FrameID, err)
		return "", false
	}
	if out.Text == "" {
		return "", false
	}
	return out.Text, true
}

// Describe summarizes detections by category, e.g. "Scene contains 2 humans, 1 vehicle".
func Describe(detections []model.Detection) string {
	if len(detections) == 0 {
		return "No objects detected"
	}

	counts := make(map[string]int)
	var order []string
	for _, d := range detections {
		c := model.Category(d.Label)
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}

	parts := make([]string, 0, len(order))
	for _, c := range order {
		n := counts[c]
		if n > 1 {
			parts = append(parts, fmt.Sprintf("%d %ss", n, c))
		} else {
			parts = append(parts, fmt.Sprintf("%d %s", n, c))
		}
	}
	return "Scene contains " + strings.Join(parts, ", ")
}

// AverageConfidence is the mean detection confidence, 0 when there are none.
func AverageConfidence(detections []model.Detection) float64 {
	if len(detections) == 0 {
		return 0
	}
	var sum float64
	for _, d := range detections {
		sum += d.Confidence
	}
	return sum / float64(len(detections))
}

// Features lists the distinct detection categories, sorted.
func Features(detections []model.Detection) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, d := range detections {
		c := model.Category(d.Label)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func deviceKey(frame model.Frame) string {
	if frame.DeviceID != "" {
		return frame.DeviceID
	}
	return "unknown"
}
