package reasoning

import (
	"fmt"
	"strings"

	"orionserver/internal/model"
)

// SpatialLabel names the region of the frame holding the bbox center,
// e.g. "top left", "right" or "center".
func SpatialLabel(bbox [4]float64) string {
	x := (bbox[0] + bbox[2]) / 2
	y := (bbox[1] + bbox[3]) / 2

	vertical := "center"
	switch {
	case y < 0.33:
		vertical = "top"
	case y > 0.66:
		vertical = "bottom"
	}
	horizontal := "center"
	switch {
	case x < 0.33:
		horizontal = "left"
	case x > 0.66:
		horizontal = "right"
	}

	switch {
	case vertical == "center" && horizontal == "center":
		return "center"
	case vertical == "center":
		return horizontal
	case horizontal == "center":
		return vertical
	}
	return vertical + " " + horizontal
}

// ScenePrompt asks for a short summary of the current scene and what changed
// since the most recent prior frame.
func ScenePrompt(vision model.VisionResult, history []model.ContextEntry) string {
	var b strings.Builder
	b.WriteString("Analyze the current scene. Focus on key objects and any changes from the previous scene.\n")

	if len(history) > 0 {
		last := history[len(history)-1]
		previous := strings.TrimSpace(last.Description)
		if previous == "" && last.Analysis != nil {
			previous = strings.TrimSpace(last.Analysis.SceneDescription)
		}
		if previous != "" {
			fmt.Fprintf(&b, "Previous: %s\n", previous)
		}
	}

	if current := strings.TrimSpace(vision.Description); current != "" {
		fmt.Fprintf(&b, "Current: %s\n", current)
	}

	if len(vision.Detections) > 0 {
		objects := make([]string, 0, len(vision.Detections))
		for _, d := range vision.Detections {
			objects = append(objects, fmt.Sprintf("%s (%s)", d.Label, SpatialLabel(d.BBox)))
		}
		fmt.Fprintf(&b, "Objects: %s\n", strings.Join(objects, ", "))
	}

	b.WriteString("Provide a very brief summary (max 20 words) highlighting changes or main elements.")
	return b.String()
}

// QuestionPrompt asks a question against the given context window.
func QuestionPrompt(question string, history []model.ContextEntry) string {
	var b strings.Builder
	b.WriteString("You are an intelligent assistant. Answer the following question based on the provided context.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	if len(history) > 0 {
		b.WriteString("Context:\n")
		for _, e := range history {
			fmt.Fprintf(&b, "- Frame ID: %s\n", e.FrameID)
			fmt.Fprintf(&b, "  Timestamp: %v\n", e.Timestamp)
			if e.Analysis != nil && e.Analysis.SceneDescription != "" {
				fmt.Fprintf(&b, "  Scene Description: %s\n", e.Analysis.SceneDescription)
			}
			if len(e.Detections) > 0 {
				fmt.Fprintf(&b, "  Detections: %d objects\n", len(e.Detections))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Answer:")
	return b.String()
}

var insightMarkers = []string{"- ", "• ", "* ", "Insight:", "Note:"}

// ExtractInsights returns the bullet or "Insight:"/"Note:" lines of a response.
func ExtractInsights(response string) []string {
	insights := []string{}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		for _, m := range insightMarkers {
			if !strings.HasPrefix(line, m) {
				continue
			}
			text := strings.TrimSpace(strings.TrimLeft(line, "-•* "))
			text = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(text, "Insight:"), "Note:"))
			if text != "" {
				insights = append(insights, text)
			}
			break
		}
	}
	return insights
}
