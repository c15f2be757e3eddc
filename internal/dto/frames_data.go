package dto

import (
	"encoding/json"
	"time"
)

// FramesData is a paginated response payload for the archive listing.
type FramesData struct {
	Frames      []FrameInfo `json:"frames"`
	Length      int         `json:"length"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
	Limit       int         `json:"pageSize"`
}

// FrameInfo is one archived frame as shown by the archive API.
type FrameInfo struct {
	FrameID          string    `json:"frame_id"`
	Device           string    `json:"device"`
	Date             time.Time `json:"date"`
	TimeOfDay        time.Time `json:"timeOfDay"`
	SceneDescription string    `json:"scene_description"`
	Confidence       float64   `json:"confidence"`
	Objects          []string  `json:"objects"`
	HasImage         bool      `json:"has_image"`
	Error            string    `json:"error,omitempty"`
}

// MarshalJSON formats the date and time-of-day fields for display.
func (f FrameInfo) MarshalJSON() ([]byte, error) {
	type Alias FrameInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      f.Date.Format("02-01-2006"),
		TimeOfDay: f.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(f),
	})
}

// TotalPages returns the page count for length items split into pages of limit.
func TotalPages(length, limit int) int {
	if length <= 0 || limit <= 0 {
		return 0
	}
	return (length + limit - 1) / limit
}
