package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned when parsing an unsupported mode string.
var ErrUnknownMode = errors.New("unknown mode")

// ProcessingMode selects how incoming frames are dispatched.
type ProcessingMode string

const (
	// ModeQueued serializes frames through the ingest queue.
	ModeQueued ProcessingMode = "queued"
	// ModeDirect hands frames to the orchestrator from the connection goroutine.
	ModeDirect ProcessingMode = "direct"
)

// ParseProcessingMode parses "queued" or "direct".
func ParseProcessingMode(s string) (ProcessingMode, error) {
	switch m := ProcessingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeQueued, ModeDirect:
		return m, nil
	default:
		return "", fmt.Errorf("%w: processing mode %q", ErrUnknownMode, s)
	}
}

// VisionMode selects where detection and captioning happen.
type VisionMode string

const (
	// VisionFull runs detection and captioning server-side.
	VisionFull VisionMode = "full"
	// VisionSplit trusts detections and captions attached by the device.
	VisionSplit VisionMode = "split"
)

// ParseVisionMode parses "full" or "split".
func ParseVisionMode(s string) (VisionMode, error) {
	switch m := VisionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case VisionFull, VisionSplit:
		return m, nil
	default:
		return "", fmt.Errorf("%w: vision mode %q", ErrUnknownMode, s)
	}
}
