package dto

import "time"

// FrameFilters describe user-provided filters to narrow the archived frame list.
type FrameFilters struct {
	Device     string
	Object     string
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
