package repository

import (
	"time"

	"orionserver/internal/dto"
	"orionserver/internal/model"
)

// FrameRepository defines the interface for archived frame operations.
type FrameRepository interface {
	// Create operations
	Insert(rec *model.FrameRecord) (int64, error)
	InsertWithDetections(rec *model.FrameRecord, detections []model.DetectionRecord) (int64, error)

	// Read operations
	GetByID(id int64) (*model.FrameRecord, error)
	GetByFrameID(frameID string) (*model.FrameRecord, error)
	GetAll(filter *dto.FrameFilters) ([]model.FrameRecord, error)
	GetTotalCount(filter *dto.FrameFilters) (int, error)
	GetDevices() ([]string, error)
	GetStats() (*model.ArchiveStats, error)

	// Delete operations
	DeleteOlderThan(cutoff time.Time) (int64, error)
	DeleteAll() error
}

// DetectionRepository defines the interface for archived detection operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.DetectionRecord) error

	// Read operations
	GetByFrameRowID(frameRowID int64) ([]model.DetectionRecord, error)
	GetLabelsByFrameRowID(frameRowID int64) ([]string, error)
	GetAllLabels() ([]string, error)

	// Delete operations
	DeleteByFrameRowID(frameRowID int64) error
}
