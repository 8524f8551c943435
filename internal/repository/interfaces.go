package repository

import (
	"visionpharma/internal/model"
)

// InspectionRepository defines the interface for inspection record operations.
type InspectionRepository interface {
	// Create operations
	Insert(rec *model.InspectionRecord) (int64, error)

	// Read operations
	GetByID(id int64) (*model.InspectionRecord, error)
	GetAll(filter *model.InspectionFilter) ([]model.InspectionRecord, error)
	GetTotalCount(filter *model.InspectionFilter) (int, error)
	GetStats() (*model.InspectionStats, error)

	// Delete operations
	Delete(id int64) error
	DeleteAll() error
}

// DetectionRepository defines the interface for per-cavity detection rows.
type DetectionRepository interface {
	InsertBatch(inspectionID int64, detections []model.Detection) error
	GetByInspectionID(inspectionID int64) ([]model.Detection, error)
	DeleteByInspectionID(inspectionID int64) error
}
