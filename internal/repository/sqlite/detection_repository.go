package sqlite

import (
	"fmt"

	"visionpharma/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch stores the cavities of one inspection in a single transaction.
func (r *DetectionRepository) InsertBatch(inspectionID int64, detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (inspection_id, cavity, class_id, status, confidence, area, x, y, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range detections {
		if _, err := stmt.Exec(inspectionID, d.ID, d.ClassID, d.Status, d.Confidence, d.Area,
			d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByInspectionID retrieves the cavities of an inspection in cavity order.
func (r *DetectionRepository) GetByInspectionID(inspectionID int64) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT cavity, class_id, status, confidence, area, x, y, width, height
		FROM detections WHERE inspection_id = ? ORDER BY status, cavity
	`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var d model.Detection
		if err := rows.Scan(&d.ID, &d.ClassID, &d.Status, &d.Confidence, &d.Area,
			&d.Box.X, &d.Box.Y, &d.Box.Width, &d.Box.Height); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, d)
	}

	return detections, rows.Err()
}

// DeleteByInspectionID removes all detections for an inspection.
func (r *DetectionRepository) DeleteByInspectionID(inspectionID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE inspection_id = ?`, inspectionID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}
