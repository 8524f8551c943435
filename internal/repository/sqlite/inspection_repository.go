package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"visionpharma/internal/model"
)

// InspectionRepository implements repository.InspectionRepository for SQLite.
type InspectionRepository struct {
	db *DB
}

// NewInspectionRepository creates a new SQLite inspection repository.
func NewInspectionRepository(db *DB) *InspectionRepository {
	return &InspectionRepository{db: db}
}

// Insert adds a new inspection record to the database.
func (r *InspectionRepository) Insert(rec *model.InspectionRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	source := rec.Source
	if source == "" {
		source = "upload"
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO inspections (timestamp, source, total_pastillas, total_vacios, estado_final, imagen_resultado)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ts.UTC(), source, rec.FilledCount, rec.EmptyCount, rec.Status, rec.ResultImage)
	if err != nil {
		return 0, fmt.Errorf("failed to insert inspection: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves an inspection by its ID. It returns nil, nil when the
// record does not exist.
func (r *InspectionRepository) GetByID(id int64) (*model.InspectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var rec model.InspectionRecord
	err := r.db.Conn().QueryRow(`
		SELECT id, timestamp, source, total_pastillas, total_vacios, estado_final, imagen_resultado
		FROM inspections WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Timestamp, &rec.Source, &rec.FilledCount, &rec.EmptyCount, &rec.Status, &rec.ResultImage)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inspection: %w", err)
	}
	return &rec, nil
}

// whereClause builds the shared filter for listing and counting.
func whereClause(filter *model.InspectionFilter) (string, []interface{}) {
	query := " WHERE 1=1"
	args := []interface{}{}
	if filter == nil {
		return query, args
	}

	if filter.Status != "" {
		query += " AND estado_final = ?"
		args = append(args, filter.Status)
	}

	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}

	if !filter.After.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.After.UTC())
	}

	if !filter.Before.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Before.UTC())
	}

	return query, args
}

// GetAll retrieves inspections, newest first, based on filter criteria.
func (r *InspectionRepository) GetAll(filter *model.InspectionFilter) ([]model.InspectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `
		SELECT id, timestamp, source, total_pastillas, total_vacios, estado_final, imagen_resultado
		FROM inspections` + where + " ORDER BY timestamp DESC, id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inspections: %w", err)
	}
	defer rows.Close()

	records := []model.InspectionRecord{}
	for rows.Next() {
		var rec model.InspectionRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Source, &rec.FilledCount, &rec.EmptyCount, &rec.Status, &rec.ResultImage); err != nil {
			return nil, fmt.Errorf("failed to scan inspection: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetTotalCount returns the number of inspections matching the filter.
func (r *InspectionRepository) GetTotalCount(filter *model.InspectionFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM inspections`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count inspections: %w", err)
	}
	return count, nil
}

// GetStats returns aggregate statistics over all inspections.
func (r *InspectionRepository) GetStats() (*model.InspectionStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.InspectionStats{
		PerStatus: make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(total_pastillas), 0), COALESCE(SUM(total_vacios), 0)
		FROM inspections
	`).Scan(&stats.Total, &stats.TotalFilled, &stats.TotalEmpty); err != nil {
		return nil, fmt.Errorf("failed to aggregate inspections: %w", err)
	}

	rows, err := r.db.Conn().Query(`SELECT estado_final, COUNT(*) FROM inspections GROUP BY estado_final`)
	if err != nil {
		return nil, fmt.Errorf("failed to group inspections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.PerStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.DefectRate = float64(stats.PerStatus[model.VerdictDefective]) / float64(stats.Total)

		var last time.Time
		err := r.db.Conn().QueryRow(`SELECT timestamp FROM inspections ORDER BY timestamp DESC LIMIT 1`).Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("failed to get last inspection: %w", err)
		}
		stats.LastInspection = &last
	}

	return stats, nil
}

// Delete removes an inspection and its detections.
func (r *InspectionRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE inspection_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM inspections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete inspection: %w", err)
	}
	return nil
}

// DeleteAll removes all inspections and their detections.
func (r *InspectionRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM inspections`); err != nil {
		return fmt.Errorf("failed to delete inspections: %w", err)
	}
	return nil
}
