package model

import "time"

// Final inspection verdicts.
const (
	VerdictApproved  = "Aprobado"
	VerdictDefective = "Defectuoso"
)

// InspectionRecord is the persisted summary of one inspection.
type InspectionRecord struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	FilledCount int       `json:"total_pastillas"`
	EmptyCount  int       `json:"total_vacios"`
	Status      string    `json:"estado_final"`
	ResultImage string    `json:"imagen_resultado,omitempty"`

	Detections []Detection `json:"detections,omitempty"`
}

// InspectionFilter narrows inspection listings.
type InspectionFilter struct {
	Status string
	Source string
	After  time.Time
	Before time.Time
	Limit  int
	Offset int
}

// InspectionStats aggregates stored inspections.
type InspectionStats struct {
	Total          int            `json:"total"`
	PerStatus      map[string]int `json:"per_status"`
	TotalFilled    int            `json:"total_pastillas"`
	TotalEmpty     int            `json:"total_vacios"`
	DefectRate     float64        `json:"defect_rate"`
	LastInspection *time.Time     `json:"last_inspection,omitempty"`
}

// Summarize counts filled and empty cavities and derives the verdict.
func Summarize(detections []Detection) (filled, empty int, status string) {
	for _, d := range detections {
		switch d.Status {
		case StatusFilled:
			filled++
		case StatusEmpty:
			empty++
		}
	}
	status = VerdictApproved
	if empty > 0 {
		status = VerdictDefective
	}
	return filled, empty, status
}
