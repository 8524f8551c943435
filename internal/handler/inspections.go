package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"visionpharma/internal/logger"
	"visionpharma/internal/model"
	"visionpharma/internal/repository"
)

// MaxPageLimit caps the page size of inspection listings.
const MaxPageLimit = 100

// ResultFiles is the on-disk store of inspection step images.
type ResultFiles interface {
	Path(name string) (string, error)
	Clear() (int, error)
	Size() (int64, error)
}

// StatsResponse adds disk usage of stored result images to the statistics.
type StatsResponse struct {
	*model.InspectionStats
	ResultsBytes int64 `json:"results_bytes"`
}

// InspectionsPage is the paginated inspection listing.
type InspectionsPage struct {
	Inspections []model.InspectionRecord `json:"inspections"`
	Length      int                      `json:"length"`
	TotalPages  int                      `json:"totalPages"`
	CurrentPage int                      `json:"currentPage"`
	Limit       int                      `json:"limit"`
}

// GetInspectionsHandler returns a filtered, paginated list of inspections.
func GetInspectionsHandler(logger *logger.Logger, inspectionRepo repository.InspectionRepository,
	detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)
		if limit > MaxPageLimit {
			limit = MaxPageLimit
		}

		filter := &model.InspectionFilter{
			Status: q.Get("status"),
			Source: q.Get("source"),
			After:  parseDate(q.Get("dateAfter")),
			Before: endOfDay(parseDate(q.Get("dateBefore"))),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		records, err := inspectionRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying inspections from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := inspectionRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting inspections: %v", err)
			totalCount = len(records)
		}

		if detectionRepo != nil && q.Get("detections") == "true" {
			for i := range records {
				detections, err := detectionRepo.GetByInspectionID(records[i].ID)
				if err != nil {
					logger.Error("Error getting detections for inspection %d: %v", records[i].ID, err)
					continue
				}
				records[i].Detections = detections
			}
		}

		writeJSON(w, http.StatusOK, InspectionsPage{
			Inspections: records,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetInspectionHandler returns one inspection with its detections.
func GetInspectionHandler(logger *logger.Logger, inspectionRepo repository.InspectionRepository,
	detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Valid id required", http.StatusBadRequest)
			return
		}

		rec, err := inspectionRepo.GetByID(id)
		if err != nil {
			logger.Error("Error getting inspection %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.NotFound(w, r)
			return
		}

		if detectionRepo != nil {
			if rec.Detections, err = detectionRepo.GetByInspectionID(id); err != nil {
				logger.Error("Error getting detections for inspection %d: %v", id, err)
			}
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// InspectionStatsHandler returns aggregate statistics.
func InspectionStatsHandler(logger *logger.Logger, inspectionRepo repository.InspectionRepository,
	results ResultFiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := inspectionRepo.GetStats()
		if err != nil {
			logger.Error("Error getting inspection stats: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		resp := StatsResponse{InspectionStats: stats}
		if results != nil {
			if resp.ResultsBytes, err = results.Size(); err != nil {
				logger.Error("Error getting results directory size: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DeleteInspectionHandler removes one inspection from the database.
func DeleteInspectionHandler(logger *logger.Logger, inspectionRepo repository.InspectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Valid id required", http.StatusBadRequest)
			return
		}

		if err := inspectionRepo.Delete(id); err != nil {
			logger.Error("Failed to delete inspection %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted inspection: %d", id)
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "id": id})
	}
}

// ClearInspectionsHandler deletes every inspection and stored result image.
func ClearInspectionsHandler(logger *logger.Logger, inspectionRepo repository.InspectionRepository,
	results ResultFiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := inspectionRepo.DeleteAll(); err != nil {
			logger.Error("Error clearing database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		if results != nil {
			n, err := results.Clear()
			if err != nil {
				logger.Error("Error clearing result images: %v", err)
			}
			logger.Info("All inspections cleared, %d result images removed", n)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ResultImageHandler serves a stored step image under /results/.
func ResultImageHandler(results ResultFiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/results/")
		path, err := results.Path(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
