package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"visionpharma/internal/logger"
	"visionpharma/internal/model"
	"visionpharma/internal/service/inspection"
)

// Inspector runs the inspection pipeline.
type Inspector interface {
	InspectUpload(ctx context.Context, filename string, r io.Reader) (*inspection.Report, error)
	InspectFrame(ctx context.Context, frame model.Frame) (*inspection.Report, error)
}

// InspectHandler handles POST /api/inspect with a multipart "file" field.
func InspectHandler(insp Inspector, maxUpload int64, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if maxUpload > 0 {
			// multipart overhead on top of the file itself
			r.Body = http.MaxBytesReader(w, r.Body, maxUpload+1<<20)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				writeError(w, http.StatusBadRequest, "No file part")
				return
			}
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "File too large")
				return
			}
			writeError(w, http.StatusBadRequest, "Invalid upload")
			return
		}
		defer file.Close()

		if header.Filename == "" {
			writeError(w, http.StatusBadRequest, "No selected file")
			return
		}

		report, err := insp.InspectUpload(r.Context(), header.Filename, file)
		if err != nil {
			writeInspectionError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// CaptureHandler inspects the current live frame.
func CaptureHandler(insp Inspector, cam Camera, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		frame, ok := cam.Frame()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "No camera frame available")
			return
		}

		report, err := insp.InspectFrame(r.Context(), frame)
		if err != nil {
			writeInspectionError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeInspectionError(w http.ResponseWriter, err error, logger *logger.Logger) {
	switch {
	case errors.Is(err, inspection.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, "Unsupported file format")
	case errors.Is(err, inspection.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
	case errors.Is(err, inspection.ErrNoFrame):
		writeError(w, http.StatusServiceUnavailable, "No camera frame available")
	case errors.Is(err, context.Canceled):
		logger.Debug("Inspection cancelled by client: %v", err)
	default:
		logger.Error("Inspection failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Inspection failed")
	}
}
