package handler

import (
	"errors"
	"net/http"

	"visionpharma/internal/camera"
	"visionpharma/internal/logger"
	"visionpharma/internal/model"
)

// Camera is the shared camera stream as seen by HTTP handlers.
type Camera interface {
	Start() error
	Stop() error
	Frame() (model.Frame, bool)
	Stats() camera.Stats
}

// CameraStatusHandler returns acquisition state and counters.
func CameraStatusHandler(cam Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, cam.Stats())
	}
}

// CameraStartHandler starts acquisition. Starting a running camera is a no-op.
func CameraStartHandler(cam Camera, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := cam.Start(); err != nil {
			logger.Error("Failed to start camera: %v", err)
			status := http.StatusInternalServerError
			if errors.Is(err, camera.ErrDeviceOpen) {
				status = http.StatusServiceUnavailable
			} else if errors.Is(err, camera.ErrStopTimeout) {
				status = http.StatusConflict
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cam.Stats())
	}
}

// CameraStopHandler stops acquisition and releases the device.
func CameraStopHandler(cam Camera, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := cam.Stop(); err != nil {
			logger.Error("Failed to stop camera: %v", err)
			writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cam.Stats())
	}
}
