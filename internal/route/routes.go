package route

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"visionpharma/internal/config"
	"visionpharma/internal/handler"
	"visionpharma/internal/logger"
	"visionpharma/internal/metrics"
	"visionpharma/internal/middleware"
	"visionpharma/internal/repository"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Config      *config.Config
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
	Camera      handler.Camera
	Inspector   handler.Inspector
	Inspections repository.InspectionRepository
	Detections  repository.DetectionRepository
	Results     handler.ResultFiles
	Hub         handler.Hub
	VideoFeed   http.Handler
}

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with request ID, access log and authentication middleware.
func SetupRoutes(deps Dependencies) http.Handler {
	cfg := deps.Config
	log := deps.Logger
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
	mux.Handle("/css/", http.FileServer(http.Dir(cfg.StaticDir)))
	mux.Handle("/js/", http.FileServer(http.Dir(cfg.StaticDir)))
	mux.HandleFunc("/results/", handler.ResultImageHandler(deps.Results))

	// Inspection API
	mux.HandleFunc("/api/inspect", handler.InspectHandler(deps.Inspector, cfg.MaxUploadSize, log))
	mux.HandleFunc("/api/inspections", handler.GetInspectionsHandler(log, deps.Inspections, deps.Detections))
	mux.HandleFunc("/api/inspections/get", handler.GetInspectionHandler(log, deps.Inspections, deps.Detections))
	mux.HandleFunc("/api/inspections/stats", handler.InspectionStatsHandler(log, deps.Inspections, deps.Results))
	mux.HandleFunc("/api/inspections/delete", handler.DeleteInspectionHandler(log, deps.Inspections))
	mux.HandleFunc("/api/inspections/clear", handler.ClearInspectionsHandler(log, deps.Inspections, deps.Results))

	// Camera API and live delivery
	mux.HandleFunc("/api/camera/status", handler.CameraStatusHandler(deps.Camera))
	mux.HandleFunc("/api/camera/start", handler.CameraStartHandler(deps.Camera, log))
	mux.HandleFunc("/api/camera/stop", handler.CameraStopHandler(deps.Camera, log))
	mux.HandleFunc("/api/camera/capture", handler.CaptureHandler(deps.Inspector, deps.Camera, log))
	mux.HandleFunc("/api/live", handler.LiveWebsocketHandler(deps.Hub, log))
	if deps.VideoFeed != nil {
		mux.Handle("/video_feed", deps.VideoFeed)
	}

	mux.Handle("/metrics", deps.Metrics.Handler())

	// Log endpoints
	for name, file := range map[string]string{
		"info":    logger.InfoFile,
		"warning": logger.WarningFile,
		"error":   logger.ErrorFile,
	} {
		mux.HandleFunc("/logs/"+name, handler.ShowLogsHandler(cfg.LogDirectory, file))
		mux.HandleFunc("/logs/"+name+"/clear", handler.ClearLogsHandler(log, file))
	}

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, log))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /history -> <static>/history.html
	mux.HandleFunc("/", dynamicHTMLHandler(cfg.StaticDir))

	// Apply middleware
	return middleware.RequestID(accessLog(log, middleware.AuthMiddleware(cfg.Password)(mux)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps MJPEG streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func accessLog(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("%s %s %d %s [%s]", r.Method, r.URL.Path, rec.status,
			time.Since(start).Round(time.Microsecond), middleware.RequestIDFrom(r.Context()))
	})
}
