package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"visionpharma/internal/camera"
	"visionpharma/internal/camera/opencv"
	"visionpharma/internal/config"
	"visionpharma/internal/logger"
	"visionpharma/internal/metrics"
	"visionpharma/internal/repository/sqlite"
	"visionpharma/internal/route"
	"visionpharma/internal/service/ai"
	"visionpharma/internal/service/inspection"
	"visionpharma/internal/service/storage"
	"visionpharma/internal/service/stream"
	"visionpharma/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
	db          *sqlite.DB
	camera      *camera.Stream
	detector    *ai.DetectorService
	hubService  *websocket.HubService
	broadcaster *stream.Broadcaster
	results     *storage.ResultStore
	server      *http.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, err
	}
	inspectionRepo := sqlite.NewInspectionRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)

	m := metrics.New()
	codec := opencv.NewCodec(cfg.JPEGQuality)

	cam := camera.NewStream(opencv.NewDevice(cfg.CameraWidth, cfg.CameraHeight), camera.OptionsFromConfig(cfg), log)
	m.WatchCamera(cam)

	detector := ai.NewDetectorService(cfg, log)
	hub := websocket.NewHubService(log, m)
	results := storage.NewResultStore(cfg, codec, log)

	broadcaster, err := stream.NewBroadcaster(cam, detector, codec, hub,
		stream.Options{CameraIndex: cfg.CameraIndex, Interval: cfg.StreamInterval}, m, log)
	if err != nil {
		detector.Close()
		db.Close()
		log.Close()
		return nil, fmt.Errorf("failed to create live broadcaster: %w", err)
	}

	svc := inspection.NewService(detector, codec, results, inspectionRepo, detectionRepo,
		inspection.Options{UploadDirectory: cfg.UploadDirectory, MaxUploadSize: cfg.MaxUploadSize}, m, log)

	router := route.SetupRoutes(route.Dependencies{
		Config:      cfg,
		Logger:      log,
		Metrics:     m,
		Camera:      cam,
		Inspector:   svc,
		Inspections: inspectionRepo,
		Detections:  detectionRepo,
		Results:     results,
		Hub:         hub,
		VideoFeed:   broadcaster,
	})

	return &App{
		config:      cfg,
		logger:      log,
		metrics:     m,
		db:          db,
		camera:      cam,
		detector:    detector,
		hubService:  hub,
		broadcaster: broadcaster,
		results:     results,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// long-lived MJPEG and WebSocket clients end when the background loops do
	a.server.RegisterOnShutdown(cancel)

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){a.hubService.Run, a.broadcaster.Run, a.results.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	if a.config.CameraEnabled {
		if err := a.camera.Start(); err != nil {
			a.logger.Error("Camera %d not available, start it later via /api/camera/start: %v", a.config.CameraIndex, err)
		}
	}

	a.logger.Info("VisionPharma inspection server listening on http://localhost:%d", a.config.Port)
	a.logger.Info("Model: %s (loaded=%t), results: %s, database: %s",
		a.config.ModelPath, a.detector.Loaded(), a.results.Dir(), a.config.DatabasePath)
	if a.config.Password == "" {
		a.logger.Warning("PASSWORD is empty, authentication is disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown requested")
	case serveErr = <-errCh:
		a.logger.Error("HTTP server failed: %v", serveErr)
	}

	shutdownErr := a.shutdown()
	cancel()
	wg.Wait()
	a.close()

	return errors.Join(serveErr, shutdownErr)
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.camera.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("camera shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) close() {
	if err := a.detector.Close(); err != nil {
		a.logger.Warning("Failed to close detector: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warning("Failed to close database: %v", err)
	}
	a.logger.Info("Server stopped")
	a.logger.Close()
}
