package inspection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"visionpharma/internal/logger"
	"visionpharma/internal/metrics"
	"visionpharma/internal/model"
	"visionpharma/internal/repository"
)

// Sources recorded with every inspection.
const (
	SourceUpload = "upload"
	SourceCamera = "camera"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoFrame           = errors.New("no frame available")
	ErrTooLarge          = errors.New("upload too large")
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Inspector runs the detection model on a frame.
type Inspector interface {
	Infer(frame model.Frame) (*model.InferenceResult, error)
}

// Decoder turns an uploaded image into a frame.
type Decoder interface {
	Decode(data []byte) (model.Frame, error)
}

// ResultSaver persists step images and returns their URL path.
type ResultSaver interface {
	Save(step string, stamp int64, f model.Frame) (string, error)
}

// Report is the outcome of one inspection.
type Report struct {
	Record     model.InspectionRecord `json:"record"`
	Steps      map[string]string      `json:"steps"`
	Detections []model.Detection      `json:"detections"`
	Saved      bool                   `json:"saved"`
}

// Options configures a Service.
type Options struct {
	UploadDirectory string
	MaxUploadSize   int64
}

// Service runs the inspection pipeline for uploads and live snapshots.
type Service struct {
	inspector   Inspector
	decoder     Decoder
	results     ResultSaver
	inspections repository.InspectionRepository
	detections  repository.DetectionRepository
	opts        Options

	stampMu   sync.Mutex
	lastStamp int64
	now       func() time.Time

	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewService creates an inspection service. detections may be nil when
// per-cavity rows are not stored.
func NewService(inspector Inspector, decoder Decoder, results ResultSaver,
	inspections repository.InspectionRepository, detections repository.DetectionRepository,
	opts Options, m *metrics.Metrics, logger *logger.Logger) *Service {
	return &Service{
		inspector:   inspector,
		decoder:     decoder,
		results:     results,
		inspections: inspections,
		detections:  detections,
		opts:        opts,
		now:         time.Now,
		metrics:     m,
		logger:      logger.Named("inspection"),
	}
}

// InspectUpload stores the upload, inspects it and removes it again.
func (s *Service) InspectUpload(ctx context.Context, filename string, r io.Reader) (*Report, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}

	data, err := s.readUpload(r)
	if err != nil {
		return nil, err
	}

	stamp := s.stamp()
	path, err := s.storeUpload(stamp, filename, data)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warning("Failed to remove upload %s: %v", path, err)
		}
	}()

	frame, err := s.decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}

	return s.run(ctx, SourceUpload, stamp, frame)
}

// InspectFrame inspects a live camera frame.
func (s *Service) InspectFrame(ctx context.Context, frame model.Frame) (*Report, error) {
	if frame.Empty() {
		return nil, ErrNoFrame
	}
	return s.run(ctx, SourceCamera, s.stamp(), frame)
}

func (s *Service) readUpload(r io.Reader) ([]byte, error) {
	if s.opts.MaxUploadSize <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.opts.MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.opts.MaxUploadSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (s *Service) storeUpload(stamp int64, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(s.opts.UploadDirectory, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(s.opts.UploadDirectory, fmt.Sprintf("input_%d_%s", stamp, SanitizeFilename(filename)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}

func (s *Service) run(ctx context.Context, source string, stamp int64, frame model.Frame) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.inspector.Infer(frame)
	s.metrics.ObserveInference(time.Since(start))
	if err != nil {
		s.metrics.InferenceError()
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	report := &Report{
		Steps:      make(map[string]string, len(model.StepNames)),
		Detections: res.Detections,
	}
	if report.Detections == nil {
		report.Detections = []model.Detection{}
	}

	for _, step := range model.StepNames {
		img, ok := res.Steps[step]
		if !ok {
			continue
		}
		url, err := s.results.Save(step, stamp, img)
		if err != nil {
			return nil, err
		}
		report.Steps[step] = url
	}

	filled, empty, status := model.Summarize(res.Detections)
	report.Record = model.InspectionRecord{
		Timestamp:   time.UnixMilli(stamp).UTC(),
		Source:      source,
		FilledCount: filled,
		EmptyCount:  empty,
		Status:      status,
		ResultImage: report.Steps[model.StepFinalContours],
		Detections:  report.Detections,
	}

	report.Saved = s.persist(&report.Record)
	s.metrics.RecordInspection(source, status)

	s.logger.Info("Inspection %s from %s: %d filled, %d empty (%s)",
		report.Record.Status, source, filled, empty, time.Since(start).Round(time.Millisecond))
	return report, nil
}

func (s *Service) persist(rec *model.InspectionRecord) bool {
	if s.inspections == nil {
		return false
	}

	id, err := s.inspections.Insert(rec)
	if err != nil {
		s.logger.Error("Failed to save inspection: %v", err)
		return false
	}
	rec.ID = id

	if s.detections != nil {
		if err := s.detections.InsertBatch(id, rec.Detections); err != nil {
			s.logger.Error("Failed to save detections for inspection %d: %v", id, err)
		}
	}
	return true
}

// stamp returns a millisecond timestamp that is unique within the process.
func (s *Service) stamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	stamp := s.now().UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename strips directories and replaces unsafe characters.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}
