package inspection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"visionpharma/internal/logger"
	"visionpharma/internal/model"
)

type fakeInspector struct {
	detections []model.Detection
	err        error
}

func (i *fakeInspector) Infer(f model.Frame) (*model.InferenceResult, error) {
	if i.err != nil {
		return nil, i.err
	}
	steps := make(map[string]model.Frame)
	for _, name := range model.StepNames {
		steps[name] = f.Clone()
	}
	return &model.InferenceResult{Annotated: f, Steps: steps, Detections: i.detections}, nil
}

type fakeDecoder struct {
	err error
}

func (d fakeDecoder) Decode(data []byte) (model.Frame, error) {
	if d.err != nil {
		return model.Frame{}, d.err
	}
	return model.NewFrame(4, 4, 3), nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (s *fakeSaver) Save(step string, stamp int64, f model.Frame) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	url := "results/" + step + ".jpg"
	s.saved = append(s.saved, url)
	return url, nil
}

type fakeInspections struct {
	mu      sync.Mutex
	records []model.InspectionRecord
	err     error
}

func (r *fakeInspections) Insert(rec *model.InspectionRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.records = append(r.records, *rec)
	return int64(len(r.records)), nil
}

func (r *fakeInspections) GetByID(id int64) (*model.InspectionRecord, error) {
	return nil, nil
}

func (r *fakeInspections) GetAll(*model.InspectionFilter) ([]model.InspectionRecord, error) {
	return r.records, nil
}

func (r *fakeInspections) GetTotalCount(*model.InspectionFilter) (int, error) {
	return len(r.records), nil
}

func (r *fakeInspections) GetStats() (*model.InspectionStats, error) {
	return &model.InspectionStats{}, nil
}

func (r *fakeInspections) Delete(id int64) error {
	return nil
}

func (r *fakeInspections) DeleteAll() error {
	return nil
}

type fakeDetections struct {
	batches map[int64][]model.Detection
}

func (r *fakeDetections) InsertBatch(id int64, d []model.Detection) error {
	if r.batches == nil {
		r.batches = make(map[int64][]model.Detection)
	}
	r.batches[id] = d
	return nil
}

func (r *fakeDetections) GetByInspectionID(id int64) ([]model.Detection, error) {
	return r.batches[id], nil
}

func (r *fakeDetections) DeleteByInspectionID(id int64) error {
	delete(r.batches, id)
	return nil
}

type fixture struct {
	svc         *Service
	inspector   *fakeInspector
	saver       *fakeSaver
	inspections *fakeInspections
	detections  *fakeDetections
	uploadDir   string
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		inspector:   &fakeInspector{},
		saver:       &fakeSaver{},
		inspections: &fakeInspections{},
		detections:  &fakeDetections{},
		uploadDir:   filepath.Join(t.TempDir(), "uploads"),
	}
	f.svc = NewService(f.inspector, fakeDecoder{}, f.saver, f.inspections, f.detections,
		Options{UploadDirectory: f.uploadDir, MaxUploadSize: 1024}, nil, logger.NewNop())
	return f
}

func TestInspectUpload(t *testing.T) {
	f := setupService(t)
	f.inspector.detections = []model.Detection{
		{ID: 1, Status: model.StatusFilled},
		{ID: 2, Status: model.StatusFilled},
		{ID: 3, Status: model.StatusEmpty},
	}

	report, err := f.svc.InspectUpload(context.Background(), "blister.PNG", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("InspectUpload failed: %v", err)
	}

	if !report.Saved || report.Record.ID != 1 {
		t.Errorf("Expected saved record with ID 1, got %+v", report.Record)
	}
	if report.Record.FilledCount != 2 || report.Record.EmptyCount != 1 || report.Record.Status != model.VerdictDefective {
		t.Errorf("Unexpected summary %+v", report.Record)
	}
	if report.Record.Source != SourceUpload {
		t.Errorf("Expected source %q, got %q", SourceUpload, report.Record.Source)
	}
	if report.Record.ResultImage != "results/final_contours.jpg" {
		t.Errorf("Unexpected result image %q", report.Record.ResultImage)
	}
	if len(report.Steps) != len(model.StepNames) {
		t.Errorf("Expected %d step images, got %d", len(model.StepNames), len(report.Steps))
	}
	if len(f.detections.batches[1]) != 3 {
		t.Errorf("Expected 3 stored detections, got %d", len(f.detections.batches[1]))
	}

	entries, err := os.ReadDir(f.uploadDir)
	if err != nil {
		t.Fatalf("Failed to read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected upload to be removed, found %d files", len(entries))
	}
}

func TestInspectUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     string
		want     error
	}{
		{"gif", "pack.gif", "data", ErrUnsupportedFormat},
		{"no extension", "pack", "data", ErrUnsupportedFormat},
		{"too large", "pack.jpg", strings.Repeat("x", 2048), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t)
			_, err := f.svc.InspectUpload(context.Background(), tt.filename, strings.NewReader(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if len(f.inspections.records) != 0 {
				t.Error("Expected nothing to be persisted")
			}
		})
	}
}

func TestInspectUpload_DecodeFailureRemovesUpload(t *testing.T) {
	f := setupService(t)
	f.svc.decoder = fakeDecoder{err: errors.New("garbage")}

	if _, err := f.svc.InspectUpload(context.Background(), "a.jpg", strings.NewReader("data")); err == nil {
		t.Fatal("Expected decode error")
	}

	entries, _ := os.ReadDir(f.uploadDir)
	if len(entries) != 0 {
		t.Errorf("Expected upload to be removed, found %d files", len(entries))
	}
}

func TestInspectFrame(t *testing.T) {
	f := setupService(t)
	f.inspector.detections = []model.Detection{{ID: 1, Status: model.StatusFilled}}

	report, err := f.svc.InspectFrame(context.Background(), model.NewFrame(4, 4, 3))
	if err != nil {
		t.Fatalf("InspectFrame failed: %v", err)
	}
	if report.Record.Source != SourceCamera || report.Record.Status != model.VerdictApproved {
		t.Errorf("Unexpected record %+v", report.Record)
	}

	if _, err := f.svc.InspectFrame(context.Background(), model.Frame{}); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
}

func TestInspect_PersistFailureStillReports(t *testing.T) {
	f := setupService(t)
	f.inspections.err = errors.New("disk full")

	report, err := f.svc.InspectFrame(context.Background(), model.NewFrame(4, 4, 3))
	if err != nil {
		t.Fatalf("Expected inspection to succeed, got %v", err)
	}
	if report.Saved {
		t.Error("Expected Saved=false when persistence fails")
	}
	if report.Record.Status != model.VerdictApproved {
		t.Errorf("Expected Aprobado for an empty result, got %q", report.Record.Status)
	}
	if report.Detections == nil {
		t.Error("Expected non-nil detections slice")
	}
}

func TestInspect_InferenceError(t *testing.T) {
	f := setupService(t)
	f.inspector.err = errors.New("boom")

	if _, err := f.svc.InspectFrame(context.Background(), model.NewFrame(4, 4, 3)); err == nil {
		t.Fatal("Expected inference error")
	}
	if len(f.saver.saved) != 0 {
		t.Errorf("Expected no images saved, got %d", len(f.saver.saved))
	}
}

func TestInspect_CancelledContext(t *testing.T) {
	f := setupService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.InspectFrame(ctx, model.NewFrame(4, 4, 3)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStampIsMonotonic(t *testing.T) {
	f := setupService(t)
	fixed := time.UnixMilli(1700000000000)
	f.svc.now = func() time.Time { return fixed }

	a, b, c := f.svc.stamp(), f.svc.stamp(), f.svc.stamp()
	if a != fixed.UnixMilli() || b != a+1 || c != b+1 {
		t.Errorf("Expected consecutive stamps, got %d %d %d", a, b, c)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"blister.png", "blister.png"},
		{"../../etc/passwd.jpg", "passwd.jpg"},
		{`C:\photos\pack 1.jpg`, "pack_1.jpg"},
		{".hidden.jpg", "hidden.jpg"},
		{"blíster.jpeg", "bl_ster.jpeg"},
		{"", "upload"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
