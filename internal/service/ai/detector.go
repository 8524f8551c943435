package ai

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"visionpharma/internal/camera/opencv"
	"visionpharma/internal/config"
	"visionpharma/internal/logger"
	"visionpharma/internal/model"
)

var (
	green = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	red   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// DetectorService runs the ONNX YOLOv8 blister-pack model through the
// OpenCV DNN module.
type DetectorService struct {
	net       gocv.Net
	loaded    bool
	modelPath string

	confidence float32
	nms        float32
	inputSize  int

	mu     sync.Mutex // gocv.Net is not safe for concurrent Forward calls
	logger *logger.Logger
}

// NewDetectorService creates a detector and tries to load the model. A
// missing model is logged and the service keeps answering with blank
// results.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) *DetectorService {
	s := &DetectorService{
		modelPath:  cfg.ModelPath,
		confidence: float32(cfg.ConfidenceThreshold),
		nms:        float32(cfg.NMSThreshold),
		inputSize:  cfg.ModelInputSize,
		logger:     logger.Named("detector"),
	}
	if s.inputSize <= 0 {
		s.inputSize = 640
	}

	if err := s.initializeNet(); err != nil {
		s.logger.Warning("Could not initialize detection network: %v", err)
		return s
	}
	return s
}

// initializeNet loads the ONNX network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	net := gocv.ReadNetFromONNX(s.modelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.loaded = true
	s.logger.Info("Model %s loaded, classes: %v", s.modelPath, Labels)
	return nil
}

// Loaded reports whether a model is available.
func (s *DetectorService) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Infer runs detection on f and renders the step images.
func (s *DetectorService) Infer(f model.Frame) (*model.InferenceResult, error) {
	if f.Empty() {
		return nil, ErrEmptyFrame
	}
	if !s.Loaded() {
		s.logger.Debug("Model not loaded, returning blank result")
		return blankResult(f), nil
	}

	src, err := opencv.MatFromFrame(f)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer src.Close()
	if src.Channels() != 3 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		code := gocv.ColorGrayToBGR
		if src.Channels() == 4 {
			code = gocv.ColorBGRAToBGR
		}
		if err := gocv.CvtColor(src, &bgr, code); err != nil {
			return nil, fmt.Errorf("failed to convert frame to BGR: %w", err)
		}
		src, bgr = bgr, src
	}

	detections, err := s.detect(src)
	if err != nil {
		return nil, err
	}

	annotated := src.Clone()
	defer annotated.Close()
	if err := drawDetections(&annotated, detections); err != nil {
		return nil, err
	}

	return s.renderSteps(f, src, annotated, detections)
}

func (s *DetectorService) detect(src gocv.Mat) ([]model.Detection, error) {
	blob := gocv.BlobFromImage(src, 1.0/255.0, image.Pt(s.inputSize, s.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	output, err := s.forward(blob)
	if err != nil {
		return nil, err
	}
	defer output.Close()

	// [1, 4+classes, anchors]
	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected model output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}

	xFactor := float64(src.Cols()) / float64(s.inputSize)
	yFactor := float64(src.Rows()) / float64(s.inputSize)
	cands := decodeYOLO(data, dims[1]-4, dims[2], s.confidence, xFactor, yFactor)
	if len(cands) == 0 {
		return []model.Detection{}, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(boxes, scores, s.confidence, s.nms)

	detections := toDetections(cands, keep)
	s.logger.Debug("Detected %d cavities", len(detections))
	return detections, nil
}

// forward runs the network on blob. The network may have been closed since
// Infer checked Loaded, so the check is repeated under the lock.
func (s *DetectorService) forward(blob gocv.Mat) (gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return gocv.NewMat(), ErrDetectorClosed
	}
	s.net.SetInput(blob, "")
	return s.net.Forward(""), nil
}

// drawDetections draws green boxes around pills and red boxes around empty
// cavities.
func drawDetections(mat *gocv.Mat, detections []model.Detection) error {
	for _, d := range detections {
		c := green
		if d.Status == model.StatusEmpty {
			c = red
		}

		rect := image.Rect(d.Box.X, d.Box.Y, d.Box.X+d.Box.Width, d.Box.Y+d.Box.Height)
		if err := gocv.Rectangle(mat, rect, c, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s %.2f", d.Status, d.Confidence)
		pt := image.Pt(d.Box.X, d.Box.Y-5)
		if err := gocv.PutText(mat, label, pt, gocv.FontHersheySimplex, 0.5, c, 1); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}
	return nil
}

// renderSteps produces the original, grayscale, thresholded and
// final_contours images. The thresholded step is the grayscale version of
// the annotated frame.
func (s *DetectorService) renderSteps(f model.Frame, src, annotated gocv.Mat, detections []model.Detection) (*model.InferenceResult, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(src, &gray, gocv.ColorBGRToGray); err != nil {
		return nil, fmt.Errorf("failed to convert image to grayscale: %w", err)
	}

	annotatedGray := gocv.NewMat()
	defer annotatedGray.Close()
	if err := gocv.CvtColor(annotated, &annotatedGray, gocv.ColorBGRToGray); err != nil {
		return nil, fmt.Errorf("failed to convert annotated image to grayscale: %w", err)
	}

	mats := map[string]gocv.Mat{
		model.StepGrayscale:     gray,
		model.StepThresholded:   annotatedGray,
		model.StepFinalContours: annotated,
	}

	steps := map[string]model.Frame{model.StepOriginal: f.Clone()}
	for name, m := range mats {
		frame, err := opencv.FrameFromMat(m)
		if err != nil {
			return nil, fmt.Errorf("failed to render step %s: %w", name, err)
		}
		frame.Seq = f.Seq
		frame.CapturedAt = f.CapturedAt
		steps[name] = frame
	}

	return &model.InferenceResult{
		Annotated:  steps[model.StepFinalContours],
		Steps:      steps,
		Detections: detections,
	}, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil
	}
	s.loaded = false
	return s.net.Close()
}
