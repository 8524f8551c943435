package ai

import (
	"errors"
	"image"
	"sort"

	"visionpharma/internal/model"
)

var (
	// ErrEmptyFrame is returned when Infer receives a frame without pixels.
	ErrEmptyFrame = errors.New("ai: empty frame")
	// ErrDetectorClosed is returned when inference races with Close.
	ErrDetectorClosed = errors.New("ai: detector closed")
)

// Inspector runs the blister-pack model on a frame.
type Inspector interface {
	Infer(frame model.Frame) (*model.InferenceResult, error)
}

// Labels of the closed class set the model was trained on.
var Labels = map[int]string{
	0: "pastilla",
	1: "vacio",
}

// blankResult mirrors the frame geometry with black images and no
// detections. It keeps the web pages working when no model is loaded.
func blankResult(f model.Frame) *model.InferenceResult {
	black := model.NewFrame(f.Width, f.Height, 3)
	black.Seq = f.Seq
	black.CapturedAt = f.CapturedAt

	steps := make(map[string]model.Frame, len(model.StepNames))
	for _, name := range model.StepNames {
		steps[name] = black.Clone()
	}
	return &model.InferenceResult{
		Annotated:  black.Clone(),
		Steps:      steps,
		Detections: []model.Detection{},
	}
}

type candidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// decodeYOLO reads a YOLOv8 output tensor laid out as [4+classes, n]: rows
// cx, cy, w, h followed by one score row per class. Boxes are scaled back by
// xFactor and yFactor.
func decodeYOLO(data []float32, classes, n int, minScore float32, xFactor, yFactor float64) []candidate {
	if classes <= 0 || n <= 0 || len(data) < (4+classes)*n {
		return nil
	}

	var out []candidate
	for i := 0; i < n; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			s := data[(4+c)*n+i]
			if s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < minScore {
			continue
		}

		cx := float64(data[i])
		cy := float64(data[n+i])
		w := float64(data[2*n+i])
		h := float64(data[3*n+i])

		left := int((cx - w/2) * xFactor)
		top := int((cy - h/2) * yFactor)
		width := int(w * xFactor)
		height := int(h * yFactor)

		out = append(out, candidate{
			box:     image.Rect(left, top, left+width, top+height),
			score:   bestScore,
			classID: best,
		})
	}
	return out
}

// toDetections converts the kept candidates into numbered detections sorted
// by status. IDs follow detection order.
func toDetections(cands []candidate, keep []int) []model.Detection {
	detections := make([]model.Detection, 0, len(keep))
	for _, idx := range keep {
		if idx < 0 || idx >= len(cands) {
			continue
		}
		c := cands[idx]
		box := model.Box{
			X:      c.box.Min.X,
			Y:      c.box.Min.Y,
			Width:  c.box.Dx(),
			Height: c.box.Dy(),
		}
		detections = append(detections, model.Detection{
			ID:         len(detections) + 1,
			ClassID:    c.classID,
			Status:     model.StatusFromLabel(Labels[c.classID]),
			Confidence: roundTo(float64(c.score), 2),
			Area:       box.Area(),
			Box:        box,
		})
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Status < detections[j].Status
	})
	return detections
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}
