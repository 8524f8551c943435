package ai

import (
	"testing"

	"visionpharma/internal/model"
)

// tensor lays out anchors column-wise the way YOLOv8 exports them.
func tensor(anchors [][6]float32) []float32 {
	n := len(anchors)
	data := make([]float32, 6*n)
	for i, a := range anchors {
		for row := 0; row < 6; row++ {
			data[row*n+i] = a[row]
		}
	}
	return data
}

func TestDecodeYOLO(t *testing.T) {
	data := tensor([][6]float32{
		{100, 100, 20, 40, 0.9, 0.1}, // pill
		{200, 50, 10, 10, 0.2, 0.7},  // empty cavity
		{300, 300, 50, 50, 0.3, 0.4}, // below threshold
	})

	cands := decodeYOLO(data, 2, 3, 0.5, 2.0, 0.5)
	if len(cands) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(cands))
	}

	first := cands[0]
	if first.classID != 0 || first.score != 0.9 {
		t.Errorf("Unexpected first candidate: %+v", first)
	}
	// cx=100 w=20 scaled by 2, cy=100 h=40 scaled by 0.5
	if first.box.Min.X != 180 || first.box.Dx() != 40 || first.box.Min.Y != 40 || first.box.Dy() != 20 {
		t.Errorf("Unexpected box: %v", first.box)
	}

	if cands[1].classID != 1 {
		t.Errorf("Expected class 1, got %d", cands[1].classID)
	}
}

func TestDecodeYOLO_ShortTensor(t *testing.T) {
	if cands := decodeYOLO(make([]float32, 5), 2, 3, 0.5, 1, 1); cands != nil {
		t.Errorf("Expected no candidates for a truncated tensor, got %d", len(cands))
	}
}

func TestToDetections_SortsByStatusAndNumbers(t *testing.T) {
	data := tensor([][6]float32{
		{10, 10, 4, 4, 0.1, 0.81},
		{20, 20, 6, 5, 0.95, 0.0},
		{30, 30, 2, 2, 0.0, 0.66},
	})
	cands := decodeYOLO(data, 2, 3, 0.5, 1, 1)

	detections := toDetections(cands, []int{0, 1, 2, 7})
	if len(detections) != 3 {
		t.Fatalf("Expected 3 detections, got %d", len(detections))
	}

	if detections[0].Status != model.StatusFilled || detections[0].ID != 2 {
		t.Errorf("Expected the pill first with ID 2, got %+v", detections[0])
	}
	if detections[1].Status != model.StatusEmpty || detections[1].ID != 1 {
		t.Errorf("Expected first empty cavity with ID 1, got %+v", detections[1])
	}
	if detections[1].Confidence != 0.81 {
		t.Errorf("Expected rounded confidence 0.81, got %v", detections[1].Confidence)
	}
	if detections[0].Area != 30 {
		t.Errorf("Expected area 30, got %d", detections[0].Area)
	}

	filled, empty, status := model.Summarize(detections)
	if filled != 1 || empty != 2 || status != model.VerdictDefective {
		t.Errorf("Unexpected summary %d/%d/%s", filled, empty, status)
	}
}

func TestBlankResult(t *testing.T) {
	f := model.NewFrame(6, 4, 1)
	f.Seq = 9

	res := blankResult(f)
	if len(res.Detections) != 0 {
		t.Errorf("Expected no detections, got %d", len(res.Detections))
	}
	for _, name := range model.StepNames {
		step, ok := res.Steps[name]
		if !ok {
			t.Fatalf("Missing step %s", name)
		}
		if step.Width != 6 || step.Height != 4 || step.Channels != 3 || !step.Complete() {
			t.Errorf("Step %s has wrong geometry %dx%dx%d", name, step.Width, step.Height, step.Channels)
		}
		for _, b := range step.Data {
			if b != 0 {
				t.Fatalf("Step %s is not black", name)
			}
		}
	}
	if res.Annotated.Seq != 9 {
		t.Errorf("Expected seq carried over, got %d", res.Annotated.Seq)
	}
}

func TestBlankResult_StepsDoNotShareMemory(t *testing.T) {
	res := blankResult(model.NewFrame(2, 2, 3))

	res.Steps[model.StepOriginal].Data[0] = 0xFF
	for _, name := range model.StepNames[1:] {
		if res.Steps[name].Data[0] != 0 {
			t.Errorf("Writing to %s changed %s", model.StepOriginal, name)
		}
	}
	if res.Annotated.Data[0] != 0 {
		t.Error("Writing to a step changed the annotated frame")
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.814, 0.81},
		{0.816, 0.82},
		{1, 1},
		{0, 0},
	}
	for _, tt := range tests {
		if got := roundTo(tt.in, 2); got != tt.want {
			t.Errorf("roundTo(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
