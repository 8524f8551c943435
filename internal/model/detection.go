package model

import "strings"

// Class labels produced by the blister-pack model.
const (
	StatusFilled  = "Pastilla"
	StatusEmpty   = "Vacio"
	StatusUnknown = "Desconocido"
)

// Box is a pixel-space bounding box.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Detection is one classified cavity.
type Detection struct {
	ID         int     `json:"id"`
	ClassID    int     `json:"class_id"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Area       int     `json:"area"`
	Box        Box     `json:"box"`
}

// StatusFromLabel maps a raw model label ("pastilla", "VACIO") to its
// display status.
func StatusFromLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "pastilla":
		return StatusFilled
	case "vacio":
		return StatusEmpty
	default:
		return StatusUnknown
	}
}

// Step image names rendered for every inspection.
const (
	StepOriginal      = "original"
	StepGrayscale     = "grayscale"
	StepThresholded   = "thresholded"
	StepFinalContours = "final_contours"
)

// StepNames lists the rendered steps in display order.
var StepNames = []string{StepOriginal, StepGrayscale, StepThresholded, StepFinalContours}

// InferenceResult is what the detector returns for one frame.
type InferenceResult struct {
	Annotated  Frame
	Steps      map[string]Frame
	Detections []Detection
}
