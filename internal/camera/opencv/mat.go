package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	"visionpharma/internal/model"
)

// FrameFromMat copies an 8-bit Mat into a Frame.
func FrameFromMat(m gocv.Mat) (model.Frame, error) {
	if m.Empty() {
		return model.Frame{}, fmt.Errorf("mat is empty")
	}

	switch m.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
	default:
		return model.Frame{}, fmt.Errorf("unsupported mat type %v", m.Type())
	}

	f := model.Frame{
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: m.Channels(),
		Data:     m.ToBytes(),
	}
	if !f.Complete() {
		return model.Frame{}, fmt.Errorf("mat %dx%dx%d yielded %d bytes", f.Width, f.Height, f.Channels, len(f.Data))
	}
	return f, nil
}

// MatFromFrame builds a Mat over a copy of the frame pixels. The caller
// must Close it.
func MatFromFrame(f model.Frame) (gocv.Mat, error) {
	if !f.Complete() {
		return gocv.NewMat(), fmt.Errorf("frame %dx%dx%d has %d bytes", f.Width, f.Height, f.Channels, len(f.Data))
	}

	var mt gocv.MatType
	switch f.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", f.Channels)
	}

	m, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create mat: %w", err)
	}
	// NewMatFromBytes borrows the slice; detach from it.
	owned := m.Clone()
	m.Close()
	return owned, nil
}

// toBGR converts single and four channel mats to BGR in place.
func toBGR(m *gocv.Mat) error {
	var code gocv.ColorConversionCode
	switch m.Channels() {
	case 3:
		return nil
	case 1:
		code = gocv.ColorGrayToBGR
	case 4:
		code = gocv.ColorBGRAToBGR
	default:
		return fmt.Errorf("unsupported channel count %d", m.Channels())
	}

	dst := gocv.NewMat()
	if err := gocv.CvtColor(*m, &dst, code); err != nil {
		dst.Close()
		return fmt.Errorf("failed to convert to BGR: %w", err)
	}
	m.Close()
	*m = dst
	return nil
}
