package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	"visionpharma/internal/model"
)

// Codec encodes frames to JPEG and decodes uploaded images.
type Codec struct {
	Quality int
}

// NewCodec returns a JPEG codec. Quality outside 1..100 falls back to 90.
func NewCodec(quality int) *Codec {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	return &Codec{Quality: quality}
}

// EncodeJPEG encodes f, converting grayscale frames to BGR first.
func (c *Codec) EncodeJPEG(f model.Frame) ([]byte, error) {
	mat, err := MatFromFrame(f)
	if err != nil {
		return nil, err
	}
	defer func() { mat.Close() }()

	if err := toBGR(&mat); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, c.Quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Decode reads a PNG or JPEG image into a BGR frame.
func (c *Codec) Decode(data []byte) (model.Frame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return model.Frame{}, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return model.Frame{}, fmt.Errorf("decoded image is empty")
	}
	return FrameFromMat(mat)
}
