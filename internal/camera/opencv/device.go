package opencv

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"visionpharma/internal/camera"
	"visionpharma/internal/model"
)

// capture is the handle returned by Device.Open. The Mat is reused across
// reads to keep allocations off the hot path.
type capture struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	index int

	close func() error
	once  sync.Once
}

// Device opens local cameras through OpenCV.
type Device struct {
	Width  int // capture width hint, 0 keeps the driver default
	Height int
}

// NewDevice creates a Device with optional resolution hints.
func NewDevice(width, height int) *Device {
	return &Device{Width: width, Height: height}
}

// Open opens the camera at index.
func (d *Device) Open(index int) (camera.Handle, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture %d: %w", index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture %d is not opened", index)
	}

	if d.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(d.Width))
	}
	if d.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(d.Height))
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	c := &capture{vc: vc, mat: gocv.NewMat(), index: index}
	c.close = func() error {
		c.mat.Close()
		return c.vc.Close()
	}
	return c, nil
}

// Read grabs the next frame from h.
func (d *Device) Read(h camera.Handle) (model.Frame, error) {
	c, ok := h.(*capture)
	if !ok {
		return model.Frame{}, fmt.Errorf("%w: foreign handle %T", camera.ErrDeviceRead, h)
	}

	if !c.vc.Read(&c.mat) {
		return model.Frame{}, fmt.Errorf("%w: camera %d returned no frame", camera.ErrDeviceRead, c.index)
	}
	if c.mat.Empty() {
		return model.Frame{}, fmt.Errorf("%w: camera %d returned an empty frame", camera.ErrDeviceRead, c.index)
	}

	f, err := FrameFromMat(c.mat)
	if err != nil {
		return model.Frame{}, fmt.Errorf("%w: %v", camera.ErrDeviceRead, err)
	}
	return f, nil
}

// Release closes the capture. Releasing twice is a no-op.
func (d *Device) Release(h camera.Handle) error {
	c, ok := h.(*capture)
	if !ok {
		return fmt.Errorf("foreign handle %T", h)
	}

	var err error
	c.once.Do(func() { err = c.close() })
	return err
}
