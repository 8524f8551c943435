package camera

import (
	"errors"

	"visionpharma/internal/model"
)

var (
	// ErrDeviceOpen is returned by Start when the device cannot be opened.
	ErrDeviceOpen = errors.New("camera: device open failed")
	// ErrDeviceRead marks a failed capture. It never reaches Frame callers.
	ErrDeviceRead = errors.New("camera: device read failed")
	// ErrIncompleteFrame is returned when a frame does not match its geometry.
	ErrIncompleteFrame = errors.New("camera: incomplete frame")
	// ErrStopTimeout is returned by Stop when the loop did not exit in time.
	ErrStopTimeout = errors.New("camera: stop timed out")
	// ErrReconnectExhausted ends the loop when a reconnect bound is configured.
	ErrReconnectExhausted = errors.New("camera: reconnect attempts exhausted")
)

// Handle is an open device resource. Its concrete type belongs to the Device
// that returned it.
type Handle any

// Device is the capture collaborator. Implementations need not be safe for
// concurrent use: a Stream only calls them from one goroutine at a time.
type Device interface {
	Open(index int) (Handle, error)
	Read(h Handle) (model.Frame, error)
	Release(h Handle) error
}
