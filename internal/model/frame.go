package model

import "time"

// Frame is one captured image: row-major, 8 bits per channel, BGR order for
// three-channel frames.
type Frame struct {
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Channels   int       `json:"channels"`
	Data       []byte    `json:"-"`
}

// NewFrame allocates a zeroed frame of the given geometry.
func NewFrame(width, height, channels int) Frame {
	return Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]byte, width*height*channels),
	}
}

// Complete reports whether the pixel buffer matches the declared geometry.
func (f Frame) Complete() bool {
	if f.Width <= 0 || f.Height <= 0 || f.Channels <= 0 {
		return false
	}
	return len(f.Data) == f.Width*f.Height*f.Channels
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Clone returns a copy that shares no memory with f.
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}
