package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"visionpharma/internal/logger"
)

// Stats is a point-in-time view of acquisition counters.
type Stats struct {
	State          string    `json:"state"`
	CameraIndex    int       `json:"camera_index"`
	FramesCaptured uint64    `json:"frames_captured"`
	ReadFailures   uint64    `json:"read_failures"`
	CorruptFrames  uint64    `json:"corrupt_frames"`
	Reconnects     uint64    `json:"reconnects"`
	OpenFailures   uint64    `json:"open_failures"`
	LastSeq        uint64    `json:"last_seq"`
	LastFrameAt    time.Time `json:"last_frame_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

type counters struct {
	framesCaptured atomic.Uint64
	readFailures   atomic.Uint64
	corruptFrames  atomic.Uint64
	reconnects     atomic.Uint64
	openFailures   atomic.Uint64
	lastFrameNanos atomic.Int64

	mu      sync.Mutex
	lastErr string
}

func (c *counters) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.lastErr = ""
		return
	}
	c.lastErr = err.Error()
}

func (c *counters) errString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// acquisitionLoop owns one open device handle and feeds the frame buffer
// until its context is cancelled.
type acquisitionLoop struct {
	device   Device
	buffer   *FrameBuffer
	opts     Options
	state    *stateBox
	counters *counters
	logger   *logger.Logger
	seq      *atomic.Uint64
}

// run captures from h until ctx is cancelled or reconnecting gives up. The
// handle it holds when returning is always released.
func (l *acquisitionLoop) run(ctx context.Context, h Handle) error {
	defer func() {
		if h != nil {
			l.release(h)
		}
	}()

	l.setState(ctx, StateCapturing)
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := l.device.Read(h)
		if err == nil {
			frame.Seq = l.seq.Add(1)
			if frame.CapturedAt.IsZero() {
				frame.CapturedAt = time.Now()
			}
			err = l.buffer.Publish(frame)
			if err == nil {
				l.counters.framesCaptured.Add(1)
				l.counters.lastFrameNanos.Store(frame.CapturedAt.UnixNano())
				continue
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		l.counters.setErr(err)
		if errors.Is(err, ErrIncompleteFrame) {
			l.counters.corruptFrames.Add(1)
			l.logger.Warning("Camera %d delivered a corrupt frame, reconnecting: %v", l.opts.Index, err)
		} else {
			l.counters.readFailures.Add(1)
			l.logger.Warning("Error reading frame from camera %d, reconnecting: %v", l.opts.Index, err)
		}

		l.release(h)
		h = nil

		l.setState(ctx, StateReconnecting)
		h, err = l.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.counters.setErr(nil)
		l.setState(ctx, StateCapturing)
	}
}

// reconnect waits the fixed backoff and reopens the device until it succeeds,
// ctx is cancelled, or the optional attempt bound is reached.
func (l *acquisitionLoop) reconnect(ctx context.Context) (Handle, error) {
	attempts := 0
	for {
		timer := time.NewTimer(l.opts.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempts++
		l.counters.reconnects.Add(1)

		h, err := l.device.Open(l.opts.Index)
		if err == nil {
			l.logger.Info("Camera %d reopened after %d attempt(s)", l.opts.Index, attempts)
			return h, nil
		}

		l.counters.openFailures.Add(1)
		l.counters.setErr(err)
		l.logger.Warning("Reconnect attempt %d for camera %d failed: %v", attempts, l.opts.Index, err)

		if l.opts.MaxReconnects > 0 && attempts >= l.opts.MaxReconnects {
			return nil, fmt.Errorf("%w: camera %d after %d attempts: %v", ErrReconnectExhausted, l.opts.Index, attempts, err)
		}
	}
}

func (l *acquisitionLoop) release(h Handle) {
	if err := l.device.Release(h); err != nil {
		l.logger.Warning("Error releasing camera %d: %v", l.opts.Index, err)
	}
}

// setState records loop progress unless a stop has already been requested.
func (l *acquisitionLoop) setState(ctx context.Context, s State) {
	if ctx.Err() == nil {
		l.state.store(s)
	}
}
