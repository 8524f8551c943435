package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"visionpharma/internal/config"
	"visionpharma/internal/logger"
	"visionpharma/internal/model"
)

// Options configures a Stream.
type Options struct {
	Index         int
	Backoff       time.Duration
	MaxReconnects int // 0 = retry forever
	StopTimeout   time.Duration
}

// OptionsFromConfig maps application configuration to stream options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Index:         cfg.CameraIndex,
		Backoff:       cfg.ReconnectBackoff,
		MaxReconnects: cfg.MaxReconnectAttempts,
		StopTimeout:   cfg.StopTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	return o
}

// Stream shares one camera between any number of concurrent readers. At most
// one acquisition loop and one open device handle exist per Stream.
type Stream struct {
	device Device
	opts   Options
	buffer *FrameBuffer
	logger *logger.Logger

	state    stateBox
	counters counters
	seq      atomic.Uint64

	mu       sync.Mutex // serializes Start and Stop
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// NewStream creates a stopped Stream over device.
func NewStream(device Device, opts Options, logger *logger.Logger) *Stream {
	return &Stream{
		device: device,
		opts:   opts.withDefaults(),
		buffer: NewFrameBuffer(),
		logger: logger.Named("camera"),
	}
}

// Start opens the device and launches the acquisition loop. It returns once
// the device is open. Calling Start on a running stream is a no-op.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
			// the previous loop ended by itself (reconnect bound reached)
			s.reset()
		default:
			if s.stopping {
				return fmt.Errorf("%w: previous acquisition loop has not exited", ErrStopTimeout)
			}
			s.logger.Info("Camera %d acquisition loop already running", s.opts.Index)
			return nil
		}
	}

	s.state.store(StateOpening)
	h, err := s.device.Open(s.opts.Index)
	if err != nil {
		s.counters.openFailures.Add(1)
		s.counters.setErr(err)
		s.state.store(StateFailed)
		s.logger.Error("Could not open camera at index %d: %v", s.opts.Index, err)
		return fmt.Errorf("%w: index %d: %v", ErrDeviceOpen, s.opts.Index, err)
	}
	s.counters.setErr(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	loop := &acquisitionLoop{
		device:   s.device,
		buffer:   s.buffer,
		opts:     s.opts,
		state:    &s.state,
		counters: &s.counters,
		logger:   s.logger,
		seq:      &s.seq,
	}

	s.cancel = cancel
	s.done = done
	s.state.store(StateCapturing)

	go func() {
		defer close(done)
		if err := loop.run(ctx, h); err != nil {
			s.counters.setErr(err)
			s.state.store(StateFailed)
			s.logger.Error("Camera %d acquisition loop stopped: %v", s.opts.Index, err)
		}
	}()

	s.logger.Info("Camera %d opened, acquisition loop started", s.opts.Index)
	return nil
}

// Stop signals the acquisition loop and waits up to StopTimeout for it to
// release the device. It is safe to call at any time, any number of times.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return nil
	}

	if !s.stopping {
		s.logger.Info("Stopping camera %d acquisition loop...", s.opts.Index)
		s.stopping = true
		if s.state.load() != StateFailed {
			s.state.store(StateStopping)
		}
		s.cancel()
	}

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Error("Camera %d acquisition loop did not exit within %s", s.opts.Index, s.opts.StopTimeout)
		return fmt.Errorf("%w after %s", ErrStopTimeout, s.opts.StopTimeout)
	}

	s.reset()
	s.state.store(StateStopped)
	s.logger.Info("Camera %d released", s.opts.Index)
	return nil
}

// Shutdown stops the stream, honouring ctx when it expires before
// StopTimeout.
func (s *Stream) Shutdown(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Stop() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return errors.Join(ErrStopTimeout, ctx.Err())
	}
}

func (s *Stream) reset() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = nil
	s.done = nil
	s.stopping = false
}

// Frame returns a snapshot of the latest captured frame. It never touches the
// device.
func (s *Stream) Frame() (model.Frame, bool) {
	return s.buffer.Read()
}

// LatestSeq returns the sequence number of the latest frame without copying.
func (s *Stream) LatestSeq() (uint64, bool) {
	return s.buffer.Seq()
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	return s.state.load()
}

// Stats returns acquisition counters.
func (s *Stream) Stats() Stats {
	st := Stats{
		State:          s.state.load().String(),
		CameraIndex:    s.opts.Index,
		FramesCaptured: s.counters.framesCaptured.Load(),
		ReadFailures:   s.counters.readFailures.Load(),
		CorruptFrames:  s.counters.corruptFrames.Load(),
		Reconnects:     s.counters.reconnects.Load(),
		OpenFailures:   s.counters.openFailures.Load(),
		LastSeq:        s.seq.Load(),
		LastError:      s.counters.errString(),
	}
	if nanos := s.counters.lastFrameNanos.Load(); nanos > 0 {
		st.LastFrameAt = time.Unix(0, nanos)
	}
	return st
}
