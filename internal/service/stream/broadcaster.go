package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"visionpharma/internal/logger"
	"visionpharma/internal/metrics"
	"visionpharma/internal/model"
)

// FrameSource is the shared camera stream.
type FrameSource interface {
	Frame() (model.Frame, bool)
	LatestSeq() (uint64, bool)
}

// Inspector overlays detections on a frame.
type Inspector interface {
	Infer(frame model.Frame) (*model.InferenceResult, error)
}

// Encoder turns frames into JPEG bytes.
type Encoder interface {
	EncodeJPEG(f model.Frame) ([]byte, error)
}

// Hub receives every encoded frame as a WebSocket message.
type Hub interface {
	Broadcast(message []byte)
	GetClientCount() int
}

// LiveMessage is the WebSocket payload for one live frame.
type LiveMessage struct {
	Camera     int       `json:"camera"`
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Image      string    `json:"image"`
}

// Options configures a Broadcaster.
type Options struct {
	CameraIndex int
	Interval    time.Duration
}

// Broadcaster pulls the latest camera frame at a fixed interval, overlays
// detections and fans the JPEG out to MJPEG subscribers and the hub.
type Broadcaster struct {
	source    FrameSource
	inspector Inspector
	encoder   Encoder
	hub       Hub
	opts      Options

	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int

	lastSeq     uint64
	hasLast     bool
	inferFailed bool
	idleCount   int

	latest      atomic.Pointer[[]byte]
	placeholder []byte

	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewBroadcaster creates a broadcaster. inspector and hub may be nil.
func NewBroadcaster(source FrameSource, inspector Inspector, encoder Encoder, hub Hub,
	opts Options, m *metrics.Metrics, logger *logger.Logger) (*Broadcaster, error) {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}

	placeholder, err := PlaceholderJPEG("Waiting for camera...")
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		source:      source,
		inspector:   inspector,
		encoder:     encoder,
		hub:         hub,
		opts:        opts,
		clients:     make(map[int]chan []byte),
		placeholder: placeholder,
		metrics:     m,
		logger:      logger.Named("stream"),
	}, nil
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (b *Broadcaster) Subscribe() (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 2)
	b.clients[id] = ch
	b.metrics.ClientConnected()

	b.logger.Debug("Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		b.metrics.ClientDisconnected()
		b.logger.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))

		if len(b.clients) == 0 {
			b.logger.Info("No clients remaining - frame generation will be skipped")
		}
	}
}

// ClientCount returns the number of MJPEG subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Latest returns the most recent encoded frame, or the placeholder before
// the first one.
func (b *Broadcaster) Latest() []byte {
	if p := b.latest.Load(); p != nil {
		return *p
	}
	return b.placeholder
}

// Run generates and broadcasts frames until ctx is cancelled. Subscriber
// channels are closed on return.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()
	defer b.closeAll()

	b.logger.Info("Live broadcaster started (interval=%v)", b.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Live broadcaster stopped")
			return
		case <-ticker.C:
		}

		if !b.active() {
			b.idleCount++
			if b.idleCount%100 == 0 {
				b.logger.Debug("No clients connected, idle for %d cycles", b.idleCount)
			}
			continue
		}
		b.idleCount = 0
		b.step()
	}
}

func (b *Broadcaster) active() bool {
	if b.ClientCount() > 0 {
		return true
	}
	return b.hub != nil && b.hub.GetClientCount() > 0
}

// step publishes the current frame if it is new. It reports whether a frame
// was sent.
func (b *Broadcaster) step() bool {
	if seq, ok := b.source.LatestSeq(); !ok || (b.hasLast && seq == b.lastSeq) {
		return false
	}

	frame, ok := b.source.Frame()
	if !ok {
		return false
	}
	b.lastSeq = frame.Seq
	b.hasLast = true

	data, err := b.encoder.EncodeJPEG(b.overlay(frame))
	if err != nil {
		b.logger.Error("Failed to encode live frame %d: %v", frame.Seq, err)
		return false
	}

	b.latest.Store(&data)
	b.broadcast(data)

	if b.hub != nil && b.hub.GetClientCount() > 0 {
		msg, err := json.Marshal(LiveMessage{
			Camera:     b.opts.CameraIndex,
			Seq:        frame.Seq,
			CapturedAt: frame.CapturedAt,
			Image:      base64.StdEncoding.EncodeToString(data),
		})
		if err != nil {
			b.logger.Error("Failed to marshal live message: %v", err)
		} else {
			b.hub.Broadcast(msg)
		}
	}
	return true
}

// overlay runs the inspector and returns the annotated frame, or the raw
// frame when inference fails.
func (b *Broadcaster) overlay(frame model.Frame) model.Frame {
	if b.inspector == nil {
		return frame
	}

	start := time.Now()
	res, err := b.inspector.Infer(frame)
	b.metrics.ObserveInference(time.Since(start))
	if err != nil {
		b.metrics.InferenceError()
		if !b.inferFailed {
			b.logger.Warning("Inference failed on live frame, streaming raw frames: %v", err)
		}
		b.inferFailed = true
		return frame
	}
	if b.inferFailed {
		b.logger.Info("Inference recovered on live stream")
		b.inferFailed = false
	}

	if final, ok := res.Steps[model.StepFinalContours]; ok && final.Complete() {
		return final
	}
	if res.Annotated.Complete() {
		return res.Annotated
	}
	return frame
}

func (b *Broadcaster) broadcast(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- data:
			b.metrics.FrameBroadcast()
		default:
			// Client too slow, skip this frame for this client
			b.metrics.FrameDropped()
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
		b.metrics.ClientDisconnected()
	}
}

var errStreamingUnsupported = errors.New("stream: response writer does not support flushing")
