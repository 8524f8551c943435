package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"visionpharma/internal/logger"
	"visionpharma/internal/model"
)

type fakeSource struct {
	mu    sync.Mutex
	frame model.Frame
	ok    bool
}

func (s *fakeSource) set(seq uint64, fill byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := model.NewFrame(2, 2, 3)
	for i := range f.Data {
		f.Data[i] = fill
	}
	f.Seq = seq
	f.CapturedAt = time.Unix(1700000000, 0).UTC()
	s.frame = f
	s.ok = true
}

func (s *fakeSource) Frame() (model.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.Clone(), s.ok
}

func (s *fakeSource) LatestSeq() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.Seq, s.ok
}

// fakeEncoder "encodes" a frame as its first pixel byte.
type fakeEncoder struct{}

func (fakeEncoder) EncodeJPEG(f model.Frame) ([]byte, error) {
	if f.Empty() {
		return nil, errors.New("empty frame")
	}
	return []byte{f.Data[0]}, nil
}

type fakeInspector struct {
	err error
}

func (i *fakeInspector) Infer(f model.Frame) (*model.InferenceResult, error) {
	if i.err != nil {
		return nil, i.err
	}
	final := f.Clone()
	for j := range final.Data {
		final.Data[j] = 0xEE
	}
	return &model.InferenceResult{
		Annotated: final,
		Steps:     map[string]model.Frame{model.StepFinalContours: final},
	}, nil
}

type fakeHub struct {
	mu       sync.Mutex
	clients  int
	messages [][]byte
}

func (h *fakeHub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *fakeHub) GetClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

func newTestBroadcaster(t *testing.T, src FrameSource, insp Inspector, hub Hub) *Broadcaster {
	t.Helper()
	b, err := NewBroadcaster(src, insp, fakeEncoder{}, hub, Options{CameraIndex: 1, Interval: 5 * time.Millisecond}, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("NewBroadcaster failed: %v", err)
	}
	return b
}

func TestPlaceholderJPEG(t *testing.T) {
	data, err := PlaceholderJPEG("Waiting for camera...")
	if err != nil {
		t.Fatalf("PlaceholderJPEG failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Placeholder is not a valid JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != placeholderWidth || b.Dy() != placeholderHeight {
		t.Errorf("Unexpected placeholder size %v", b)
	}
}

func TestBroadcaster_LatestIsPlaceholderBeforeFirstFrame(t *testing.T) {
	b := newTestBroadcaster(t, &fakeSource{}, nil, nil)

	if !bytes.Equal(b.Latest(), b.placeholder) {
		t.Error("Expected the placeholder before any frame")
	}
	if b.step() {
		t.Error("Expected no frame to be sent without a camera frame")
	}
}

func TestBroadcaster_StepSkipsUnchangedFrames(t *testing.T) {
	src := &fakeSource{}
	src.set(1, 0x10)
	b := newTestBroadcaster(t, src, nil, nil)

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	if !b.step() {
		t.Fatal("Expected first frame to be sent")
	}
	if b.step() {
		t.Error("Expected unchanged frame to be skipped")
	}

	src.set(2, 0x20)
	if !b.step() {
		t.Fatal("Expected new frame to be sent")
	}

	first, second := <-ch, <-ch
	if first[0] != 0x10 || second[0] != 0x20 {
		t.Errorf("Unexpected frames %x %x", first, second)
	}
	if b.Latest()[0] != 0x20 {
		t.Errorf("Expected latest to be the second frame, got %x", b.Latest())
	}
}

func TestBroadcaster_SlowClientDoesNotBlock(t *testing.T) {
	src := &fakeSource{}
	b := newTestBroadcaster(t, src, nil, nil)

	id, _ := b.Subscribe()
	defer b.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 10; i++ {
			src.set(uint64(i), byte(i))
			b.step()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a client that never reads")
	}
}

func TestBroadcaster_OverlayUsesFinalContours(t *testing.T) {
	src := &fakeSource{}
	src.set(1, 0x10)
	b := newTestBroadcaster(t, src, &fakeInspector{}, nil)

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	b.step()
	if got := <-ch; got[0] != 0xEE {
		t.Errorf("Expected annotated frame, got %x", got)
	}
}

func TestBroadcaster_InferenceFailureFallsBackToRawFrame(t *testing.T) {
	src := &fakeSource{}
	src.set(1, 0x10)
	insp := &fakeInspector{err: errors.New("model exploded")}
	b := newTestBroadcaster(t, src, insp, nil)

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	b.step()
	if got := <-ch; got[0] != 0x10 {
		t.Errorf("Expected raw frame on inference failure, got %x", got)
	}

	insp.err = nil
	src.set(2, 0x20)
	b.step()
	if got := <-ch; got[0] != 0xEE {
		t.Errorf("Expected annotated frame after recovery, got %x", got)
	}
}

func TestBroadcaster_SendsHubMessage(t *testing.T) {
	src := &fakeSource{}
	src.set(7, 0x42)
	hub := &fakeHub{clients: 1}
	b := newTestBroadcaster(t, src, nil, hub)

	if !b.step() {
		t.Fatal("Expected frame to be sent to the hub")
	}
	if len(hub.messages) != 1 {
		t.Fatalf("Expected 1 hub message, got %d", len(hub.messages))
	}

	var msg LiveMessage
	if err := json.Unmarshal(hub.messages[0], &msg); err != nil {
		t.Fatalf("Invalid hub message: %v", err)
	}
	if msg.Camera != 1 || msg.Seq != 7 {
		t.Errorf("Unexpected message %+v", msg)
	}
	img, err := base64.StdEncoding.DecodeString(msg.Image)
	if err != nil || !bytes.Equal(img, []byte{0x42}) {
		t.Errorf("Unexpected image payload %q (%v)", msg.Image, err)
	}
}

func TestBroadcaster_RunClosesSubscribers(t *testing.T) {
	src := &fakeSource{}
	src.set(1, 0x10)
	b := newTestBroadcaster(t, src, nil, nil)
	_, ch := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	select {
	case data := <-ch:
		if data[0] != 0x10 {
			t.Errorf("Unexpected frame %x", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a frame")
	}

	cancel()
	<-done

	for range ch {
	}
	if b.ClientCount() != 0 {
		t.Errorf("Expected no clients after Run returned, got %d", b.ClientCount())
	}
}

func TestWriteMJPEG(t *testing.T) {
	frames := make(chan []byte, 2)
	frames <- []byte("one")
	frames <- []byte("two")
	close(frames)

	rec := httptest.NewRecorder()
	if err := WriteMJPEG(context.Background(), rec, frames, []byte("first")); err != nil {
		t.Fatalf("WriteMJPEG failed: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if n := strings.Count(body, "--frame\r\n"); n != 3 {
		t.Errorf("Expected 3 parts, got %d", n)
	}
	if !strings.Contains(body, "first") || !strings.Contains(body, "two") {
		t.Errorf("Missing frames in body %q", body)
	}
}

func TestBroadcaster_ServeHTTP(t *testing.T) {
	b := newTestBroadcaster(t, &fakeSource{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/video_feed", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP did not return after the client left")
	}
	if b.ClientCount() != 0 {
		t.Errorf("Expected client to be unsubscribed, got %d", b.ClientCount())
	}
}
