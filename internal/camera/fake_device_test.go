package camera

import (
	"errors"
	"sync"
	"testing"
	"time"

	"visionpharma/internal/logger"
	"visionpharma/internal/model"
)

const (
	testWidth    = 8
	testHeight   = 4
	testChannels = 3
)

var (
	errOffline   = errors.New("device offline")
	errUnplugged = errors.New("device unplugged")
)

type fakeHandle struct {
	id int
}

// fakeDevice emulates a camera whose behaviour tests flip at runtime. Every
// frame it returns is filled with a single byte value so torn frames are
// detectable.
type fakeDevice struct {
	mu        sync.Mutex
	offline   bool // Open fails
	failing   bool // Read fails
	corrupt   bool // Read returns a truncated frame
	pattern   byte
	frameTime time.Duration
	block     chan struct{} // when set, Read waits for it to close

	opens    int
	releases int
	live     map[int]bool
	maxLive  int
	nextID   int
	doubles  int // Release of an already released handle
	readErrs int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		pattern:   'A',
		frameTime: time.Millisecond,
		live:      make(map[int]bool),
	}
}

func (d *fakeDevice) Open(index int) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.offline {
		return nil, errOffline
	}
	d.opens++
	d.nextID++
	d.live[d.nextID] = true
	if len(d.live) > d.maxLive {
		d.maxLive = len(d.live)
	}
	return &fakeHandle{id: d.nextID}, nil
}

func (d *fakeDevice) Read(h Handle) (model.Frame, error) {
	d.mu.Lock()
	block := d.block
	d.mu.Unlock()
	if block != nil {
		<-block
	}

	time.Sleep(d.frameTime)

	d.mu.Lock()
	defer d.mu.Unlock()

	fh := h.(*fakeHandle)
	if !d.live[fh.id] {
		return model.Frame{}, errors.New("read on released handle")
	}
	if d.failing {
		d.readErrs++
		return model.Frame{}, errUnplugged
	}

	f := model.NewFrame(testWidth, testHeight, testChannels)
	for i := range f.Data {
		f.Data[i] = d.pattern
	}
	if d.corrupt {
		f.Data = f.Data[:len(f.Data)/2]
	}
	return f, nil
}

func (d *fakeDevice) Release(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fh := h.(*fakeHandle)
	if !d.live[fh.id] {
		d.doubles++
		return errors.New("handle already released")
	}
	delete(d.live, fh.id)
	d.releases++
	return nil
}

func (d *fakeDevice) set(fn func(d *fakeDevice)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

type deviceCounts struct {
	opens, releases, live, maxLive, doubles int
}

func (d *fakeDevice) counts() deviceCounts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return deviceCounts{
		opens:    d.opens,
		releases: d.releases,
		live:     len(d.live),
		maxLive:  d.maxLive,
		doubles:  d.doubles,
	}
}

func newTestStream(t *testing.T, d Device, opts Options) *Stream {
	t.Helper()
	if opts.Backoff == 0 {
		opts.Backoff = 5 * time.Millisecond
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 2 * time.Second
	}
	s := NewStream(d, opts, logger.NewNop())
	t.Cleanup(func() { s.Stop() })
	return s
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func framePattern(t *testing.T, f model.Frame) byte {
	t.Helper()
	if !f.Complete() {
		t.Fatalf("incomplete frame: %dx%dx%d with %d bytes", f.Width, f.Height, f.Channels, len(f.Data))
	}
	p := f.Data[0]
	for i, b := range f.Data {
		if b != p {
			t.Fatalf("torn frame: byte %d is %q, expected %q", i, b, p)
		}
	}
	return p
}
